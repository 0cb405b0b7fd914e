/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"mynewt.apache.org/csmgr/csmgr/bll"
)

type BllConfig struct {
	CtlrName string
	PeerName string
	PeerAddr string

	// Connection timeout, in seconds.
	ConnTimeout float64
}

func NewBllConfig() *BllConfig {
	return &BllConfig{
		ConnTimeout: 10.0,
	}
}

func einvalBllConnString(f string, args ...interface{}) error {
	return errors.Errorf("invalid BLE connstring; "+f, args...)
}

// ParseBllConnString parses a comma-separated key=value connection
// string, e.g. "peer_addr=0b:0a:0b:0a:0b:0a,conn_timeout=5".
func ParseBllConnString(cs string) (*BllConfig, error) {
	bc := NewBllConfig()

	if strings.TrimSpace(cs) == "" {
		return bc, nil
	}

	for _, p := range strings.Split(cs, ",") {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, einvalBllConnString("expected comma-separated "+
				"key=value pairs; no '=' in: %s", p)
		}

		k := kv[0]
		v := kv[1]

		switch k {
		case "ctlr_name":
			bc.CtlrName = v
		case "peer_name":
			bc.PeerName = v
		case "peer_addr":
			bc.PeerAddr = strings.ToLower(v)
		case "conn_timeout":
			var err error
			bc.ConnTimeout, err = cast.ToFloat64E(v)
			if err != nil {
				return nil, einvalBllConnString("invalid conn_timeout: %s",
					v)
			}

		default:
			return nil, einvalBllConnString("unrecognized key: %s", k)
		}
	}

	return bc, nil
}

// BuildRasClientCfg converts a parsed connstring into a RAS client
// configuration.
func BuildRasClientCfg(bc *BllConfig) (bll.RasClientCfg, error) {
	cc := bll.NewRasClientCfg()

	if bc.PeerName != "" {
		name := bc.PeerName
		cc.AdvFilter = func(a ble.Advertisement) bool {
			return a.LocalName() == name
		}
	} else if bc.PeerAddr != "" {
		addr := bc.PeerAddr
		cc.AdvFilter = func(a ble.Advertisement) bool {
			return strings.ToLower(a.Addr().String()) == addr
		}
	} else {
		return cc, errors.New("connstring lacks a peer specifier " +
			"(peer_name or peer_addr)")
	}

	cc.ConnTimeout = time.Duration(bc.ConnTimeout *
		float64(time.Second))

	return cc, nil
}
