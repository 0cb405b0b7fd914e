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

package cli

import (
	"fmt"

	"github.com/pkg/errors"

	"mynewt.apache.org/csmgr/csmgr/bll"
	"mynewt.apache.org/csmgr/csmgr/config"
)

var globalXport *bll.BllXport
var globalClient *bll.RasClient

// getConnString resolves the connection string: the --connstring flag
// wins; otherwise the named profile supplies it.
func getConnString() (string, error) {
	if ConnString != "" {
		return ConnString, nil
	}

	if ConnProfileName == "" {
		return "", errors.New("no connection profile specified " +
			"(-c) and no --connstring given")
	}

	cp, err := config.GlobalConnProfileMgr().GetConnProfile(
		ConnProfileName)
	if err != nil {
		return "", err
	}

	return cp.ConnString, nil
}

func getXport(bc *config.BllConfig) (*bll.BllXport, error) {
	if globalXport != nil {
		return globalXport, nil
	}

	cfg := bll.NewXportCfg()
	if bc.CtlrName != "" {
		cfg.CtlrName = bc.CtlrName
	} else if CtlrName != "" {
		cfg.CtlrName = CtlrName
	}

	globalXport = bll.NewBllXport(cfg)
	if err := globalXport.Start(); err != nil {
		globalXport = nil
		return nil, errors.WithStack(err)
	}

	return globalXport, nil
}

// GetRasClient connects to the configured peer's Ranging Service,
// opening the BLE transport first if necessary.
func GetRasClient() (*bll.RasClient, error) {
	if globalClient != nil {
		return globalClient, nil
	}

	cs, err := getConnString()
	if err != nil {
		return nil, err
	}

	bc, err := config.ParseBllConnString(cs)
	if err != nil {
		return nil, err
	}
	bc.ConnTimeout = Timeout

	if _, err := getXport(bc); err != nil {
		return nil, err
	}

	cc, err := config.BuildRasClientCfg(bc)
	if err != nil {
		return nil, err
	}

	c := bll.NewRasClient(cc)
	if err := c.Open(); err != nil {
		return nil, errors.WithStack(err)
	}

	globalClient = c
	return globalClient, nil
}

func GetRasClientIfOpen() (*bll.RasClient, error) {
	if globalClient == nil {
		return nil, fmt.Errorf("RAS client not initialized")
	}

	return globalClient, nil
}

func GetXportIfOpen() (*bll.BllXport, error) {
	if globalXport == nil {
		return nil, fmt.Errorf("xport not initialized")
	}

	return globalXport, nil
}
