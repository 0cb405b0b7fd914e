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

package bll

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"mynewt.apache.org/csmgr/csxact/csdefs"
)

// The 16-bit UUID of the Tx Power service and its level characteristic.
const txPowerSvcUuid = 0x1804
const txPowerLevelChrUuid = 0x2a07

type RasClientCfg struct {
	AdvFilter    ble.AdvFilter
	PreferredMtu uint16
	ConnTimeout  time.Duration
	ConnTries    int
	WriteRsp     bool
}

func NewRasClientCfg() RasClientCfg {
	return RasClientCfg{
		PreferredMtu: 512,
		ConnTimeout:  10 * time.Second,
		ConnTries:    3,
	}
}

// RasClient is a connection to a peer's Ranging Service.
type RasClient struct {
	cfg RasClientCfg

	// The native BLE client.  All accesses must be protected by the
	// mutex.
	cln    ble.Client
	mtx    sync.Mutex
	attMtu uint16

	realTimeChr  *ble.Characteristic
	onDemandChr  *ble.Characteristic
	ctrlPointChr *ble.Characteristic
	txPowerChr   *ble.Characteristic

	// Receives every ranging data notification frame.
	OnFrame func(frame []byte)

	// Fires once when the connection drops.
	OnDisconnect func()
}

func NewRasClient(cfg RasClientCfg) *RasClient {
	return &RasClient{
		cfg: cfg,
	}
}

func (c *RasClient) getCln() (ble.Client, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.cln == nil {
		return nil, fmt.Errorf("disconnected")
	}

	return c.cln, nil
}

func (c *RasClient) setCln(cln ble.Client) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.cln = cln
}

func (c *RasClient) listenDisconnect() {
	go func() {
		cln, err := c.getCln()
		if err != nil {
			return
		}

		<-cln.Disconnected()
		c.setCln(nil)

		if c.OnDisconnect != nil {
			c.OnDisconnect()
		}
	}()
}

func (c *RasClient) connect() error {
	log.Debugf("Connecting to peer")

	ctx := ble.WithSigHandler(context.WithTimeout(context.Background(),
		c.cfg.ConnTimeout))

	cln, err := ble.Connect(ctx, c.cfg.AdvFilter)
	if err != nil {
		if err == context.DeadlineExceeded {
			return fmt.Errorf("failed to connect to peer after %s",
				c.cfg.ConnTimeout.String())
		}
		return err
	}

	c.setCln(cln)
	c.listenDisconnect()

	return nil
}

func (c *RasClient) exchangeMtu() error {
	cln, err := c.getCln()
	if err != nil {
		return err
	}

	log.Debugf("Exchanging MTU")
	mtu, err := cln.ExchangeMTU(int(c.cfg.PreferredMtu))
	if err != nil {
		return err
	}

	log.Debugf("Exchanged MTU; ATT MTU = %d", mtu)
	c.attMtu = uint16(mtu)
	return nil
}

func findChr(profile *ble.Profile, svcUuid uint16,
	chrUuid uint16) *ble.Characteristic {

	for _, s := range profile.Services {
		if !s.UUID.Equal(ble.UUID16(svcUuid)) {
			continue
		}
		for _, chr := range s.Characteristics {
			if chr.UUID.Equal(ble.UUID16(chrUuid)) {
				return chr
			}
		}
	}

	return nil
}

func (c *RasClient) discover() error {
	cln, err := c.getCln()
	if err != nil {
		return err
	}

	log.Debugf("Discovering profile")
	p, err := cln.DiscoverProfile(true)
	if err != nil {
		return err
	}

	c.realTimeChr = findChr(p, csdefs.RasSvcUuid,
		csdefs.RasRealTimeDataChrUuid)
	c.onDemandChr = findChr(p, csdefs.RasSvcUuid,
		csdefs.RasOnDemandDataChrUuid)
	c.ctrlPointChr = findChr(p, csdefs.RasSvcUuid,
		csdefs.RasControlPointChrUuid)
	c.txPowerChr = findChr(p, txPowerSvcUuid, txPowerLevelChrUuid)

	if c.realTimeChr == nil && c.onDemandChr == nil {
		return fmt.Errorf("peer does not expose a ranging data " +
			"characteristic")
	}

	return nil
}

// Subscribes to whichever ranging data characteristics the peer
// exposes.
func (c *RasClient) subscribe() error {
	cln, err := c.getCln()
	if err != nil {
		return err
	}

	onNotify := func(data []byte) {
		if c.OnFrame != nil {
			// The notification buffer is reused by the stack.
			c.OnFrame(append([]byte(nil), data...))
		}
	}

	log.Debugf("Subscribing to ranging data characteristics")
	if c.realTimeChr != nil {
		if err := cln.Subscribe(c.realTimeChr, false, onNotify); err != nil {
			return err
		}
	}
	if c.onDemandChr != nil {
		if err := cln.Subscribe(c.onDemandChr, false, onNotify); err != nil {
			return err
		}
	}

	return nil
}

func (c *RasClient) openOnce() (bool, error) {
	if c.IsOpen() {
		return false, fmt.Errorf("attempt to open an already-open RAS " +
			"connection")
	}

	if err := c.connect(); err != nil {
		return false, err
	}

	if err := c.exchangeMtu(); err != nil {
		return true, err
	}

	if err := c.discover(); err != nil {
		return false, err
	}

	if err := c.subscribe(); err != nil {
		return false, err
	}

	return false, nil
}

func (c *RasClient) Open() error {
	var err error

	for i := 0; i < c.cfg.ConnTries; i++ {
		var retry bool

		retry, err = c.openOnce()
		if err != nil {
			c.Close()
		}

		if !retry {
			break
		}
	}

	return err
}

func (c *RasClient) Close() error {
	cln, err := c.getCln()
	if err != nil {
		return err
	}

	c.setCln(nil)
	return cln.CancelConnection()
}

func (c *RasClient) IsOpen() bool {
	cln, _ := c.getCln()
	return cln != nil
}

func (c *RasClient) AttMtu() uint16 {
	return c.attMtu
}

func (c *RasClient) PeerAddr() string {
	cln, err := c.getCln()
	if err != nil {
		return ""
	}
	return cln.Addr().String()
}

// ReadRssi reads the signal strength of the live connection.
func (c *RasClient) ReadRssi() (int8, error) {
	cln, err := c.getCln()
	if err != nil {
		return 0, err
	}

	return int8(cln.ReadRSSI()), nil
}

// ReadTxPower reads the peer's advertised transmit power from its Tx
// Power service.
func (c *RasClient) ReadTxPower() (int8, error) {
	cln, err := c.getCln()
	if err != nil {
		return 0, err
	}

	if c.txPowerChr == nil {
		return 0, fmt.Errorf("peer does not expose a Tx Power service")
	}

	b, err := cln.ReadCharacteristic(c.txPowerChr)
	if err != nil {
		return 0, err
	}
	if len(b) < 1 {
		return 0, fmt.Errorf("empty Tx Power Level read")
	}

	return int8(b[0]), nil
}

// WriteControlPoint writes a RAS-CP command, e.g. an on-demand data
// request or ack.
func (c *RasClient) WriteControlPoint(b []byte) error {
	cln, err := c.getCln()
	if err != nil {
		return err
	}

	if c.ctrlPointChr == nil {
		return fmt.Errorf("peer does not expose the RAS control point")
	}

	return cln.WriteCharacteristic(c.ctrlPointChr, b, !c.cfg.WriteRsp)
}
