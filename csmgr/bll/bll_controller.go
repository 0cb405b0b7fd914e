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
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/csxutil"
	"mynewt.apache.org/csmgr/csxact/dm"
	"mynewt.apache.org/csmgr/csxact/xport"
)

// The measurement manager identifies connections by handle; a GATT-only
// transport has exactly one.
const GattConnHandle uint16 = 1

// BllController adapts a RAS client into the controller collaborator of
// the measurement manager.  Only the telemetry subset is available over
// GATT: RSSI reads, and the peer's Tx Power service standing in for a
// transmit power report.  Channel sounding commands require an HCI
// transport and fail with a transport error.
type BllController struct {
	cln *RasClient
	mgr *dm.Manager
}

func NewBllController(cln *RasClient) *BllController {
	return &BllController{
		cln: cln,
	}
}

// SetManager wires the event destination; the manager is built after
// the controller, so this cannot happen at construction.
func (c *BllController) SetManager(mgr *dm.Manager) {
	c.mgr = mgr
}

func (c *BllController) unsupported(op string) error {
	return csxutil.FmtXportError(
		"%s not supported over a GATT-only transport", op)
}

func (c *BllController) ReadLocalSupportedCapabilities() error {
	// No local CS capabilities; the manager's RSSI fallback needs none.
	return c.unsupported("CS capability read")
}

func (c *BllController) ReadRemoteSupportedCapabilities(uint16) error {
	return c.unsupported("CS capability read")
}

func (c *BllController) SetDefaultSettings(uint16, uint8, uint8) error {
	return c.unsupported("CS default settings")
}

func (c *BllController) CreateConfig(uint16,
	*xport.CreateConfigParams) error {

	return c.unsupported("CS config creation")
}

func (c *BllController) SecurityEnable(uint16) error {
	return c.unsupported("CS security enable")
}

func (c *BllController) SetProcedureParameters(uint16,
	*xport.ProcedureParams) error {

	return c.unsupported("CS procedure parameters")
}

func (c *BllController) ProcedureEnable(uint16, uint8,
	csdefs.Enable) error {

	return c.unsupported("CS procedure enable")
}

func (c *BllController) ReadRemoteTransmitPowerLevel(
	connHandle uint16) error {

	if !c.cln.IsOpen() {
		return c.unsupported("tx power read on closed connection")
	}

	go func() {
		pwr, err := c.cln.ReadTxPower()

		status := csdefs.HCI_STATUS_SUCCESS
		if err != nil {
			status = csdefs.HCI_STATUS_COMMAND_DISALLOWED
		}

		c.mgr.RxTxPowerReport(&xport.TxPowerReportEvent{
			ConnHandle:   connHandle,
			Status:       status,
			Reason:       xport.TX_POWER_REPORT_READ_COMPLETE,
			TxPowerLevel: pwr,
		})
	}()

	return nil
}

func (c *BllController) SetTransmitPowerReportingEnable(connHandle uint16,
	remoteEnable bool) error {

	// GATT offers no power change reports; complete the enable as a
	// no-op so the measurement loop proceeds with the one-shot read.
	go func() {
		c.mgr.RxTxPowerReportingEnableComplete(
			&xport.TxPowerReportingEnableCompleteEvent{
				ConnHandle: connHandle,
				Status:     csdefs.HCI_STATUS_SUCCESS,
			})
	}()

	return nil
}

func (c *BllController) ReadRssi(connHandle uint16) error {
	if !c.cln.IsOpen() {
		return c.unsupported("RSSI read on closed connection")
	}

	go func() {
		rssi, err := c.cln.ReadRssi()

		status := csdefs.HCI_STATUS_SUCCESS
		if err != nil {
			status = csdefs.HCI_STATUS_COMMAND_DISALLOWED
		}

		c.mgr.RxReadRssiComplete(&xport.ReadRssiCompleteEvent{
			ConnHandle: connHandle,
			Status:     status,
			Rssi:       rssi,
		})
	}()

	return nil
}

func (c *BllController) ConnHandle(addr csdefs.BleAddr) (uint16, error) {
	if !c.cln.IsOpen() {
		return csdefs.CONN_HANDLE_NONE, csxutil.NewXportError(
			"no open connection")
	}

	return GattConnHandle, nil
}

func (c *BllController) LocalHciRole(uint16) (csdefs.HciRole, error) {
	// The client side always initiates the connection.
	return csdefs.HCI_ROLE_CENTRAL, nil
}
