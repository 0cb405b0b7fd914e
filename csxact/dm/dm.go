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

// Package dm orchestrates distance measurement between a local and a
// remote radio: channel sounding procedures with ranging data exchange,
// and an RSSI-based fallback.  All tracker and procedure state is owned
// by a single task queue; the public methods enqueue onto it and may be
// called from any goroutine.
package dm

import (
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/task"
	"mynewt.apache.org/csmgr/csxact/xport"
)

type Manager struct {
	q    task.TaskQueue
	clk  task.Clock
	ctlr xport.Controller
	cbs  xport.DistanceMeasurementCallbacks

	bridge *cshal.Bridge

	// All fields below are owned by the task queue.
	localCaps    *xport.Capabilities
	requesters   map[uint16]*csTracker
	responders   map[uint16]*csTracker
	rssiTrackers map[csdefs.BleAddr]*rssiTracker
}

func NewManager(ctlr xport.Controller, hal cshal.RangingHal,
	clk task.Clock) *Manager {

	m := &Manager{
		q:            task.NewTaskQueue("dm"),
		clk:          clk,
		ctlr:         ctlr,
		cbs:          nopCallbacks{},
		requesters:   map[uint16]*csTracker{},
		responders:   map[uint16]*csTracker{},
		rssiTrackers: map[csdefs.BleAddr]*rssiTracker{},
	}
	m.bridge = cshal.NewBridge(hal, &m.q, m)
	return m
}

func (m *Manager) SetCallbacks(cbs xport.DistanceMeasurementCallbacks) {
	if cbs == nil {
		cbs = nopCallbacks{}
	}
	m.cbs = cbs
}

// Start brings the manager up and issues the local capability read; CS
// measurements fail until that read completes.
func (m *Manager) Start() error {
	if err := m.q.Start(10); err != nil {
		return err
	}

	return m.q.Run(func() error {
		return m.ctlr.ReadLocalSupportedCapabilities()
	})
}

func (m *Manager) Stop() error {
	m.q.Run(func() error {
		for _, t := range m.requesters {
			t.enableAlarm.Cancel()
			t.rasAlarm.Cancel()
		}
		for _, t := range m.responders {
			t.enableAlarm.Cancel()
			t.rasAlarm.Cancel()
		}
		for _, t := range m.rssiTrackers {
			t.alarm.Cancel()
		}
		return nil
	})

	return m.q.Stop(task.InactiveError)
}

// StartMeasurement begins measuring distance to a peer.  AUTO selects
// channel sounding when the local controller supports it, otherwise the
// RSSI fallback.
func (m *Manager) StartMeasurement(addr csdefs.BleAddr, intervalMs int,
	method csdefs.Method) error {

	return m.q.Run(func() error {
		connHandle, err := m.ctlr.ConnHandle(addr)
		if err != nil {
			m.cbs.OnStopped(addr, csdefs.REASON_NO_LE_CONNECTION, method)
			return nil
		}

		switch method {
		case csdefs.METHOD_CS:
			return m.startCs(addr, connHandle, intervalMs)
		case csdefs.METHOD_RSSI:
			return m.startRssi(addr, connHandle, intervalMs)
		case csdefs.METHOD_AUTO:
			if m.localCaps != nil {
				return m.startCs(addr, connHandle, intervalMs)
			}
			return m.startRssi(addr, connHandle, intervalMs)
		}

		return nil
	})
}

func (m *Manager) StopMeasurement(addr csdefs.BleAddr,
	method csdefs.Method) error {

	return m.q.Run(func() error {
		if method == csdefs.METHOD_CS || method == csdefs.METHOD_AUTO {
			if t := m.requesterByAddr(addr); t != nil {
				m.stopCs(t)
			}
		}
		if method == csdefs.METHOD_RSSI || method == csdefs.METHOD_AUTO {
			m.stopRssi(addr, csdefs.REASON_LOCAL_REQUEST)
		}
		return nil
	})
}

// HandleDisconnect tears down all measurement state for a dropped
// connection.
func (m *Manager) HandleDisconnect(connHandle uint16) {
	m.enqueue("disconnect", func() error {
		if t := m.requesters[connHandle]; t != nil {
			m.failCs(t, csdefs.REASON_NO_LE_CONNECTION)
			delete(m.requesters, connHandle)
		}
		if t := m.responders[connHandle]; t != nil {
			m.failCs(t, csdefs.REASON_NO_LE_CONNECTION)
			delete(m.responders, connHandle)
		}
		if t := m.rssiTrackerByConn(connHandle); t != nil {
			m.stopRssi(t.addr, csdefs.REASON_NO_LE_CONNECTION)
		}

		m.bridge.CloseSession(connHandle)
		return nil
	})
}

// HandleConnIntervalUpdated records a connection interval change and
// forwards it to a v2 HAL once config negotiation is past.
func (m *Manager) HandleConnIntervalUpdated(connHandle uint16,
	itvl uint16) {

	m.enqueue("conn-interval", func() error {
		t := m.requesters[connHandle]
		if t == nil {
			return nil
		}

		t.connInterval = itvl

		past := csdefs.CS_TRACKER_STATE_WAIT_SECURITY |
			csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED |
			csdefs.CS_TRACKER_STATE_STARTED
		if t.state&past != 0 {
			m.bridge.UpdateConnInterval(connHandle, itvl)
		}
		return nil
	})
}

// HandleRasClientConnected reports that the peer's ranging service is
// discovered and subscribed.  Vendor characteristics read from the peer
// are handed to the HAL as part of session open.
func (m *Manager) HandleRasClientConnected(addr csdefs.BleAddr,
	connHandle uint16, attHandle uint16,
	vendorData []cshal.VendorSpecificCharacteristic) {

	m.enqueue("ras-client-connected", func() error {
		t := m.requesters[connHandle]
		if t == nil {
			log.Warnf("RAS connected with no requester; conn:%d",
				connHandle)
			return nil
		}

		t.rasConnected = true
		t.attHandle = attHandle
		if t.state == csdefs.CS_TRACKER_STATE_INIT {
			t.state = csdefs.CS_TRACKER_STATE_RAS_CONNECTED
		}

		if m.bridge.Bound() && !m.bridge.SessionOpen(connHandle) {
			m.bridge.OpenSession(connHandle, attHandle, vendorData)
		}
		return nil
	})
}

func (m *Manager) HandleRasClientDisconnected(addr csdefs.BleAddr) {
	m.enqueue("ras-client-disconnected", func() error {
		t := m.requesterByAddr(addr)
		if t == nil {
			return nil
		}

		t.rasConnected = false
		m.failCs(t, csdefs.REASON_NO_LE_CONNECTION)
		return nil
	})
}

// HandleRasServerConnected reports that the peer subscribed to the
// local ranging service; the responder side may now emit fragments.
func (m *Manager) HandleRasServerConnected(addr csdefs.BleAddr,
	connHandle uint16) {

	m.enqueue("ras-server-connected", func() error {
		t := m.responders[connHandle]
		if t == nil {
			t = m.newCsTracker(addr, connHandle, false,
				csdefs.CS_ROLE_REFLECTOR)
			m.responders[connHandle] = t
		}
		t.addr = addr
		t.rasConnected = true

		// Advertise the HAL's vendor characteristics to the newly
		// subscribed peer.
		if chrs := m.bridge.VendorSpecificCharacteristics(); len(chrs) > 0 {
			m.cbs.OnVendorSpecificCharacteristics(addr, chrs)
		}
		return nil
	})
}

func (m *Manager) HandleRasServerDisconnected(connHandle uint16) {
	m.enqueue("ras-server-disconnected", func() error {
		t := m.responders[connHandle]
		if t == nil {
			return nil
		}

		t.rasConnected = false
		m.failCs(t, csdefs.REASON_NO_LE_CONNECTION)
		return nil
	})
}

// HandleRemoteData delivers one received ranging data frame from the
// peer.
func (m *Manager) HandleRemoteData(addr csdefs.BleAddr, frame []byte) {
	// The transport owns the frame buffer; copy before crossing
	// goroutines.
	data := append([]byte(nil), frame...)
	m.enqueue("remote-data", func() error {
		m.handleRemoteData(addr, data)
		return nil
	})
}

// HandleRemoteDataReady delivers the peer's data-ready indication for a
// ranging counter.
func (m *Manager) HandleRemoteDataReady(addr csdefs.BleAddr,
	rangingCounter uint16) {

	m.enqueue("remote-data-ready", func() error {
		m.handleRemoteDataReady(addr, rangingCounter)
		return nil
	})
}

// HandleRemoteDataTimeout reports a transport-level wait expiry.
func (m *Manager) HandleRemoteDataTimeout(addr csdefs.BleAddr) {
	m.enqueue("remote-data-timeout", func() error {
		m.handleRemoteDataTimeout(addr)
		return nil
	})
}

// HandleVendorSpecificReply delivers the peer's vendor-specific
// handshake data to the HAL.
func (m *Manager) HandleVendorSpecificReply(connHandle uint16,
	reply []cshal.VendorSpecificCharacteristic) {

	m.enqueue("vendor-reply", func() error {
		m.bridge.HandleVendorSpecificReply(connHandle, reply)
		return nil
	})
}

// Controller event intake.  Transports call these from their own
// goroutines.

func (m *Manager) RxLocalCapabilities(ev *xport.LocalCapabilitiesEvent) {
	m.enqueue("local-caps", func() error {
		if ev.Status != csdefs.HCI_STATUS_SUCCESS {
			log.Errorf("local CS capability read failed; status:%d",
				ev.Status)
			return nil
		}
		caps := ev.Caps
		m.localCaps = &caps
		return nil
	})
}

func (m *Manager) RxRemoteCapabilities(ev *xport.RemoteCapabilitiesEvent) {
	m.enqueue("remote-caps", func() error {
		m.handleRemoteCapabilities(ev)
		return nil
	})
}

func (m *Manager) RxDefaultSettingsComplete(
	ev *xport.DefaultSettingsCompleteEvent) {

	m.enqueue("default-settings", func() error {
		m.handleDefaultSettingsComplete(ev)
		return nil
	})
}

func (m *Manager) RxConfigComplete(ev *xport.ConfigCompleteEvent) {
	m.enqueue("config-complete", func() error {
		m.handleConfigComplete(ev)
		return nil
	})
}

func (m *Manager) RxSecurityEnableComplete(
	ev *xport.SecurityEnableCompleteEvent) {

	m.enqueue("security-enable", func() error {
		m.handleSecurityEnableComplete(ev)
		return nil
	})
}

func (m *Manager) RxProcedureParamsComplete(
	ev *xport.ProcedureParamsCompleteEvent) {

	m.enqueue("procedure-params", func() error {
		m.handleProcedureParamsComplete(ev)
		return nil
	})
}

func (m *Manager) RxProcedureEnableComplete(
	ev *xport.ProcedureEnableCompleteEvent) {

	m.enqueue("procedure-enable", func() error {
		m.handleProcedureEnableComplete(ev)
		return nil
	})
}

func (m *Manager) RxSubeventResult(ev *xport.SubeventResultEvent) {
	m.enqueue("subevent-result", func() error {
		m.handleSubeventResult(ev)
		return nil
	})
}

func (m *Manager) RxSubeventResultContinue(
	ev *xport.SubeventResultContinueEvent) {

	m.enqueue("subevent-result-continue", func() error {
		m.handleSubeventResultContinue(ev)
		return nil
	})
}

func (m *Manager) RxTxPowerReport(ev *xport.TxPowerReportEvent) {
	m.enqueue("tx-power-report", func() error {
		m.handleTxPowerReport(ev)
		return nil
	})
}

func (m *Manager) RxTxPowerReportingEnableComplete(
	ev *xport.TxPowerReportingEnableCompleteEvent) {

	m.enqueue("tx-power-reporting-enable", func() error {
		m.handleTxPowerReportingEnableComplete(ev)
		return nil
	})
}

func (m *Manager) RxReadRssiComplete(ev *xport.ReadRssiCompleteEvent) {
	m.enqueue("read-rssi", func() error {
		m.handleReadRssiComplete(ev)
		return nil
	})
}

func (m *Manager) enqueue(what string, fn func() error) {
	m.q.Post(what, fn)
}

// cshal.SessionEventHandler implementation; the bridge has already
// moved these onto the task queue.

func (m *Manager) OnSessionOpened(connHandle uint16,
	reply []cshal.VendorSpecificCharacteristic) error {

	t := m.requesters[connHandle]
	if t == nil {
		return nil
	}

	if len(reply) > 0 {
		// The HAL answered the peer's vendor data; relay it back
		// before measurement proceeds.
		m.cbs.OnVendorSpecificReply(t.addr, reply)
	}
	return nil
}

func (m *Manager) OnSessionOpenFailed(connHandle uint16) error {
	if t := m.requesters[connHandle]; t != nil {
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
	}
	return nil
}

func (m *Manager) OnVendorSpecificReplyComplete(connHandle uint16,
	success bool) error {

	t := m.responders[connHandle]
	if t == nil {
		t = m.requesters[connHandle]
	}
	if t == nil {
		return nil
	}

	m.cbs.OnVendorSpecificReplyComplete(t.addr, success)
	return nil
}

func (m *Manager) OnRangingResult(connHandle uint16,
	result cshal.RangingResult) error {

	t := m.requesters[connHandle]
	if t == nil {
		return nil
	}

	m.cbs.OnResult(t.addr, result.Meters*100, result.Confidence,
		m.clk.Now().UnixNano()/int64(time.Millisecond),
		csdefs.METHOD_CS)
	return nil
}

// nopCallbacks lets the manager run before callbacks are registered.
type nopCallbacks struct{}

func (nopCallbacks) OnStarted(csdefs.BleAddr, csdefs.Method)              {}
func (nopCallbacks) OnStopped(csdefs.BleAddr, csdefs.Reason, csdefs.Method) {}
func (nopCallbacks) OnResult(csdefs.BleAddr, float64, int8, int64,
	csdefs.Method) {
}
func (nopCallbacks) OnRasFragmentReady(csdefs.BleAddr, uint16, bool, []byte) {}
func (nopCallbacks) OnVendorSpecificCharacteristics(csdefs.BleAddr,
	[]cshal.VendorSpecificCharacteristic) {
}
func (nopCallbacks) OnVendorSpecificReply(csdefs.BleAddr,
	[]cshal.VendorSpecificCharacteristic) {
}
func (nopCallbacks) OnVendorSpecificReplyComplete(csdefs.BleAddr, bool) {}
