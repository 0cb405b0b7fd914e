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

package dm

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/task"
	"mynewt.apache.org/csmgr/csxact/xport"
)

// rssiTracker drives the RSSI fallback measurement loop for one peer:
// a one-shot remote transmit power read, then periodic transmit power
// reporting, then periodic local RSSI reads combined with the latest
// known remote transmit power through a log-distance model.
type rssiTracker struct {
	addr       csdefs.BleAddr
	connHandle uint16
	intervalMs int

	remoteTxPower      int8
	remoteTxPowerValid bool
	started            bool
	alarm              *task.Alarm
}

// rssiDistanceMeters applies the fixed log-distance path loss model.
func rssiDistanceMeters(txPower int8, rssi int8) float64 {
	exp := (float64(txPower) - float64(rssi) -
		csdefs.RSSI_DROPOFF_AT_1M) / 20.0
	return math.Pow(10.0, exp)
}

func (m *Manager) startRssi(addr csdefs.BleAddr, connHandle uint16,
	intervalMs int) error {

	if t := m.rssiTrackers[addr]; t != nil {
		t.intervalMs = intervalMs
		return nil
	}

	t := &rssiTracker{
		addr:       addr,
		connHandle: connHandle,
		intervalMs: intervalMs,
		alarm:      task.NewAlarm(&m.q, m.clk),
	}
	m.rssiTrackers[addr] = t

	if err := m.ctlr.ReadRemoteTransmitPowerLevel(connHandle); err != nil {
		delete(m.rssiTrackers, addr)
		return err
	}
	return nil
}

func (m *Manager) stopRssi(addr csdefs.BleAddr, reason csdefs.Reason) {
	t := m.rssiTrackers[addr]
	if t == nil {
		return
	}

	t.alarm.Cancel()
	delete(m.rssiTrackers, addr)
	m.cbs.OnStopped(addr, reason, csdefs.METHOD_RSSI)
}

func (m *Manager) rssiTrackerByConn(connHandle uint16) *rssiTracker {
	for _, t := range m.rssiTrackers {
		if t.connHandle == connHandle {
			return t
		}
	}
	return nil
}

func (m *Manager) handleTxPowerReport(ev *xport.TxPowerReportEvent) {
	t := m.rssiTrackerByConn(ev.ConnHandle)
	if t == nil {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		log.Warnf("tx power report failed; conn:%d status:%d",
			ev.ConnHandle, ev.Status)
		m.stopRssi(t.addr, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	// Local power changes are irrelevant to the path loss model.
	if ev.Reason == xport.TX_POWER_REPORT_LOCAL_CHANGED {
		return
	}

	t.remoteTxPower = ev.TxPowerLevel
	t.remoteTxPowerValid = true

	if ev.Reason == xport.TX_POWER_REPORT_READ_COMPLETE && !t.started {
		if err := m.ctlr.SetTransmitPowerReportingEnable(
			ev.ConnHandle, true); err != nil {

			m.stopRssi(t.addr, csdefs.REASON_INTERNAL_ERROR)
		}
		return
	}

	if !t.started {
		m.rssiLoopStarted(t)
	}
}

func (m *Manager) handleTxPowerReportingEnableComplete(
	ev *xport.TxPowerReportingEnableCompleteEvent) {

	t := m.rssiTrackerByConn(ev.ConnHandle)
	if t == nil {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		m.stopRssi(t.addr, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	if !t.started {
		m.rssiLoopStarted(t)
	}
}

// rssiLoopStarted marks the tracker live and schedules the periodic
// RSSI reads.
func (m *Manager) rssiLoopStarted(t *rssiTracker) {
	t.started = true
	m.cbs.OnStarted(t.addr, csdefs.METHOD_RSSI)

	connHandle := t.connHandle
	addr := t.addr
	t.alarm.ScheduleRepeating(func() error {
		if err := m.ctlr.ReadRssi(connHandle); err != nil {
			m.stopRssi(addr, csdefs.REASON_INTERNAL_ERROR)
		}
		return nil
	}, time.Duration(t.intervalMs)*time.Millisecond)
}

func (m *Manager) handleReadRssiComplete(ev *xport.ReadRssiCompleteEvent) {
	t := m.rssiTrackerByConn(ev.ConnHandle)
	if t == nil {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		m.stopRssi(t.addr, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	if !t.remoteTxPowerValid {
		log.Warnf("remote tx power unavailable; conn:%d", ev.ConnHandle)
		return
	}

	meters := rssiDistanceMeters(t.remoteTxPower, ev.Rssi)
	m.cbs.OnResult(t.addr, meters*100,
		cshal.CONFIDENCE_UNAVAILABLE,
		m.clk.Now().UnixNano()/int64(time.Millisecond),
		csdefs.METHOD_RSSI)
}
