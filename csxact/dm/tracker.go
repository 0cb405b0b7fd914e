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
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/csproc"
	"mynewt.apache.org/csmgr/csxact/csxutil"
	"mynewt.apache.org/csmgr/csxact/ras"
	"mynewt.apache.org/csmgr/csxact/task"
	"mynewt.apache.org/csmgr/csxact/xport"
)

// csTracker supervises one direction of channel sounding on one
// connection: the requester tracker drives a measurement this side
// started; the responder tracker serves a measurement the peer started.
type csTracker struct {
	addr       csdefs.BleAddr
	connHandle uint16
	localStart bool
	role       csdefs.CsRole
	state      csdefs.CsTrackerState
	configId   uint8

	remoteCaps      xport.Capabilities
	remoteCapsValid bool

	mainModeType csdefs.CsMainModeType
	subModeType  csdefs.CsSubModeType
	rttType      csdefs.CsRttType
	channelMap   [10]byte
	connInterval uint16

	intervalMs        int
	maxProcedureCount uint16

	selectedTxPower   uint8
	toneAntennaConfig uint8
	numAntennaPaths   uint8

	waitingForStartCallback bool
	createConfigRetries     int
	stopPending             bool

	rasConnected bool
	attHandle    uint16

	ring        *csproc.Ring
	reassembler *ras.Reassembler
	enableAlarm *task.Alarm
	rasAlarm    *task.Alarm
}

func (m *Manager) newCsTracker(addr csdefs.BleAddr, connHandle uint16,
	localStart bool, role csdefs.CsRole) *csTracker {

	return &csTracker{
		addr:        addr,
		connHandle:  connHandle,
		localStart:  localStart,
		role:        role,
		state:       csdefs.CS_TRACKER_STATE_STOPPED,
		configId:    csdefs.CONFIG_ID_NONE,
		intervalMs:  csdefs.DFLT_INTERVAL_MS,
		ring:        csproc.NewRing(csdefs.PROC_DATA_RING_CAP),
		reassembler: ras.NewReassembler(),
		enableAlarm: task.NewAlarm(&m.q, m.clk),
		rasAlarm:    task.NewAlarm(&m.q, m.clk),
	}
}

// The requester states preceding config creation.  The RAS connection
// may come up at any point before the config step.
const preConfigStates = csdefs.CS_TRACKER_STATE_INIT |
	csdefs.CS_TRACKER_STATE_RAS_CONNECTED

// setInterval applies the requested measurement cadence.  Sub-second
// intervals are clamped up to one second with a proportionally larger
// procedure repeat count so the overall measurement rate is preserved.
func (t *csTracker) setInterval(intervalMs int) {
	if intervalMs < csdefs.DFLT_INTERVAL_MS {
		t.maxProcedureCount = uint16(csdefs.DFLT_INTERVAL_MS / intervalMs)
		t.intervalMs = csdefs.DFLT_INTERVAL_MS
	} else {
		t.maxProcedureCount = 1
		t.intervalMs = intervalMs
	}
}

// getFreeConfigId allocates a config id unused by either tracker on the
// connection.
func (m *Manager) getFreeConfigId(connHandle uint16) (uint8, error) {
	inUse := func(id uint8) bool {
		if t := m.requesters[connHandle]; t != nil && t.configId == id {
			return true
		}
		if t := m.responders[connHandle]; t != nil && t.configId == id {
			return true
		}
		return false
	}

	for id := csdefs.CONFIG_ID_MIN; id <= csdefs.CONFIG_ID_MAX; id++ {
		if !inUse(id) {
			return id, nil
		}
	}

	return csdefs.CONFIG_ID_NONE, csxutil.NewConfigIdsExhaustedError(
		"all CS config ids in use")
}

// getLiveTracker resolves an asynchronous completion to the tracker it
// belongs to.  The event's config id and the tracker's current state
// must both match; this protects against cross-talk when local and peer
// negotiate overlapping configs.
func (m *Manager) getLiveTracker(connHandle uint16, configId uint8,
	validReqStates csdefs.CsTrackerState,
	validRespStates csdefs.CsTrackerState) *csTracker {

	if t := m.requesters[connHandle]; t != nil &&
		t.configId == configId && t.state&validReqStates != 0 {
		return t
	}
	if t := m.responders[connHandle]; t != nil &&
		t.configId == configId && t.state&validRespStates != 0 {
		return t
	}
	return nil
}

// failCs resets a tracker to STOPPED and reports the failure exactly
// once.  The tracker object survives for a later start.
func (m *Manager) failCs(t *csTracker, reason csdefs.Reason) {
	notify := t.state != csdefs.CS_TRACKER_STATE_STOPPED

	t.enableAlarm.Cancel()
	t.rasAlarm.Cancel()
	t.reassembler.Reset()
	t.ring.Clear()
	t.configId = csdefs.CONFIG_ID_NONE
	t.state = csdefs.CS_TRACKER_STATE_STOPPED
	t.waitingForStartCallback = false
	t.createConfigRetries = 0
	t.stopPending = false

	if notify && t.localStart {
		m.cbs.OnStopped(t.addr, reason, csdefs.METHOD_CS)
	}
}

// startCs begins or resumes the requester handshake.
func (m *Manager) startCs(addr csdefs.BleAddr, connHandle uint16,
	intervalMs int) error {

	if m.localCaps == nil {
		// The local capability read has not completed yet.
		m.cbs.OnStopped(addr, csdefs.REASON_INTERNAL_ERROR,
			csdefs.METHOD_CS)
		return nil
	}

	t := m.requesters[connHandle]
	if t == nil {
		t = m.newCsTracker(addr, connHandle, true,
			csdefs.CS_ROLE_INITIATOR)
		m.requesters[connHandle] = t
	}

	if t.state == csdefs.CS_TRACKER_STATE_STARTED {
		return csxutil.NewAlreadyError("measurement already started")
	}

	t.localStart = true
	t.waitingForStartCallback = true
	t.setInterval(intervalMs)
	t.state = csdefs.CS_TRACKER_STATE_INIT
	if t.rasConnected {
		t.state = csdefs.CS_TRACKER_STATE_RAS_CONNECTED
	}

	if !t.remoteCapsValid {
		if err := m.ctlr.ReadRemoteSupportedCapabilities(
			connHandle); err != nil {

			m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
			return nil
		}
		return nil
	}

	return m.sendDefaultSettings(t)
}

func (m *Manager) sendDefaultSettings(t *csTracker) error {
	// Enable both roles so the peer may negotiate its own measurement.
	if err := m.ctlr.SetDefaultSettings(t.connHandle, 0x03,
		csdefs.CS_MAX_TX_POWER); err != nil {

		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
	}
	return nil
}

func (m *Manager) handleRemoteCapabilities(
	ev *xport.RemoteCapabilitiesEvent) {

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		if t := m.requesters[ev.ConnHandle]; t != nil && t.localStart {
			m.failCs(t, csdefs.REASON_FEATURE_UNSUPPORTED_REMOTE)
		}
		return
	}

	for _, t := range []*csTracker{
		m.requesters[ev.ConnHandle], m.responders[ev.ConnHandle],
	} {
		if t != nil {
			t.remoteCaps = ev.Caps
			t.remoteCapsValid = true
		}
	}

	t := m.requesters[ev.ConnHandle]
	if t != nil && t.localStart && t.state&preConfigStates != 0 {
		m.sendDefaultSettings(t)
	}
}

func (m *Manager) handleDefaultSettingsComplete(
	ev *xport.DefaultSettingsCompleteEvent) {

	t := m.requesters[ev.ConnHandle]
	if t == nil || !t.localStart || t.state&preConfigStates == 0 {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	m.sendCreateConfig(t)
}

func (m *Manager) sendCreateConfig(t *csTracker) {
	if t.configId == csdefs.CONFIG_ID_NONE {
		id, err := m.getFreeConfigId(t.connHandle)
		if err != nil {
			log.Errorf("conn:%d %s", t.connHandle, err.Error())
			m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
			return
		}
		t.configId = id
	}

	// Sub-second cadences visit only half the channels per procedure.
	channelMap := csdefs.CsChannelMapFull
	if t.intervalMs <= csdefs.DFLT_INTERVAL_MS {
		channelMap = csdefs.CsChannelMapHalf
	}

	rttType := csdefs.CS_RTT_AA_ONLY
	if m.localCaps.RttSoundingSupported &&
		t.remoteCaps.RttSoundingSupported {
		rttType = csdefs.CS_RTT_32_BIT_SOUNDING_SEQ
	}

	params := &xport.CreateConfigParams{
		ConfigId:             t.configId,
		CreateContext:        0x01, // also create on the remote side
		MainModeType:         csdefs.CS_MAIN_MODE_2,
		SubModeType:          csdefs.CS_SUB_MODE_UNUSED,
		MinMainModeSteps:     csdefs.CS_MIN_MAIN_MODE_STEPS,
		MaxMainModeSteps:     csdefs.CS_MAX_MAIN_MODE_STEPS,
		MainModeRepetition:   csdefs.CS_MAIN_MODE_REPETITION,
		Mode0Steps:           csdefs.CS_MODE_0_STEPS,
		Role:                 csdefs.CS_ROLE_INITIATOR,
		RttType:              rttType,
		ChannelMap:           channelMap,
		ChannelMapRepetition: csdefs.CS_CHANNEL_MAP_REPETITION,
		Ch3cJump:             csdefs.CS_CH3C_JUMP,
	}

	t.state = csdefs.CS_TRACKER_STATE_WAIT_CONFIG
	if err := m.ctlr.CreateConfig(t.connHandle, params); err != nil {
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
	}
}

func (m *Manager) handleConfigComplete(ev *xport.ConfigCompleteEvent) {
	if ev.Action == csdefs.CS_ACTION_CONFIG_REMOVED {
		m.handleConfigRemoved(ev)
		return
	}

	// Local creation in flight?
	req := m.requesters[ev.ConnHandle]
	if req != nil && req.configId == ev.ConfigId &&
		req.state == csdefs.CS_TRACKER_STATE_WAIT_CONFIG {

		m.handleRequesterConfigComplete(req, ev)
		return
	}

	// Peer-initiated config.
	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		return
	}
	m.handleResponderConfigCreated(ev)
}

func (m *Manager) handleConfigRemoved(ev *xport.ConfigCompleteEvent) {
	for _, t := range []*csTracker{
		m.requesters[ev.ConnHandle], m.responders[ev.ConnHandle],
	} {
		if t == nil || t.configId != ev.ConfigId {
			continue
		}

		t.configId = csdefs.CONFIG_ID_NONE
		if t.state != csdefs.CS_TRACKER_STATE_STOPPED {
			m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		}
	}
}

func (m *Manager) handleRequesterConfigComplete(t *csTracker,
	ev *xport.ConfigCompleteEvent) {

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		// The peer may not have finished its own default settings
		// step yet; the controller reports that as a failure here.
		if t.createConfigRetries < csdefs.CREATE_CONFIG_MAX_RETRIES {
			t.createConfigRetries++
			log.Warnf("CS config create failed; retry %d conn:%d",
				t.createConfigRetries, t.connHandle)
			m.sendCreateConfig(t)
			return
		}
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	t.createConfigRetries = 0
	t.mainModeType = ev.MainModeType
	t.subModeType = ev.SubModeType
	t.rttType = ev.RttType
	t.channelMap = ev.ChannelMap

	m.bridge.UpdateChannelSoundingConfig(t.connHandle,
		&cshal.ChannelSoundingConfig{
			ConfigId:              t.configId,
			Role:                  t.role,
			MainModeType:          t.mainModeType,
			SubModeType:           t.subModeType,
			RttType:               t.rttType,
			ChannelMap:            t.channelMap,
			LocalSupportedSwTime:  m.localCaps.SwTime,
			RemoteSupportedSwTime: t.remoteCaps.SwTime,
			ConnInterval:          t.connInterval,
		})

	t.state = csdefs.CS_TRACKER_STATE_WAIT_SECURITY

	// Security enable is issued by the central side only; the
	// peripheral learns of it through the same completion event.
	hciRole, err := m.ctlr.LocalHciRole(t.connHandle)
	if err != nil {
		m.failCs(t, csdefs.REASON_NO_LE_CONNECTION)
		return
	}
	if hciRole == csdefs.HCI_ROLE_CENTRAL {
		if err := m.ctlr.SecurityEnable(t.connHandle); err != nil {
			m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		}
	}
}

func (m *Manager) handleResponderConfigCreated(
	ev *xport.ConfigCompleteEvent) {

	// A peer negotiating a config id our requester holds, outside the
	// requester's own creation step, is a conflict; the local side
	// yields.
	req := m.requesters[ev.ConnHandle]
	if req != nil && req.configId == ev.ConfigId &&
		req.state != csdefs.CS_TRACKER_STATE_STOPPED {

		log.Warnf("CS config conflict; conn:%d config:%d stopping local",
			ev.ConnHandle, ev.ConfigId)
		m.failCs(req, csdefs.REASON_REMOTE_REQUEST)
	}

	t := m.responders[ev.ConnHandle]
	if t == nil {
		addr := csdefs.BleAddr{}
		if req != nil {
			addr = req.addr
		}
		t = m.newCsTracker(addr, ev.ConnHandle, false, ev.Role)
		m.responders[ev.ConnHandle] = t
	}

	t.configId = ev.ConfigId
	t.role = ev.Role
	t.mainModeType = ev.MainModeType
	t.subModeType = ev.SubModeType
	t.rttType = ev.RttType
	t.channelMap = ev.ChannelMap
	t.state = csdefs.CS_TRACKER_STATE_WAIT_SECURITY
}

func (m *Manager) handleSecurityEnableComplete(
	ev *xport.SecurityEnableCompleteEvent) {

	// Security is per connection, not per config; advance both sides.
	if resp := m.responders[ev.ConnHandle]; resp != nil &&
		resp.state == csdefs.CS_TRACKER_STATE_WAIT_SECURITY {

		if ev.Status == csdefs.HCI_STATUS_SUCCESS {
			resp.state = csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED
		} else {
			m.failCs(resp, csdefs.REASON_INTERNAL_ERROR)
		}
	}

	req := m.requesters[ev.ConnHandle]
	if req == nil || !req.localStart ||
		req.state != csdefs.CS_TRACKER_STATE_WAIT_SECURITY {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		m.failCs(req, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	m.sendProcedureParams(req)
}

func (m *Manager) sendProcedureParams(t *csTracker) {
	toneCfg, preferredPeer := selectToneAntennaConfig(
		m.localCaps.NumAntennas, t.remoteCaps.NumAntennas)
	t.toneAntennaConfig = toneCfg

	params := &xport.ProcedureParams{
		ConfigId:                   t.configId,
		MaxProcedureLen:            csdefs.CS_MAX_PROCEDURE_LEN,
		MinProcedureInterval:       csdefs.CS_MIN_PROCEDURE_INTERVAL,
		MaxProcedureInterval:       csdefs.CS_MAX_PROCEDURE_INTERVAL,
		MaxProcedureCount:          t.maxProcedureCount,
		MinSubeventLen:             csdefs.CS_MIN_SUBEVENT_LEN,
		MaxSubeventLen:             csdefs.CS_MAX_SUBEVENT_LEN,
		ToneAntennaConfigSelection: toneCfg,
		TxPwrDelta:                 csdefs.CS_TX_PWR_DELTA,
		PreferredPeerAntenna:       preferredPeer,
	}

	if err := m.ctlr.SetProcedureParameters(t.connHandle, params); err != nil {
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
	}
}

func (m *Manager) handleProcedureParamsComplete(
	ev *xport.ProcedureParamsCompleteEvent) {

	t := m.getLiveTracker(ev.ConnHandle, ev.ConfigId,
		csdefs.CS_TRACKER_STATE_WAIT_SECURITY,
		csdefs.CS_TRACKER_STATE_UNSPECIFIED)
	if t == nil {
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	t.state = csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED
	if err := m.ctlr.ProcedureEnable(t.connHandle, t.configId,
		csdefs.ENABLED); err != nil {

		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
	}
}

func (m *Manager) handleProcedureEnableComplete(
	ev *xport.ProcedureEnableCompleteEvent) {

	t := m.getLiveTracker(ev.ConnHandle, ev.ConfigId,
		csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED|
			csdefs.CS_TRACKER_STATE_STARTED,
		csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED|
			csdefs.CS_TRACKER_STATE_STARTED)
	if t == nil {
		log.Warnf("procedure enable for unknown tracker; conn:%d config:%d",
			ev.ConnHandle, ev.ConfigId)
		return
	}

	if ev.Status != csdefs.HCI_STATUS_SUCCESS {
		// The radio may refuse a disable once it has already finished
		// its scheduled repeats; the local stop still completes.
		if t.stopPending {
			m.failCs(t, csdefs.REASON_LOCAL_REQUEST)
			return
		}
		// A re-enable racing an already-enabled procedure is benign.
		if ev.Status == csdefs.HCI_STATUS_COMMAND_DISALLOWED &&
			t.state == csdefs.CS_TRACKER_STATE_STARTED {
			return
		}
		m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
		return
	}

	switch ev.State {
	case csdefs.ENABLED:
		t.state = csdefs.CS_TRACKER_STATE_STARTED
		t.selectedTxPower = ev.SelectedTxPower
		t.toneAntennaConfig = ev.ToneAntennaConfig

		m.bridge.UpdateProcedureEnableConfig(t.connHandle,
			&cshal.ProcedureEnableConfig{
				ConfigId:          ev.ConfigId,
				State:             ev.State,
				ToneAntennaConfig: ev.ToneAntennaConfig,
				SelectedTxPower:   ev.SelectedTxPower,
				SubeventLen:       ev.SubeventLen,
				SubeventsPerEvent: ev.SubeventsPerEvent,
				SubeventInterval:  ev.SubeventInterval,
				EventInterval:     ev.EventInterval,
				ProcedureInterval: ev.ProcedureInterval,
				ProcedureCount:    ev.ProcedureCount,
			})

		if t.waitingForStartCallback {
			t.waitingForStartCallback = false
			m.cbs.OnStarted(t.addr, csdefs.METHOD_CS)
		}

		if t.localStart {
			m.scheduleReEnable(t)
		}

	case csdefs.DISABLED:
		t.ring.Clear()
		t.reassembler.Reset()

		if t.stopPending {
			t.stopPending = false
			m.failCs(t, csdefs.REASON_LOCAL_REQUEST)
		}
	}
}

// scheduleReEnable keeps the measurement continuous by re-issuing the
// enable step every interval.
func (m *Manager) scheduleReEnable(t *csTracker) {
	connHandle := t.connHandle
	configId := t.configId
	t.enableAlarm.ScheduleRepeating(func() error {
		cur := m.requesters[connHandle]
		if cur == nil || cur.state != csdefs.CS_TRACKER_STATE_STARTED ||
			cur.configId != configId {
			return nil
		}
		if err := m.ctlr.ProcedureEnable(connHandle, configId,
			csdefs.ENABLED); err != nil {

			m.failCs(cur, csdefs.REASON_INTERNAL_ERROR)
		}
		return nil
	}, time.Duration(t.intervalMs)*time.Millisecond)
}

// stopCs stops a locally started measurement.
func (m *Manager) stopCs(t *csTracker) {
	if t.state == csdefs.CS_TRACKER_STATE_STARTED {
		t.enableAlarm.Cancel()
		t.stopPending = true
		if err := m.ctlr.ProcedureEnable(t.connHandle, t.configId,
			csdefs.DISABLED); err != nil {

			m.failCs(t, csdefs.REASON_LOCAL_REQUEST)
		}
		return
	}

	m.failCs(t, csdefs.REASON_LOCAL_REQUEST)
}
