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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/cstone"
	"mynewt.apache.org/csmgr/csxact/ras"
	"mynewt.apache.org/csmgr/csxact/task"
	"mynewt.apache.org/csmgr/csxact/xport"
)

const testConnHandle = 7

var testAddr = csdefs.BleAddr{
	Bytes: [6]byte{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f},
}

type fakeController struct {
	mtx sync.Mutex

	hciRole csdefs.HciRole
	fail    map[string]error

	calls            map[string]int
	lastCreateConfig *xport.CreateConfigParams
	lastProcParams   *xport.ProcedureParams
	lastEnable       csdefs.Enable
}

func newFakeController() *fakeController {
	return &fakeController{
		hciRole: csdefs.HCI_ROLE_CENTRAL,
		fail:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (c *fakeController) record(name string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.calls[name]++
	return c.fail[name]
}

func (c *fakeController) count(name string) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.calls[name]
}

func (c *fakeController) ReadLocalSupportedCapabilities() error {
	return c.record("read-local-caps")
}

func (c *fakeController) ReadRemoteSupportedCapabilities(uint16) error {
	return c.record("read-remote-caps")
}

func (c *fakeController) SetDefaultSettings(uint16, uint8, uint8) error {
	return c.record("default-settings")
}

func (c *fakeController) CreateConfig(connHandle uint16,
	params *xport.CreateConfigParams) error {

	err := c.record("create-config")

	c.mtx.Lock()
	p := *params
	c.lastCreateConfig = &p
	c.mtx.Unlock()

	return err
}

func (c *fakeController) SecurityEnable(uint16) error {
	return c.record("security-enable")
}

func (c *fakeController) SetProcedureParameters(connHandle uint16,
	params *xport.ProcedureParams) error {

	err := c.record("procedure-params")

	c.mtx.Lock()
	p := *params
	c.lastProcParams = &p
	c.mtx.Unlock()

	return err
}

func (c *fakeController) ProcedureEnable(connHandle uint16, configId uint8,
	enable csdefs.Enable) error {

	err := c.record("procedure-enable")

	c.mtx.Lock()
	c.lastEnable = enable
	c.mtx.Unlock()

	return err
}

func (c *fakeController) ReadRemoteTransmitPowerLevel(uint16) error {
	return c.record("read-remote-tx-power")
}

func (c *fakeController) SetTransmitPowerReportingEnable(uint16, bool) error {
	return c.record("tx-power-reporting-enable")
}

func (c *fakeController) ReadRssi(uint16) error {
	return c.record("read-rssi")
}

func (c *fakeController) ConnHandle(addr csdefs.BleAddr) (uint16, error) {
	return testConnHandle, nil
}

func (c *fakeController) LocalHciRole(uint16) (csdefs.HciRole, error) {
	return c.hciRole, nil
}

type fakeHal struct {
	mtx sync.Mutex

	bound      bool
	version    cshal.HalVersion
	cb         cshal.RangingHalCallback
	vendorChrs []cshal.VendorSpecificCharacteristic

	opens      int
	rawWrites  []*cshal.RawData
	procWrites []*cshal.ProcedureDataV2
}

func (h *fakeHal) Bound() bool                 { return h.bound }
func (h *fakeHal) Version() cshal.HalVersion   { return h.version }
func (h *fakeHal) SetCallback(cb cshal.RangingHalCallback) { h.cb = cb }

func (h *fakeHal) VendorSpecificCharacteristics() []cshal.VendorSpecificCharacteristic {
	return h.vendorChrs
}

func (h *fakeHal) OpenSession(connHandle uint16, attHandle uint16,
	vendorData []cshal.VendorSpecificCharacteristic) {

	h.mtx.Lock()
	h.opens++
	h.mtx.Unlock()

	h.cb.OnOpened(connHandle, nil)
}

func (h *fakeHal) HandleVendorSpecificReply(uint16,
	[]cshal.VendorSpecificCharacteristic) {
}

func (h *fakeHal) WriteRawData(connHandle uint16, data *cshal.RawData) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.rawWrites = append(h.rawWrites, data)
}

func (h *fakeHal) WriteProcedureData(connHandle uint16,
	localRole csdefs.CsRole, data *cshal.ProcedureDataV2, counter uint16) {

	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.procWrites = append(h.procWrites, data)
}

func (h *fakeHal) UpdateChannelSoundingConfig(uint16,
	*cshal.ChannelSoundingConfig) {
}
func (h *fakeHal) UpdateConnInterval(uint16, uint16)                  {}
func (h *fakeHal) UpdateProcedureEnableConfig(uint16, *cshal.ProcedureEnableConfig) {}

func (h *fakeHal) numProcWrites() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return len(h.procWrites)
}

type cbResult struct {
	addr        csdefs.BleAddr
	centimeters float64
	confidence  int8
	method      csdefs.Method
}

type cbRecorder struct {
	mtx sync.Mutex

	started    []csdefs.Method
	stopped    []csdefs.Reason
	results    []cbResult
	fragments  [][]byte
	vendorChrs []cshal.VendorSpecificCharacteristic
}

func (r *cbRecorder) OnStarted(addr csdefs.BleAddr, method csdefs.Method) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.started = append(r.started, method)
}

func (r *cbRecorder) OnStopped(addr csdefs.BleAddr, reason csdefs.Reason,
	method csdefs.Method) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.stopped = append(r.stopped, reason)
}

func (r *cbRecorder) OnResult(addr csdefs.BleAddr, centimeters float64,
	confidence int8, timestampMs int64, method csdefs.Method) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.results = append(r.results, cbResult{
		addr:        addr,
		centimeters: centimeters,
		confidence:  confidence,
		method:      method,
	})
}

func (r *cbRecorder) OnRasFragmentReady(addr csdefs.BleAddr, counter uint16,
	last bool, frame []byte) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.fragments = append(r.fragments, frame)
}

func (r *cbRecorder) OnVendorSpecificCharacteristics(addr csdefs.BleAddr,
	chrs []cshal.VendorSpecificCharacteristic) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.vendorChrs = append(r.vendorChrs, chrs...)
}
func (r *cbRecorder) OnVendorSpecificReply(csdefs.BleAddr,
	[]cshal.VendorSpecificCharacteristic) {
}
func (r *cbRecorder) OnVendorSpecificReplyComplete(csdefs.BleAddr, bool) {}

func (r *cbRecorder) numStarted() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.started)
}

func (r *cbRecorder) lastStopped() (csdefs.Reason, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(r.stopped) == 0 {
		return 0, false
	}
	return r.stopped[len(r.stopped)-1], true
}

func (r *cbRecorder) lastResult() (cbResult, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(r.results) == 0 {
		return cbResult{}, false
	}
	return r.results[len(r.results)-1], true
}

type harness struct {
	m    *Manager
	ctlr *fakeController
	hal  *fakeHal
	cbs  *cbRecorder
	clk  *task.FakeClock
}

func newHarness(t *testing.T, version cshal.HalVersion) *harness {
	h := &harness{
		ctlr: newFakeController(),
		hal:  &fakeHal{bound: true, version: version},
		cbs:  &cbRecorder{},
		clk:  task.NewFakeClock(),
	}
	h.m = NewManager(h.ctlr, h.hal, h.clk)
	h.m.SetCallbacks(h.cbs)

	require.NoError(t, h.m.Start())
	t.Cleanup(func() { h.m.Stop() })

	h.m.RxLocalCapabilities(&xport.LocalCapabilitiesEvent{
		Status: csdefs.HCI_STATUS_SUCCESS,
		Caps:   testCaps(),
	})
	h.sync()

	return h
}

// sync waits for all previously enqueued jobs to run.
func (h *harness) sync() {
	h.m.q.Run(func() error { return nil })
}

func testCaps() xport.Capabilities {
	return xport.Capabilities{
		NumAntennas:        1,
		MaxAntennaPaths:    4,
		InitiatorSupported: true,
		ReflectorSupported: true,
	}
}

// driveToStarted walks the requester handshake to the STARTED state.
func (h *harness) driveToStarted(t *testing.T, intervalMs int) {
	require.NoError(t, h.m.StartMeasurement(testAddr, intervalMs,
		csdefs.METHOD_CS))

	h.m.RxRemoteCapabilities(&xport.RemoteCapabilitiesEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Caps:       testCaps(),
	})
	h.m.RxDefaultSettingsComplete(&xport.DefaultSettingsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle:   testConnHandle,
		Status:       csdefs.HCI_STATUS_SUCCESS,
		ConfigId:     0,
		Action:       csdefs.CS_ACTION_CONFIG_CREATED,
		MainModeType: csdefs.CS_MAIN_MODE_2,
		SubModeType:  csdefs.CS_SUB_MODE_UNUSED,
		RttType:      csdefs.CS_RTT_AA_ONLY,
		Role:         csdefs.CS_ROLE_INITIATOR,
		ChannelMap:   csdefs.CsChannelMapHalf,
	})
	h.m.RxSecurityEnableComplete(&xport.SecurityEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.m.RxProcedureParamsComplete(&xport.ProcedureParamsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   0,
	})
	h.m.RxProcedureEnableComplete(&xport.ProcedureEnableCompleteEvent{
		ConnHandle:      testConnHandle,
		Status:          csdefs.HCI_STATUS_SUCCESS,
		ConfigId:        0,
		State:           csdefs.ENABLED,
		SelectedTxPower: 4,
	})
	h.sync()
}

func (h *harness) requester() *csTracker {
	var t *csTracker
	h.m.q.Run(func() error {
		t = h.m.requesters[testConnHandle]
		return nil
	})
	return t
}

func TestSetIntervalClamp(t *testing.T) {
	tr := &csTracker{}

	tr.setInterval(500)
	assert.Equal(t, 1000, tr.intervalMs)
	assert.Equal(t, uint16(2), tr.maxProcedureCount)

	tr.setInterval(250)
	assert.Equal(t, 1000, tr.intervalMs)
	assert.Equal(t, uint16(4), tr.maxProcedureCount)

	tr.setInterval(3000)
	assert.Equal(t, 3000, tr.intervalMs)
	assert.Equal(t, uint16(1), tr.maxProcedureCount)
}

func TestCsHandshake(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	require.NoError(t, h.m.StartMeasurement(testAddr, 500, csdefs.METHOD_CS))
	assert.Equal(t, 1, h.ctlr.count("read-remote-caps"))

	h.m.RxRemoteCapabilities(&xport.RemoteCapabilitiesEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Caps:       testCaps(),
	})
	h.sync()
	assert.Equal(t, 1, h.ctlr.count("default-settings"))

	h.m.RxDefaultSettingsComplete(&xport.DefaultSettingsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.sync()
	require.Equal(t, 1, h.ctlr.count("create-config"))

	// Sub-second cadence halves the channel map.
	assert.Equal(t, csdefs.CsChannelMapHalf, h.ctlr.lastCreateConfig.ChannelMap)
	assert.Equal(t, uint8(0), h.ctlr.lastCreateConfig.ConfigId)

	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle:   testConnHandle,
		Status:       csdefs.HCI_STATUS_SUCCESS,
		ConfigId:     0,
		Action:       csdefs.CS_ACTION_CONFIG_CREATED,
		MainModeType: csdefs.CS_MAIN_MODE_2,
		RttType:      csdefs.CS_RTT_AA_ONLY,
		Role:         csdefs.CS_ROLE_INITIATOR,
		ChannelMap:   csdefs.CsChannelMapHalf,
	})
	h.sync()

	// The central issues the security step.
	assert.Equal(t, 1, h.ctlr.count("security-enable"))

	h.m.RxSecurityEnableComplete(&xport.SecurityEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.sync()
	require.Equal(t, 1, h.ctlr.count("procedure-params"))

	// 500 ms cadence clamps to 1000 ms with two procedures per enable.
	assert.Equal(t, uint16(2), h.ctlr.lastProcParams.MaxProcedureCount)

	h.m.RxProcedureParamsComplete(&xport.ProcedureParamsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   0,
	})
	h.sync()
	assert.Equal(t, 1, h.ctlr.count("procedure-enable"))
	assert.Equal(t, csdefs.ENABLED, h.ctlr.lastEnable)

	assert.Equal(t, 0, h.cbs.numStarted())

	h.m.RxProcedureEnableComplete(&xport.ProcedureEnableCompleteEvent{
		ConnHandle:      testConnHandle,
		Status:          csdefs.HCI_STATUS_SUCCESS,
		ConfigId:        0,
		State:           csdefs.ENABLED,
		SelectedTxPower: 4,
	})
	h.sync()

	assert.Equal(t, 1, h.cbs.numStarted())
	assert.Equal(t, csdefs.CS_TRACKER_STATE_STARTED, h.requester().state)
	assert.Equal(t, uint8(4), h.requester().selectedTxPower)

	// The measurement re-arms itself every interval.
	h.clk.Advance(1000 * time.Millisecond)
	h.sync()
	assert.Equal(t, 2, h.ctlr.count("procedure-enable"))
}

func TestCreateConfigRetry(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	require.NoError(t, h.m.StartMeasurement(testAddr, 1000, csdefs.METHOD_CS))
	h.m.RxRemoteCapabilities(&xport.RemoteCapabilitiesEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Caps:       testCaps(),
	})
	h.m.RxDefaultSettingsComplete(&xport.DefaultSettingsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.sync()
	require.Equal(t, 1, h.ctlr.count("create-config"))

	// Each failure triggers a retry, up to the limit.
	for i := 0; i < csdefs.CREATE_CONFIG_MAX_RETRIES; i++ {
		h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
			ConnHandle: testConnHandle,
			Status:     csdefs.HCI_STATUS_COMMAND_DISALLOWED,
			ConfigId:   0,
			Action:     csdefs.CS_ACTION_CONFIG_CREATED,
		})
		h.sync()
		assert.Equal(t, 2+i, h.ctlr.count("create-config"))
	}

	_, stopped := h.cbs.lastStopped()
	assert.False(t, stopped)

	// One more failure exhausts the retries.
	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_COMMAND_DISALLOWED,
		ConfigId:   0,
		Action:     csdefs.CS_ACTION_CONFIG_CREATED,
	})
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_INTERNAL_ERROR, reason)
	assert.Equal(t, csdefs.CS_TRACKER_STATE_STOPPED, h.requester().state)
}

func TestConfigConflictYieldsLocal(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	require.NoError(t, h.m.StartMeasurement(testAddr, 1000, csdefs.METHOD_CS))
	h.m.RxRemoteCapabilities(&xport.RemoteCapabilitiesEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Caps:       testCaps(),
	})
	h.m.RxDefaultSettingsComplete(&xport.DefaultSettingsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   0,
		Action:     csdefs.CS_ACTION_CONFIG_CREATED,
		Role:       csdefs.CS_ROLE_INITIATOR,
	})
	h.sync()
	require.Equal(t, csdefs.CS_TRACKER_STATE_WAIT_SECURITY,
		h.requester().state)

	// The peer creates a config with the id our requester holds; the
	// local measurement yields.
	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   0,
		Action:     csdefs.CS_ACTION_CONFIG_CREATED,
		Role:       csdefs.CS_ROLE_REFLECTOR,
	})
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_REMOTE_REQUEST, reason)
	assert.Equal(t, csdefs.CS_TRACKER_STATE_STOPPED, h.requester().state)

	var resp *csTracker
	h.m.q.Run(func() error {
		resp = h.m.responders[testConnHandle]
		return nil
	})
	require.NotNil(t, resp)
	assert.Equal(t, csdefs.CS_TRACKER_STATE_WAIT_SECURITY, resp.state)
	assert.Equal(t, csdefs.CS_ROLE_REFLECTOR, resp.role)
}

// encodeMode2Step builds one mode 2 step's wire bytes for a single
// antenna path (two tone entries).
func encodeMode2Step() []byte {
	w := csparse.NewWriter()
	csparse.EncodeMode2(w, &csparse.Mode2Data{
		AntennaPermutationIndex: 0,
		Tones: []cstone.RawTone{
			{ISample: 100, QSample: 200, Quality: 1},
			{ISample: 300, QSample: 400, Quality: 1},
		},
	})
	return w.Bytes()
}

// remoteStream serializes a complete one-subevent reflector stream for
// the given procedure counter and segments it into RAS frames.
func remoteStream(counter uint16, numSteps int) [][]byte {
	w := csparse.NewWriter()
	hdr := ras.RangingHeader{
		RangingCounter:  counter & csdefs.RANGING_COUNTER_MASK,
		ConfigId:        0,
		SelectedTxPower: 6,
		AntennaPathMask: 0x01,
	}
	hdr.Encode(w)

	sub := ras.SubeventHeader{
		StartAclConnEvent:   10,
		FreqCompensation:    csdefs.FREQ_OFFSET_UNAVAILABLE,
		RangingDoneStatus:   csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		SubeventDoneStatus:  csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		ReferencePowerLevel: 0xf0,
		NumStepsReported:    uint8(numSteps),
	}
	sub.Encode(w)

	for i := 0; i < numSteps; i++ {
		w.WriteU8(2)
		w.WriteBytes(encodeMode2Step())
	}

	seg := ras.NewSegmenter(csdefs.RAS_MTU)
	segs, _ := seg.Pump(w.Bytes(), 0, true)

	var frames [][]byte
	for _, s := range segs {
		frames = append(frames, s.Encode())
	}
	return frames
}

func TestProcedureCompleteDeliveredOnce(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)
	h.driveToStarted(t, 1000)

	stepData := encodeMode2Step()

	h.m.RxSubeventResult(&xport.SubeventResultEvent{
		ConnHandle:          testConnHandle,
		ConfigId:            0,
		StartAclConnEvent:   10,
		ProcedureCounter:    1,
		FreqCompensation:    0x0123,
		ReferencePowerLevel: 0xf4,
		NumAntennaPaths:     1,
		ProcedureDoneStatus: csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		SubeventDoneStatus:  csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		Steps: []xport.StepResult{
			{Mode: 2, Channel: 14, Data: stepData},
			{Mode: 2, Channel: 30, Data: stepData},
		},
	})
	h.sync()

	// Local side done, remote outstanding; nothing written yet.
	assert.Equal(t, 0, h.hal.numProcWrites())

	for _, frame := range remoteStream(1, 2) {
		h.m.HandleRemoteData(testAddr, frame)
	}
	h.sync()

	require.Equal(t, 1, h.hal.numProcWrites())
	pd := h.hal.procWrites[0]
	require.Len(t, pd.LocalSubevents, 1)
	require.Len(t, pd.RemoteSubevents, 1)
	assert.Len(t, pd.LocalSubevents[0].StepData, 2)
	assert.Len(t, pd.RemoteSubevents[0].StepData, 2)
	assert.Equal(t, uint8(6), pd.RemoteSelectedTxPower)
	assert.Equal(t, uint8(4), pd.LocalSelectedTxPower)

	// Remote channel numbers are mirrored from the local steps.
	assert.Equal(t, uint8(14), pd.RemoteSubevents[0].StepData[0].StepChannel)
	assert.Equal(t, uint8(30), pd.RemoteSubevents[0].StepData[1].StepChannel)

	// Remote records inherit the local capture timestamps.
	assert.Equal(t, pd.LocalSubevents[0].TimestampNanos,
		pd.RemoteSubevents[0].TimestampNanos)

	// A replay of the same stream is not delivered again.
	for _, frame := range remoteStream(1, 2) {
		h.m.HandleRemoteData(testAddr, frame)
	}
	h.sync()
	assert.Equal(t, 1, h.hal.numProcWrites())

	// The consumed procedure is retired from the ring.
	assert.Equal(t, 0, h.requester().ring.Len())
}

func TestRemoteDataTimeout(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)
	h.driveToStarted(t, 1000)

	h.m.RxSubeventResult(&xport.SubeventResultEvent{
		ConnHandle:          testConnHandle,
		ConfigId:            0,
		ProcedureCounter:    1,
		NumAntennaPaths:     1,
		ProcedureDoneStatus: csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		SubeventDoneStatus:  csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		Steps: []xport.StepResult{
			{Mode: 2, Channel: 14, Data: encodeMode2Step()},
		},
	})
	h.sync()

	// No remote data arrives before the data-ready deadline.
	h.clk.Advance(csdefs.RAS_DATA_READY_TMO_MS * time.Millisecond)
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_INTERNAL_ERROR, reason)
	assert.Equal(t, csdefs.CS_TRACKER_STATE_STOPPED, h.requester().state)
}

func TestStopMeasurement(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)
	h.driveToStarted(t, 1000)

	enables := h.ctlr.count("procedure-enable")
	require.NoError(t, h.m.StopMeasurement(testAddr, csdefs.METHOD_CS))
	assert.Equal(t, enables+1, h.ctlr.count("procedure-enable"))
	assert.Equal(t, csdefs.DISABLED, h.ctlr.lastEnable)

	h.m.RxProcedureEnableComplete(&xport.ProcedureEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   0,
		State:      csdefs.DISABLED,
	})
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_LOCAL_REQUEST, reason)

	// The re-enable alarm must not fire after the stop.
	n := h.ctlr.count("procedure-enable")
	h.clk.Advance(5000 * time.Millisecond)
	h.sync()
	assert.Equal(t, n, h.ctlr.count("procedure-enable"))
}

func TestStopMeasurementDisableRefused(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)
	h.driveToStarted(t, 1000)

	require.NoError(t, h.m.StopMeasurement(testAddr, csdefs.METHOD_CS))
	assert.Equal(t, csdefs.DISABLED, h.ctlr.lastEnable)

	// The radio has already finished its scheduled repeats and refuses
	// the disable.  The stop must still complete.
	h.m.RxProcedureEnableComplete(&xport.ProcedureEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_COMMAND_DISALLOWED,
		ConfigId:   0,
		State:      csdefs.DISABLED,
	})
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_LOCAL_REQUEST, reason)
	assert.Equal(t, csdefs.CS_TRACKER_STATE_STOPPED, h.requester().state)
	assert.False(t, h.requester().stopPending)
}

func TestRssiMeasurement(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	require.NoError(t, h.m.StartMeasurement(testAddr, 1000,
		csdefs.METHOD_RSSI))
	assert.Equal(t, 1, h.ctlr.count("read-remote-tx-power"))

	h.m.RxTxPowerReport(&xport.TxPowerReportEvent{
		ConnHandle:   testConnHandle,
		Status:       csdefs.HCI_STATUS_SUCCESS,
		Reason:       xport.TX_POWER_REPORT_READ_COMPLETE,
		TxPowerLevel: 0,
	})
	h.sync()
	assert.Equal(t, 1, h.ctlr.count("tx-power-reporting-enable"))
	assert.Equal(t, 0, h.cbs.numStarted())

	h.m.RxTxPowerReportingEnableComplete(
		&xport.TxPowerReportingEnableCompleteEvent{
			ConnHandle: testConnHandle,
			Status:     csdefs.HCI_STATUS_SUCCESS,
		})
	h.sync()
	assert.Equal(t, 1, h.cbs.numStarted())

	h.clk.Advance(1000 * time.Millisecond)
	h.sync()
	require.Equal(t, 1, h.ctlr.count("read-rssi"))

	// tx power 0 dBm, RSSI -41 dBm: one meter by the path loss model.
	h.m.RxReadRssiComplete(&xport.ReadRssiCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Rssi:       -41,
	})
	h.sync()

	res, ok := h.cbs.lastResult()
	require.True(t, ok)
	assert.InDelta(t, 100.0, res.centimeters, 0.01)
	assert.Equal(t, cshal.CONFIDENCE_UNAVAILABLE, res.confidence)
	assert.Equal(t, csdefs.METHOD_RSSI, res.method)

	// A local power change must not disturb the model inputs.
	h.m.RxTxPowerReport(&xport.TxPowerReportEvent{
		ConnHandle:   testConnHandle,
		Status:       csdefs.HCI_STATUS_SUCCESS,
		Reason:       xport.TX_POWER_REPORT_LOCAL_CHANGED,
		TxPowerLevel: -20,
	})
	h.m.RxReadRssiComplete(&xport.ReadRssiCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Rssi:       -61,
	})
	h.sync()

	res, ok = h.cbs.lastResult()
	require.True(t, ok)
	assert.InDelta(t, 1000.0, res.centimeters, 0.01)

	require.NoError(t, h.m.StopMeasurement(testAddr, csdefs.METHOD_RSSI))
	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_LOCAL_REQUEST, reason)

	// The RSSI poll must stop with the measurement.
	n := h.ctlr.count("read-rssi")
	h.clk.Advance(5000 * time.Millisecond)
	h.sync()
	assert.Equal(t, n, h.ctlr.count("read-rssi"))
}

func TestAutoMethodSelection(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	// With CS capabilities present, AUTO selects channel sounding.
	require.NoError(t, h.m.StartMeasurement(testAddr, 1000,
		csdefs.METHOD_AUTO))
	assert.Equal(t, 1, h.ctlr.count("read-remote-caps"))
	assert.Equal(t, 0, h.ctlr.count("read-remote-tx-power"))
}

func TestAutoFallsBackToRssi(t *testing.T) {
	ctlr := newFakeController()
	hal := &fakeHal{bound: true, version: cshal.HAL_V2}
	cbs := &cbRecorder{}
	clk := task.NewFakeClock()

	m := NewManager(ctlr, hal, clk)
	m.SetCallbacks(cbs)
	require.NoError(t, m.Start())
	defer m.Stop()

	// No local capability event has arrived; AUTO falls back to RSSI.
	require.NoError(t, m.StartMeasurement(testAddr, 1000,
		csdefs.METHOD_AUTO))
	assert.Equal(t, 1, ctlr.count("read-remote-tx-power"))
	assert.Equal(t, 0, ctlr.count("read-remote-caps"))
}

func TestResponderEmitsFragments(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	// The peer creates a reflector config on this side.
	h.m.RxConfigComplete(&xport.ConfigCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   1,
		Action:     csdefs.CS_ACTION_CONFIG_CREATED,
		Role:       csdefs.CS_ROLE_REFLECTOR,
	})
	h.m.RxSecurityEnableComplete(&xport.SecurityEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.m.HandleRasServerConnected(testAddr, testConnHandle)
	h.m.RxProcedureEnableComplete(&xport.ProcedureEnableCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		ConfigId:   1,
		State:      csdefs.ENABLED,
	})
	h.sync()

	h.m.RxSubeventResult(&xport.SubeventResultEvent{
		ConnHandle:          testConnHandle,
		ConfigId:            1,
		ProcedureCounter:    1,
		NumAntennaPaths:     1,
		ProcedureDoneStatus: csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		SubeventDoneStatus:  csdefs.CS_DONE_STATUS_ALL_COMPLETE,
		Steps: []xport.StepResult{
			{Mode: 2, Channel: 14, Data: encodeMode2Step()},
		},
	})
	h.sync()

	h.cbs.mtx.Lock()
	frames := h.cbs.fragments
	h.cbs.mtx.Unlock()
	require.Len(t, frames, 1)

	// The emitted frame must reassemble into a stream carrying our
	// procedure's ranging counter.
	re := ras.NewReassembler()
	stream, err := re.Rx(frames[0])
	require.NoError(t, err)
	require.NotNil(t, stream)

	hdr, err := ras.DecodeRangingHeader(csparse.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hdr.RangingCounter)
}

func TestRasServerConnectedPublishesVendorChrs(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	chr := cshal.VendorSpecificCharacteristic{
		Uuid:  [16]byte{0x12, 0x34},
		Value: []byte{0x01, 0x02},
	}
	h.hal.vendorChrs = []cshal.VendorSpecificCharacteristic{chr}

	h.m.HandleRasServerConnected(testAddr, testConnHandle)
	h.sync()

	h.cbs.mtx.Lock()
	got := h.cbs.vendorChrs
	h.cbs.mtx.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, chr, got[0])
}

func TestRasClientConnectAdvancesState(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)

	require.NoError(t, h.m.StartMeasurement(testAddr, 1000,
		csdefs.METHOD_CS))
	assert.Equal(t, csdefs.CS_TRACKER_STATE_INIT, h.requester().state)

	h.m.HandleRasClientConnected(testAddr, testConnHandle, 0x0025, nil)
	h.sync()
	assert.Equal(t, csdefs.CS_TRACKER_STATE_RAS_CONNECTED,
		h.requester().state)

	// The handshake proceeds normally from the connected state.
	h.m.RxRemoteCapabilities(&xport.RemoteCapabilitiesEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
		Caps:       testCaps(),
	})
	h.m.RxDefaultSettingsComplete(&xport.DefaultSettingsCompleteEvent{
		ConnHandle: testConnHandle,
		Status:     csdefs.HCI_STATUS_SUCCESS,
	})
	h.sync()

	require.Equal(t, 1, h.ctlr.count("create-config"))
	assert.Equal(t, csdefs.CS_TRACKER_STATE_WAIT_CONFIG,
		h.requester().state)
}

func TestDisconnectCleansUp(t *testing.T) {
	h := newHarness(t, cshal.HAL_V2)
	h.driveToStarted(t, 1000)

	h.m.HandleDisconnect(testConnHandle)
	h.sync()

	reason, stopped := h.cbs.lastStopped()
	require.True(t, stopped)
	assert.Equal(t, csdefs.REASON_NO_LE_CONNECTION, reason)
	assert.Nil(t, h.requester())
}
