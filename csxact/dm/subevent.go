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
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/csproc"
	"mynewt.apache.org/csmgr/csxact/xport"
)

const subeventTrackerStates = csdefs.CS_TRACKER_STATE_WAIT_PROC_ENABLED |
	csdefs.CS_TRACKER_STATE_STARTED

// handleSubeventResult processes the initial result event of a
// subevent: it creates or finds the procedure data for the event's
// counter, records the subevent header fields, and consumes the first
// batch of steps.
func (m *Manager) handleSubeventResult(ev *xport.SubeventResultEvent) {
	t := m.getLiveTracker(ev.ConnHandle, ev.ConfigId,
		subeventTrackerStates, subeventTrackerStates)
	if t == nil {
		log.Warnf("subevent result for unknown tracker; conn:%d config:%d",
			ev.ConnHandle, ev.ConfigId)
		return
	}

	t.numAntennaPaths = ev.NumAntennaPaths

	pd := t.ring.Get(ev.ProcedureCounter)
	if pd == nil {
		pd = csproc.NewProcedureData(ev.ProcedureCounter,
			ev.NumAntennaPaths, t.configId, t.selectedTxPower,
			csdefs.RAS_MTU)
		pd.SoundingSeqLocal = t.rttType.ContainsSoundingSeq() &&
			m.localCaps.PhaseBasedRanging
		pd.SoundingSeqRemote = t.rttType.ContainsSoundingSeq() &&
			t.remoteCaps.PhaseBasedRanging
		if m.bridge.V2() {
			pd.V2 = &cshal.ProcedureDataV2{
				LocalSelectedTxPower:  t.selectedTxPower,
				RemoteSelectedTxPower: csdefs.TX_POWER_NOT_AVAILABLE,
			}
		}
		t.ring.Add(pd)
	}

	// Frequency compensation is only measured by the initiator.
	freqComp := uint16(csdefs.FREQ_OFFSET_UNAVAILABLE)
	if t.role == csdefs.CS_ROLE_INITIATOR {
		freqComp = ev.FreqCompensation
	}

	pd.SubeventHdr.StartAclConnEvent = ev.StartAclConnEvent
	pd.SubeventHdr.FreqCompensation = freqComp
	pd.SubeventHdr.ReferencePowerLevel = ev.ReferencePowerLevel
	pd.SubeventHdr.RangingDoneStatus = ev.ProcedureDoneStatus
	pd.SubeventHdr.SubeventDoneStatus = ev.SubeventDoneStatus
	pd.SubeventHdr.RangingAbortReason = ev.ProcedureAbortReason
	pd.SubeventHdr.SubeventAbortReason = ev.SubeventAbortReason

	if pd.V2 != nil {
		sub := cshal.NewSubeventResult()
		sub.StartAclConnEventCounter = ev.StartAclConnEvent
		sub.FrequencyCompensation = freqComp
		sub.ReferencePowerLevel = ev.ReferencePowerLevel
		sub.NumAntennaPaths = ev.NumAntennaPaths
		sub.TimestampNanos = m.clk.Now().UnixNano()
		pd.V2.LocalSubevents = append(pd.V2.LocalSubevents, sub)
	}

	m.consumeLocalSteps(t, pd, ev.Steps)
	m.finishLocalSubeventEvent(t, pd, ev.ProcedureDoneStatus,
		ev.SubeventDoneStatus, ev.ProcedureAbortReason,
		ev.SubeventAbortReason)
}

// handleSubeventResultContinue appends further steps to the subevent
// opened by the preceding initial event.
func (m *Manager) handleSubeventResultContinue(
	ev *xport.SubeventResultContinueEvent) {

	t := m.getLiveTracker(ev.ConnHandle, ev.ConfigId,
		subeventTrackerStates, subeventTrackerStates)
	if t == nil {
		return
	}

	pd := t.ring.Newest()
	if pd == nil {
		log.Warnf("subevent continuation with no procedure; conn:%d",
			ev.ConnHandle)
		return
	}

	pd.SubeventHdr.RangingDoneStatus = ev.ProcedureDoneStatus
	pd.SubeventHdr.SubeventDoneStatus = ev.SubeventDoneStatus
	pd.SubeventHdr.RangingAbortReason = ev.ProcedureAbortReason
	pd.SubeventHdr.SubeventAbortReason = ev.SubeventAbortReason

	m.consumeLocalSteps(t, pd, ev.Steps)
	m.finishLocalSubeventEvent(t, pd, ev.ProcedureDoneStatus,
		ev.SubeventDoneStatus, ev.ProcedureAbortReason,
		ev.SubeventAbortReason)
}

// consumeLocalSteps appends each step's raw bytes to the outbound
// ranging stream and decodes it into the procedure's accumulators.
func (m *Manager) consumeLocalSteps(t *csTracker, pd *csproc.ProcedureData,
	steps []xport.StepResult) {

	var localSub *cshal.SubeventResult
	if pd.V2 != nil && len(pd.V2.LocalSubevents) > 0 {
		localSub = pd.V2.LocalSubevents[len(pd.V2.LocalSubevents)-1]
	}

	for _, step := range steps {
		pd.SubeventHdr.NumStepsReported++

		modeByte := step.Mode & csparse.STEP_MODE_MASK
		if len(step.Data) == 0 {
			pd.AppendStepBytes([]byte{modeByte | csparse.STEP_ABORTED_BIT})
			continue
		}
		pd.AppendStepBytes([]byte{modeByte})
		pd.AppendStepBytes(step.Data)

		sd, err := csparse.ParseStep(csparse.NewReader(step.Data),
			step.Mode, t.role, int(pd.NumAntennaPaths),
			pd.SoundingSeqLocal)
		if err != nil {
			log.Warnf("invalid mode %d step data; conn:%d: %s",
				step.Mode, t.connHandle, err.Error())
			continue
		}
		sd.Channel = step.Channel

		pd.StepChannels = append(pd.StepChannels, step.Channel)
		m.accumulateStep(pd, t.role, sd)

		if localSub != nil {
			localSub.StepData = append(localSub.StepData,
				stepSpecificData(sd))
		}
	}
}

// accumulateStep folds one decoded step into the procedure's raw
// measurement series.
func (m *Manager) accumulateStep(pd *csproc.ProcedureData,
	role csdefs.CsRole, sd *csparse.StepData) {

	switch {
	case sd.Mode0 != nil:
		pd.AddMode0(role, sd.Mode0)
	case sd.Mode1 != nil:
		pd.AddRtt(role, sd.Mode1.PacketQuality, sd.Mode1.RttToaTod)
	case sd.Mode2 != nil:
		if err := pd.AddTones(role, sd.Mode2.AntennaPermutationIndex,
			sd.Mode2.Tones); err != nil {
			log.Warnf("tone reorder failed: %s", err.Error())
		}
	case sd.Mode3 != nil:
		pd.AddRtt(role, sd.Mode3.PacketQuality, sd.Mode3.RttToaTod)
		if err := pd.AddTones(role, sd.Mode3.AntennaPermutationIndex,
			sd.Mode3.Tones); err != nil {
			log.Warnf("tone reorder failed: %s", err.Error())
		}
	}
}

func stepSpecificData(sd *csparse.StepData) cshal.StepSpecificData {
	return cshal.StepSpecificData{
		StepChannel: sd.Channel,
		ModeType:    sd.Mode,
		Mode0:       sd.Mode0,
		Mode1:       sd.Mode1,
		Mode2:       sd.Mode2,
		Mode3:       sd.Mode3,
	}
}

// finishLocalSubeventEvent handles the completion statuses carried by a
// subevent result event: serializing finished subevents into the
// outbound stream, emitting responder segments, and checking for
// procedure completion on the requester side.
func (m *Manager) finishLocalSubeventEvent(t *csTracker,
	pd *csproc.ProcedureData, procedureDone csdefs.CsDoneStatus,
	subeventDone csdefs.CsDoneStatus,
	procedureAbort csdefs.ProcedureAbortReason,
	subeventAbort csdefs.SubeventAbortReason) {

	if subeventDone == csdefs.CS_DONE_STATUS_PARTIAL {
		return
	}

	if subeventDone == csdefs.CS_DONE_STATUS_ALL_COMPLETE {
		pd.ContainsCompleteSubevent = true
	}

	if pd.V2 != nil && len(pd.V2.LocalSubevents) > 0 {
		sub := pd.V2.LocalSubevents[len(pd.V2.LocalSubevents)-1]
		sub.AbortReason = subeventAbort
		pd.V2.LocalAbortReason = procedureAbort
	}

	pd.FlushSubevent()
	pd.LocalStatus = procedureDone

	if !t.localStart {
		m.sendOnDemandData(t, pd)
		return
	}

	if pd.LocalStatus != csdefs.CS_DONE_STATUS_PARTIAL &&
		pd.RemoteStatus == csdefs.CS_DONE_STATUS_PARTIAL &&
		!t.reassembler.Active() {

		// Local side is done; bound the wait for the peer's first
		// ranging data segment.
		m.scheduleRasTimeout(t, csdefs.RAS_DATA_READY_TMO_MS)
	}

	m.checkProcedureComplete(t, pd)
}

// sendOnDemandData emits any sendable segments of a responder
// procedure's stream via the ranging-fragment-ready callback.
func (m *Manager) sendOnDemandData(t *csTracker, pd *csproc.ProcedureData) {
	for _, seg := range pd.PumpSegments() {
		m.cbs.OnRasFragmentReady(t.addr, pd.Counter, seg.Hdr.Last,
			seg.Encode())
	}

	if pd.FullySent() {
		t.ring.DeleteBefore(pd.Counter + 1)
	}
}

// checkProcedureComplete pushes a finished procedure to the ranging
// hardware exactly once and retires consumed entries.
func (m *Manager) checkProcedureComplete(t *csTracker,
	pd *csproc.ProcedureData) {

	if t.localStart && !pd.Reported &&
		pd.LocalStatus == csdefs.CS_DONE_STATUS_ALL_COMPLETE &&
		pd.RemoteStatus == csdefs.CS_DONE_STATUS_ALL_COMPLETE &&
		pd.ContainsCompleteSubevent {

		pd.Reported = true
		log.Debugf("procedure complete; counter:%d conn:%d",
			pd.Counter, t.connHandle)

		if m.bridge.Bound() {
			if m.bridge.V2() {
				m.bridge.WriteProcedureData(t.connHandle, t.role,
					pd.V2, pd.Counter)
			} else {
				m.bridge.WriteRawData(t.connHandle, pd.RawData())
			}
		}
	}

	if pd.Done() {
		t.rasAlarm.Cancel()
		t.ring.DeleteBefore(pd.Counter + 1)
	}
}

// scheduleRasTimeout arms the tracker's reassembly watchdog.
func (m *Manager) scheduleRasTimeout(t *csTracker, tmoMs int) {
	addr := t.addr
	t.rasAlarm.Schedule(func() error {
		m.handleRemoteDataTimeout(addr)
		return nil
	}, time.Duration(tmoMs)*time.Millisecond)
}
