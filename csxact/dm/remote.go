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
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/csproc"
	"mynewt.apache.org/csmgr/csxact/ras"
)

func (m *Manager) requesterByAddr(addr csdefs.BleAddr) *csTracker {
	for _, t := range m.requesters {
		if t.addr == addr {
			return t
		}
	}
	return nil
}

// handleRemoteData consumes one ranging data frame received from the
// peer.  Only a started requester expects remote data; anything else is
// dropped.
func (m *Manager) handleRemoteData(addr csdefs.BleAddr, frame []byte) {
	t := m.requesterByAddr(addr)
	if t == nil || t.state != csdefs.CS_TRACKER_STATE_STARTED {
		log.Warnf("remote ranging data with no started measurement; "+
			"peer:%s", addr.String())
		return
	}

	firstOfStream := !t.reassembler.Active()

	stream, err := t.reassembler.Rx(frame)
	if err != nil {
		log.Warnf("dropping ranging data segment; peer:%s: %s",
			addr.String(), err.Error())
		return
	}

	if firstOfStream && t.reassembler.Active() {
		// First segment accepted; the ranging counter must match an
		// in-flight procedure.
		if t.ring.GetByRangingCounter(
			t.reassembler.Hdr.RangingCounter) == nil {

			log.Warnf("unrecognized ranging counter %d; peer:%s",
				t.reassembler.Hdr.RangingCounter, addr.String())
			t.reassembler.Reset()
			t.rasAlarm.Cancel()
			return
		}
	}

	if stream == nil {
		// Mid-stream; bound the wait for the next segment.
		m.scheduleRasTimeout(t, csdefs.RAS_FOLLOWING_SEGMENT_TMO_MS)
		return
	}

	t.rasAlarm.Cancel()
	m.parseRasStream(t, stream)
}

// handleRemoteDataReady records the peer's announcement that a
// procedure's ranging data is available.  The first segment must follow
// promptly; a shorter watchdog replaces the data-ready one.
func (m *Manager) handleRemoteDataReady(addr csdefs.BleAddr,
	rangingCounter uint16) {

	t := m.requesterByAddr(addr)
	if t == nil || t.state != csdefs.CS_TRACKER_STATE_STARTED {
		return
	}

	if t.ring.GetByRangingCounter(
		rangingCounter&csdefs.RANGING_COUNTER_MASK) == nil {

		log.Warnf("data ready for unknown ranging counter %d; peer:%s",
			rangingCounter, addr.String())
		return
	}

	if t.reassembler.Active() {
		return
	}

	m.scheduleRasTimeout(t, csdefs.RAS_FIRST_SEGMENT_TMO_MS)
}

func (m *Manager) handleRemoteDataTimeout(addr csdefs.BleAddr) {
	t := m.requesterByAddr(addr)
	if t == nil || t.state != csdefs.CS_TRACKER_STATE_STARTED {
		return
	}

	log.Warnf("timed out waiting for ranging data; peer:%s", addr.String())
	m.failCs(t, csdefs.REASON_INTERNAL_ERROR)
}

// parseRasStream decodes a fully reassembled procedure stream from the
// peer and merges it into the matching procedure data.  The stream's
// step data is attributed to the peer's role.
func (m *Manager) parseRasStream(t *csTracker, stream []byte) {
	r := csparse.NewReader(stream)

	hdr, err := ras.DecodeRangingHeader(r)
	if err != nil {
		log.Warnf("malformed ranging stream; conn:%d: %s",
			t.connHandle, err.Error())
		return
	}

	pd := t.ring.GetByRangingCounter(hdr.RangingCounter)
	if pd == nil {
		log.Warnf("ranging stream for unknown counter %d; conn:%d",
			hdr.RangingCounter, t.connHandle)
		return
	}

	if pd.V2 != nil {
		pd.V2.RemoteSelectedTxPower = hdr.SelectedTxPower
	}

	remoteRole := t.role.Invert()
	subeventIdx := 0

	for r.Len() > 0 {
		subHdr, err := ras.DecodeSubeventHeader(r)
		if err != nil {
			log.Warnf("malformed remote subevent header; conn:%d: %s",
				t.connHandle, err.Error())
			return
		}

		var remoteSub *cshal.SubeventResult
		if pd.V2 != nil {
			remoteSub = cshal.NewSubeventResult()
			remoteSub.StartAclConnEventCounter = subHdr.StartAclConnEvent
			remoteSub.FrequencyCompensation = subHdr.FreqCompensation
			remoteSub.ReferencePowerLevel = subHdr.ReferencePowerLevel
			remoteSub.NumAntennaPaths = pd.NumAntennaPaths
			remoteSub.AbortReason = subHdr.SubeventAbortReason

			// Remote subevents get the local counterpart's timestamp.
			if subeventIdx < len(pd.V2.LocalSubevents) {
				remoteSub.TimestampNanos =
					pd.V2.LocalSubevents[subeventIdx].TimestampNanos
			}

			pd.V2.RemoteSubevents = append(pd.V2.RemoteSubevents,
				remoteSub)
			pd.V2.RemoteAbortReason = subHdr.RangingAbortReason
		}

		if !m.parseRemoteSteps(t, pd, remoteRole, subHdr, remoteSub,
			subeventIdx, r) {
			return
		}

		pd.RemoteStatus = subHdr.RangingDoneStatus
		subeventIdx++
	}

	m.checkProcedureComplete(t, pd)
}

// parseRemoteSteps decodes one remote subevent's steps.  Returns false
// when the stream is malformed and parsing must stop.
func (m *Manager) parseRemoteSteps(t *csTracker, pd *csproc.ProcedureData,
	remoteRole csdefs.CsRole, subHdr *ras.SubeventHeader,
	remoteSub *cshal.SubeventResult, subeventIdx int,
	r *csparse.Reader) bool {

	var localSub *cshal.SubeventResult
	if pd.V2 != nil && subeventIdx < len(pd.V2.LocalSubevents) {
		localSub = pd.V2.LocalSubevents[subeventIdx]
	}

	for i := 0; i < int(subHdr.NumStepsReported); i++ {
		modeByte, err := r.ReadU8()
		if err != nil {
			log.Warnf("truncated remote step data; conn:%d: %s",
				t.connHandle, err.Error())
			return false
		}

		mode := modeByte & csparse.STEP_MODE_MASK
		if modeByte&csparse.STEP_ABORTED_BIT != 0 {
			continue
		}

		sd, err := csparse.ParseStep(r, mode, remoteRole,
			int(pd.NumAntennaPaths), pd.SoundingSeqRemote)
		if err != nil {
			log.Warnf("invalid remote mode %d step; conn:%d: %s",
				mode, t.connHandle, err.Error())
			return false
		}

		// The peer's stream carries no channel numbers; mirror the
		// matching local step when the records line up.
		if localSub != nil && i < len(localSub.StepData) {
			sd.Channel = localSub.StepData[i].StepChannel
		}

		m.accumulateStep(pd, remoteRole, sd)

		if remoteSub != nil {
			remoteSub.StepData = append(remoteSub.StepData,
				stepSpecificData(sd))
		}
	}

	return true
}
