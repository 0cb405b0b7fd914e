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

// Package csproc accumulates one measurement procedure's step data from
// both sides until completion, and keeps a bounded ring of in-flight
// procedures per tracker.
package csproc

import (
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/cstone"
	"mynewt.apache.org/csmgr/csxact/ras"
)

// ProcedureData holds everything accumulated for one procedure counter:
// decoded measurements from both sides, completion statuses, and the
// outbound ranging stream state.
type ProcedureData struct {
	Counter         uint16
	NumAntennaPaths uint8

	StepChannels []uint8

	// Indexed by canonical antenna path, tone extension last
	// (NumAntennaPaths+1 rows).
	TonePctInitiator     [][]complex128
	TonePctReflector     [][]complex128
	ToneQualityInitiator [][]uint8
	ToneQualityReflector [][]uint8

	PacketQualityInitiator []uint8
	PacketQualityReflector []uint8
	ToaTodInitiators       []int16
	TodToaReflectors       []int16
	MeasuredFreqOffsets    []uint16

	LocalStatus              csdefs.CsDoneStatus
	RemoteStatus             csdefs.CsDoneStatus
	ContainsCompleteSubevent bool

	// Set once the finished procedure has been pushed to the ranging
	// hardware; guards against duplicate delivery.
	Reported bool

	SoundingSeqLocal  bool
	SoundingSeqRemote bool

	// Outbound ranging stream: ranging header followed by serialized
	// subevent blocks.  SentIndex marks how much the segmenter has
	// already emitted.
	RangingHdr ras.RangingHeader
	Stream     []byte
	SentIndex  int
	Segmenter  *ras.Segmenter

	// The subevent currently being accumulated, serialized into Stream
	// when its final results arrive.
	SubeventHdr   ras.SubeventHeader
	SubeventSteps []byte

	// Structured records for a v2 HAL; nil otherwise.
	V2 *cshal.ProcedureDataV2
}

func NewProcedureData(counter uint16, numPaths uint8, configId uint8,
	selectedTxPower uint8, mtu int) *ProcedureData {

	pd := &ProcedureData{
		Counter:         counter,
		NumAntennaPaths: numPaths,
		LocalStatus:     csdefs.CS_DONE_STATUS_PARTIAL,
		RemoteStatus:    csdefs.CS_DONE_STATUS_PARTIAL,
		RangingHdr: ras.RangingHeader{
			RangingCounter:  counter & csdefs.RANGING_COUNTER_MASK,
			ConfigId:        configId,
			SelectedTxPower: selectedTxPower,
			AntennaPathMask: uint8(1<<numPaths) - 1,
		},
		Segmenter: ras.NewSegmenter(mtu),
	}

	rows := int(numPaths) + 1
	pd.TonePctInitiator = make([][]complex128, rows)
	pd.TonePctReflector = make([][]complex128, rows)
	pd.ToneQualityInitiator = make([][]uint8, rows)
	pd.ToneQualityReflector = make([][]uint8, rows)

	w := csparse.NewWriter()
	pd.RangingHdr.Encode(w)
	pd.Stream = w.Bytes()

	return pd
}

func (pd *ProcedureData) AddMode0(role csdefs.CsRole, d *csparse.Mode0Data) {
	if role == csdefs.CS_ROLE_INITIATOR && d.MeasuredFreqOffset != nil {
		pd.MeasuredFreqOffsets = append(pd.MeasuredFreqOffsets,
			*d.MeasuredFreqOffset)
	}
}

// AddRtt records a mode 1 or mode 3 packet measurement.
func (pd *ProcedureData) AddRtt(role csdefs.CsRole, quality uint8,
	toaTod uint16) {

	if role == csdefs.CS_ROLE_INITIATOR {
		pd.ToaTodInitiators = append(pd.ToaTodInitiators, int16(toaTod))
		pd.PacketQualityInitiator = append(pd.PacketQualityInitiator, quality)
	} else {
		pd.TodToaReflectors = append(pd.TodToaReflectors, int16(toaTod))
		pd.PacketQualityReflector = append(pd.PacketQualityReflector, quality)
	}
}

// AddTones reorders a raw tone block into canonical antenna path order
// and appends each entry to the matching per-path series.
func (pd *ProcedureData) AddTones(role csdefs.CsRole, permIdx uint8,
	tones []cstone.RawTone) error {

	ordered, err := cstone.Reorder(int(permIdx), int(pd.NumAntennaPaths),
		tones)
	if err != nil {
		return err
	}

	for path, tone := range ordered {
		if role == csdefs.CS_ROLE_INITIATOR {
			pd.TonePctInitiator[path] = append(pd.TonePctInitiator[path],
				tone.PCT())
			pd.ToneQualityInitiator[path] = append(
				pd.ToneQualityInitiator[path], tone.Quality)
		} else {
			pd.TonePctReflector[path] = append(pd.TonePctReflector[path],
				tone.PCT())
			pd.ToneQualityReflector[path] = append(
				pd.ToneQualityReflector[path], tone.Quality)
		}
	}

	return nil
}

// AppendStepBytes adds one step's raw wire bytes (mode byte first) to
// the pending subevent block.
func (pd *ProcedureData) AppendStepBytes(b []byte) {
	pd.SubeventSteps = append(pd.SubeventSteps, b...)
}

// FlushSubevent serializes the pending subevent header and step bytes
// into the outbound stream.
func (pd *ProcedureData) FlushSubevent() {
	w := csparse.NewWriter()
	pd.SubeventHdr.Encode(w)

	pd.Stream = append(pd.Stream, w.Bytes()...)
	pd.Stream = append(pd.Stream, pd.SubeventSteps...)

	pd.SubeventSteps = nil
	pd.SubeventHdr = ras.SubeventHeader{}
}

// PumpSegments emits any sendable segments of the outbound stream.  A
// segment is marked last only once the local side is done and the
// remainder fits in one MTU.
func (pd *ProcedureData) PumpSegments() []ras.Segment {
	complete := pd.LocalStatus != csdefs.CS_DONE_STATUS_PARTIAL
	segs, idx := pd.Segmenter.Pump(pd.Stream, pd.SentIndex, complete)
	pd.SentIndex = idx
	return segs
}

func (pd *ProcedureData) FullySent() bool {
	return pd.LocalStatus != csdefs.CS_DONE_STATUS_PARTIAL &&
		pd.SentIndex == len(pd.Stream) && len(pd.SubeventSteps) == 0
}

// Done indicates that neither side expects further results.
func (pd *ProcedureData) Done() bool {
	return pd.LocalStatus != csdefs.CS_DONE_STATUS_PARTIAL &&
		pd.RemoteStatus != csdefs.CS_DONE_STATUS_PARTIAL
}

// RawData converts the accumulated measurements into the v1 HAL form.
func (pd *ProcedureData) RawData() *cshal.RawData {
	return &cshal.RawData{
		NumAntennaPaths:        pd.NumAntennaPaths,
		StepChannels:           pd.StepChannels,
		TonePctInitiator:       pd.TonePctInitiator,
		TonePctReflector:       pd.TonePctReflector,
		ToneQualityInitiator:   pd.ToneQualityInitiator,
		ToneQualityReflector:   pd.ToneQualityReflector,
		PacketQualityInitiator: pd.PacketQualityInitiator,
		PacketQualityReflector: pd.PacketQualityReflector,
		ToaTodInitiators:       pd.ToaTodInitiators,
		TodToaReflectors:       pd.TodToaReflectors,
	}
}

// Ring is a bounded, insertion-ordered collection of in-flight
// procedures.  Counters only grow, so insertion order is counter order.
type Ring struct {
	cap   int
	items []*ProcedureData
}

func NewRing(cap int) *Ring {
	return &Ring{
		cap: cap,
	}
}

func (r *Ring) Len() int {
	return len(r.items)
}

// Add inserts a procedure, evicting the oldest entry if the ring is
// full.
func (r *Ring) Add(pd *ProcedureData) {
	if len(r.items) >= r.cap {
		log.Warnf("procedure data ring full; dropping counter %d",
			r.items[0].Counter)
		r.items = r.items[1:]
	}
	r.items = append(r.items, pd)
}

func (r *Ring) Get(counter uint16) *ProcedureData {
	for _, pd := range r.items {
		if pd.Counter == counter {
			return pd
		}
	}
	return nil
}

// GetByRangingCounter looks up by the truncated counter carried in a
// ranging header.
func (r *Ring) GetByRangingCounter(rangingCounter uint16) *ProcedureData {
	for _, pd := range r.items {
		if pd.Counter&csdefs.RANGING_COUNTER_MASK == rangingCounter {
			return pd
		}
	}
	return nil
}

// Newest returns the most recently added procedure, or nil.
func (r *Ring) Newest() *ProcedureData {
	if len(r.items) == 0 {
		return nil
	}
	return r.items[len(r.items)-1]
}

// DeleteBefore retires every procedure with a counter below the given
// one.
func (r *Ring) DeleteBefore(counter uint16) {
	for len(r.items) > 0 && r.items[0].Counter < counter {
		log.Debugf("delete obsolete procedure data; counter %d",
			r.items[0].Counter)
		r.items = r.items[1:]
	}
}

// Remove deletes the procedure with the given counter, if present.
func (r *Ring) Remove(counter uint16) {
	for i, pd := range r.items {
		if pd.Counter == counter {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *Ring) Clear() {
	r.items = nil
}
