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

// Package ras implements the ranging data segmentation protocol: the
// wire headers, the MTU-bounded segmenter for the local-to-peer
// direction, and the reassembler for the peer-to-local direction.
//
// One procedure's byte stream is laid out as:
//
//	ranging header | (subevent header | step bytes)...
//
// and carried in segments of at most MTU payload bytes, each prefixed
// by a one-byte segmentation header.
package ras

import (
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/csxutil"
)

// The rolling segment counter wraps at 64.
const SEG_COUNTER_MOD = 64

const SEG_HDR_SZ = 1
const RANGING_HDR_SZ = 4
const SUBEVENT_HDR_SZ = 8

// SegmentationHeader is the one-byte prefix of every segment: bit 0
// first-segment, bit 1 last-segment, bits 2-7 rolling counter.
type SegmentationHeader struct {
	First   bool
	Last    bool
	Counter uint8
}

func (h *SegmentationHeader) Encode() byte {
	var b byte
	if h.First {
		b |= 0x01
	}
	if h.Last {
		b |= 0x02
	}
	b |= (h.Counter % SEG_COUNTER_MOD) << 2
	return b
}

func DecodeSegmentationHeader(b byte) SegmentationHeader {
	return SegmentationHeader{
		First:   b&0x01 != 0,
		Last:    b&0x02 != 0,
		Counter: b >> 2,
	}
}

// RangingHeader prefixes a procedure's byte stream once.  It is fixed
// for the procedure's lifetime.
type RangingHeader struct {
	RangingCounter  uint16 // low 12 bits of the procedure counter
	ConfigId        uint8
	SelectedTxPower uint8
	AntennaPathMask uint8 // bit per antenna path in use
	PctFormat       uint8
}

func (h *RangingHeader) Encode(w *csparse.Writer) {
	w.WriteU16(h.RangingCounter&csdefs.RANGING_COUNTER_MASK |
		uint16(h.ConfigId&0x0f)<<12)
	w.WriteU8(h.SelectedTxPower)
	w.WriteU8(h.AntennaPathMask&0x0f | h.PctFormat<<4)
}

func DecodeRangingHeader(r *csparse.Reader) (*RangingHeader, error) {
	u16, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	txPower, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	packed, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	return &RangingHeader{
		RangingCounter:  u16 & csdefs.RANGING_COUNTER_MASK,
		ConfigId:        uint8(u16 >> 12),
		SelectedTxPower: txPower,
		AntennaPathMask: packed & 0x0f,
		PctFormat:       packed >> 4,
	}, nil
}

// SubeventHeader prefixes each subevent's step bytes in the stream.
type SubeventHeader struct {
	StartAclConnEvent uint16
	FreqCompensation  uint16
	RangingDoneStatus csdefs.CsDoneStatus
	SubeventDoneStatus csdefs.CsDoneStatus
	RangingAbortReason csdefs.ProcedureAbortReason
	SubeventAbortReason csdefs.SubeventAbortReason
	ReferencePowerLevel uint8
	NumStepsReported    uint8
}

func (h *SubeventHeader) Encode(w *csparse.Writer) {
	w.WriteU16(h.StartAclConnEvent)
	w.WriteU16(h.FreqCompensation)
	w.WriteU8(uint8(h.RangingDoneStatus)&0x0f |
		uint8(h.SubeventDoneStatus)<<4)
	w.WriteU8(uint8(h.RangingAbortReason)&0x0f |
		uint8(h.SubeventAbortReason)<<4)
	w.WriteU8(h.ReferencePowerLevel)
	w.WriteU8(h.NumStepsReported)
}

func DecodeSubeventHeader(r *csparse.Reader) (*SubeventHeader, error) {
	h := &SubeventHeader{}

	var err error
	if h.StartAclConnEvent, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if h.FreqCompensation, err = r.ReadU16(); err != nil {
		return nil, err
	}

	statuses, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	h.RangingDoneStatus = csdefs.CsDoneStatus(statuses & 0x0f)
	h.SubeventDoneStatus = csdefs.CsDoneStatus(statuses >> 4)

	reasons, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	h.RangingAbortReason = csdefs.ProcedureAbortReason(reasons & 0x0f)
	h.SubeventAbortReason = csdefs.SubeventAbortReason(reasons >> 4)

	if h.ReferencePowerLevel, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if h.NumStepsReported, err = r.ReadU8(); err != nil {
		return nil, err
	}

	return h, nil
}

// Segment is one emitted chunk: segmentation header plus at most MTU
// payload bytes.
type Segment struct {
	Hdr     SegmentationHeader
	Payload []byte
}

func (s *Segment) Encode() []byte {
	frame := make([]byte, 0, SEG_HDR_SZ+len(s.Payload))
	frame = append(frame, s.Hdr.Encode())
	frame = append(frame, s.Payload...)
	return frame
}

// Segmenter slices a procedure's byte stream into MTU-bounded segments.
// Counter and first-segment state persist across calls, so one Segmenter
// serves one procedure.
type Segmenter struct {
	Mtu int

	nextCounter uint8
	sentFirst   bool
}

func NewSegmenter(mtu int) *Segmenter {
	return &Segmenter{
		Mtu: mtu,
	}
}

// Pump emits segments for the unsent portion of buf, starting at idx.
// complete indicates that no further bytes will be appended to buf.  An
// incomplete sub-MTU remainder is held back to avoid tiny fragments;
// the final call with complete=true always flushes everything.  Returns
// the emitted segments and the new sent index.
func (s *Segmenter) Pump(buf []byte, idx int, complete bool) ([]Segment, int) {
	var segs []Segment

	for {
		unsent := len(buf) - idx
		if unsent <= 0 {
			return segs, idx
		}

		last := complete && unsent <= s.Mtu
		if !last && unsent < s.Mtu {
			// Hold back until more data or completion arrives.
			return segs, idx
		}

		size := unsent
		if size > s.Mtu {
			size = s.Mtu
		}

		segs = append(segs, Segment{
			Hdr: SegmentationHeader{
				First:   !s.sentFirst,
				Last:    last,
				Counter: s.nextCounter,
			},
			Payload: buf[idx : idx+size],
		})
		s.sentFirst = true
		s.nextCounter = (s.nextCounter + 1) % SEG_COUNTER_MOD

		idx += size
	}
}

// Reassembler rebuilds one procedure stream from received segments.
type Reassembler struct {
	active      bool
	nextCounter uint8
	buf         []byte

	// From the first segment's embedded ranging header.
	Hdr *RangingHeader
}

func NewReassembler() *Reassembler {
	return &Reassembler{}
}

func (r *Reassembler) Active() bool {
	return r.active
}

func (r *Reassembler) Reset() {
	r.active = false
	r.buf = nil
	r.Hdr = nil
}

// Rx consumes one received frame (segmentation header plus payload).
// It returns the complete stream when the last segment arrives, nil
// otherwise.  A malformed or out-of-sequence frame fails with an error
// and is dropped; an in-progress stream survives a dropped continuation
// only if the peer retransmits in order.
func (r *Reassembler) Rx(frame []byte) ([]byte, error) {
	if len(frame) < SEG_HDR_SZ {
		return nil, csxutil.NewTruncatedError("empty ranging data segment")
	}

	hdr := DecodeSegmentationHeader(frame[0])
	payload := frame[SEG_HDR_SZ:]

	if hdr.First {
		// A first segment carries at least the ranging header.
		rangingHdr, err := DecodeRangingHeader(csparse.NewReader(payload))
		if err != nil {
			return nil, err
		}

		r.active = true
		r.buf = append([]byte(nil), payload...)
		r.Hdr = rangingHdr
		r.nextCounter = (hdr.Counter + 1) % SEG_COUNTER_MOD
	} else {
		if !r.active {
			return nil, csxutil.NewTruncatedError(
				"continuation segment with no active first segment")
		}
		if hdr.Counter != r.nextCounter {
			return nil, csxutil.FmtTruncatedError(
				"segment counter %d; expected %d",
				hdr.Counter, r.nextCounter)
		}

		r.buf = append(r.buf, payload...)
		r.nextCounter = (r.nextCounter + 1) % SEG_COUNTER_MOD
	}

	if !hdr.Last {
		return nil, nil
	}

	stream := r.buf
	r.Reset()
	return stream, nil
}
