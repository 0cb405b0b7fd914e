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

// Mode-specific step data layouts, shared by the controller subevent
// events and the reassembled ranging data stream.
//
// Wire layouts (all little-endian):
//
//	tone entry (4 bytes):  bits 0-11 I sample; 12-23 Q sample; 24-31
//	                       tone quality indicator
//	packet PCT (3 bytes):  bits 0-11 I sample; 12-23 Q sample
//
//	mode 0, initiator:  quality(1) rssi(1) antenna(1) freq_offset(2)
//	mode 0, reflector:  quality(1) rssi(1) antenna(1)
//	mode 1:             quality(1) nadm(1) rssi(1) toa_tod(2) antenna(1)
//	                    [pct1(3) pct2(3)]
//	mode 2:             permutation_index(1) tone[num_paths+1]
//	mode 3:             quality(1) nadm(1) rssi(1) toa_tod(2) antenna(1)
//	                    permutation_index(1) [pct1(3) pct2(3)]
//	                    tone[num_paths+1]
//
// The bracketed packet PCT fields are present only when the procedure's
// RTT type carries a sounding sequence.
package csparse

import (
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cstone"
	"mynewt.apache.org/csmgr/csxact/csxutil"
)

// Step mode byte as carried in the ranging data stream: mode in the low
// nibble, bit 7 set if the step was aborted (no step data follows).
const STEP_MODE_MASK uint8 = 0x0f
const STEP_ABORTED_BIT uint8 = 0x80

// A packet phase measurement from a sounding sequence.  Samples are raw
// 12-bit values; decode with cstone.
type Pct struct {
	ISample uint16
	QSample uint16
}

type Mode0Data struct {
	PacketQuality uint8
	PacketRssi    uint8
	PacketAntenna uint8

	// Initiator steps only; nil when the controller reported the
	// reserved "unavailable" value.
	MeasuredFreqOffset *uint16
}

type Mode1Data struct {
	PacketQuality uint8
	PacketNadm    uint8
	PacketRssi    uint8
	RttToaTod     uint16
	PacketAntenna uint8

	// Present only for sounding sequence RTT types.
	PacketPct1 *Pct
	PacketPct2 *Pct
}

type Mode2Data struct {
	AntennaPermutationIndex uint8

	// num_antenna_paths+1 entries, in transmission order.  Use
	// cstone.Reorder for canonical antenna path order.
	Tones []cstone.RawTone
}

type Mode3Data struct {
	Mode1Data
	AntennaPermutationIndex uint8
	Tones                   []cstone.RawTone
}

// Mode0Size returns the wire size of a mode 0 step for the given role.
func Mode0Size(role csdefs.CsRole) int {
	if role == csdefs.CS_ROLE_INITIATOR {
		return 5
	}
	return 3
}

func Mode1Size(sounding bool) int {
	if sounding {
		return 12
	}
	return 6
}

func Mode2Size(numPaths int) int {
	return 1 + 4*(numPaths+1)
}

func Mode3Size(numPaths int, sounding bool) int {
	size := 7 + 4*(numPaths+1)
	if sounding {
		size += 6
	}
	return size
}

// StepSize returns the wire size of the given step mode's data, or a
// TruncatedError for an unknown mode.
func StepSize(mode uint8, role csdefs.CsRole, numPaths int,
	sounding bool) (int, error) {

	switch mode {
	case 0:
		return Mode0Size(role), nil
	case 1:
		return Mode1Size(sounding), nil
	case 2:
		return Mode2Size(numPaths), nil
	case 3:
		return Mode3Size(numPaths, sounding), nil
	default:
		return 0, csxutil.FmtTruncatedError("unknown step mode: %d", mode)
	}
}

func readPct(r *Reader) (*Pct, error) {
	u24, err := r.ReadU24()
	if err != nil {
		return nil, err
	}

	return &Pct{
		ISample: uint16(u24) & 0x0fff,
		QSample: uint16(u24>>12) & 0x0fff,
	}, nil
}

func writePct(w *Writer, pct *Pct) {
	u24 := uint32(pct.ISample&0x0fff) | uint32(pct.QSample&0x0fff)<<12
	w.WriteU24(u24)
}

func readTones(r *Reader, count int) ([]cstone.RawTone, error) {
	tones := make([]cstone.RawTone, count)
	for k := 0; k < count; k++ {
		u32, err := r.ReadU32()
		if err != nil {
			return nil, err
		}

		tones[k] = cstone.RawTone{
			ISample: uint16(u32) & 0x0fff,
			QSample: uint16(u32>>12) & 0x0fff,
			Quality: uint8(u32 >> 24),
		}
	}
	return tones, nil
}

func writeTones(w *Writer, tones []cstone.RawTone) {
	for _, t := range tones {
		u32 := uint32(t.ISample&0x0fff) |
			uint32(t.QSample&0x0fff)<<12 |
			uint32(t.Quality)<<24
		w.WriteU32(u32)
	}
}

func ParseMode0(r *Reader, role csdefs.CsRole) (*Mode0Data, error) {
	d := &Mode0Data{}

	var err error
	if d.PacketQuality, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketRssi, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketAntenna, err = r.ReadU8(); err != nil {
		return nil, err
	}

	if role == csdefs.CS_ROLE_INITIATOR {
		offset, err := r.ReadU16()
		if err != nil {
			return nil, err
		}
		if offset != csdefs.FREQ_OFFSET_UNAVAILABLE {
			d.MeasuredFreqOffset = &offset
		}
	}

	return d, nil
}

func EncodeMode0(w *Writer, d *Mode0Data, role csdefs.CsRole) {
	w.WriteU8(d.PacketQuality)
	w.WriteU8(d.PacketRssi)
	w.WriteU8(d.PacketAntenna)

	if role == csdefs.CS_ROLE_INITIATOR {
		if d.MeasuredFreqOffset != nil {
			w.WriteU16(*d.MeasuredFreqOffset)
		} else {
			w.WriteU16(csdefs.FREQ_OFFSET_UNAVAILABLE)
		}
	}
}

func ParseMode1(r *Reader, sounding bool) (*Mode1Data, error) {
	d := &Mode1Data{}

	var err error
	if d.PacketQuality, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketNadm, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketRssi, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.RttToaTod, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if d.PacketAntenna, err = r.ReadU8(); err != nil {
		return nil, err
	}

	if sounding {
		if d.PacketPct1, err = readPct(r); err != nil {
			return nil, err
		}
		if d.PacketPct2, err = readPct(r); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func encodeMode1Fields(w *Writer, d *Mode1Data, sounding bool) {
	w.WriteU8(d.PacketQuality)
	w.WriteU8(d.PacketNadm)
	w.WriteU8(d.PacketRssi)
	w.WriteU16(d.RttToaTod)
	w.WriteU8(d.PacketAntenna)

	if sounding {
		writePct(w, d.PacketPct1)
		writePct(w, d.PacketPct2)
	}
}

func EncodeMode1(w *Writer, d *Mode1Data, sounding bool) {
	encodeMode1Fields(w, d, sounding)
}

// ParseMode2 decodes a mode 2 step carrying numPaths+1 tone entries.  The
// caller must validate the remaining length with Mode2Size first if it
// needs the drop-the-message semantics; a short buffer here fails with a
// TruncatedError either way.
func ParseMode2(r *Reader, numPaths int) (*Mode2Data, error) {
	d := &Mode2Data{}

	var err error
	if d.AntennaPermutationIndex, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.Tones, err = readTones(r, numPaths+1); err != nil {
		return nil, err
	}

	return d, nil
}

func EncodeMode2(w *Writer, d *Mode2Data) {
	w.WriteU8(d.AntennaPermutationIndex)
	writeTones(w, d.Tones)
}

func ParseMode3(r *Reader, numPaths int, sounding bool) (*Mode3Data, error) {
	d := &Mode3Data{}

	var err error
	if d.PacketQuality, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketNadm, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.PacketRssi, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.RttToaTod, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if d.PacketAntenna, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if d.AntennaPermutationIndex, err = r.ReadU8(); err != nil {
		return nil, err
	}

	if sounding {
		if d.PacketPct1, err = readPct(r); err != nil {
			return nil, err
		}
		if d.PacketPct2, err = readPct(r); err != nil {
			return nil, err
		}
	}

	if d.Tones, err = readTones(r, numPaths+1); err != nil {
		return nil, err
	}

	return d, nil
}

func EncodeMode3(w *Writer, d *Mode3Data, sounding bool) {
	w.WriteU8(d.PacketQuality)
	w.WriteU8(d.PacketNadm)
	w.WriteU8(d.PacketRssi)
	w.WriteU16(d.RttToaTod)
	w.WriteU8(d.PacketAntenna)
	w.WriteU8(d.AntennaPermutationIndex)

	if sounding {
		writePct(w, d.PacketPct1)
		writePct(w, d.PacketPct2)
	}

	writeTones(w, d.Tones)
}

// StepData is the parsed form of one CS step.  Exactly one of the mode
// pointers is non-nil unless the step was aborted.
type StepData struct {
	Channel uint8
	Mode    uint8
	Aborted bool

	Mode0 *Mode0Data
	Mode1 *Mode1Data
	Mode2 *Mode2Data
	Mode3 *Mode3Data
}

// ParseStep decodes one step's mode-specific data from r.  The remaining
// buffer length is validated against the mode's wire size before any
// field is read, so a failure consumes nothing.
func ParseStep(r *Reader, mode uint8, role csdefs.CsRole, numPaths int,
	sounding bool) (*StepData, error) {

	size, err := StepSize(mode, role, numPaths, sounding)
	if err != nil {
		return nil, err
	}
	if r.Len() < size {
		return nil, csxutil.FmtTruncatedError(
			"mode %d step needs %d bytes; %d remain", mode, size, r.Len())
	}

	sd := &StepData{
		Mode: mode,
	}

	switch mode {
	case 0:
		sd.Mode0, err = ParseMode0(r, role)
	case 1:
		sd.Mode1, err = ParseMode1(r, sounding)
	case 2:
		sd.Mode2, err = ParseMode2(r, numPaths)
	case 3:
		sd.Mode3, err = ParseMode3(r, numPaths, sounding)
	}
	if err != nil {
		return nil, err
	}

	return sd, nil
}
