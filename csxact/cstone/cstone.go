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

// Package cstone decodes per-tone phase measurement (PCT) data: 12-bit
// signed I/Q samples packed in 16 bits, and the antenna-path permutation
// applied by the radio when multiplexing tones over multiple antennas.
package cstone

import (
	"fmt"
)

const IQ_SAMPLE_BITS = 12
const MAX_ANTENNA_PATHS = 4
const NUM_PERMUTATIONS = 24

// Antenna path permutations.  Row k of a CS tone block was measured on
// antenna path permutations[permIdx][k].  Paths are numbered from 1.
var permutations = [NUM_PERMUTATIONS][MAX_ANTENNA_PATHS]uint8{
	{1, 2, 3, 4}, {2, 1, 3, 4}, {1, 3, 2, 4}, {3, 1, 2, 4},
	{3, 2, 1, 4}, {2, 3, 1, 4}, {1, 2, 4, 3}, {2, 1, 4, 3},
	{1, 4, 2, 3}, {4, 1, 2, 3}, {4, 2, 1, 3}, {2, 4, 1, 3},
	{1, 4, 3, 2}, {4, 1, 3, 2}, {1, 3, 4, 2}, {3, 1, 4, 2},
	{3, 4, 1, 2}, {4, 3, 1, 2}, {4, 2, 3, 1}, {2, 4, 3, 1},
	{4, 3, 2, 1}, {3, 4, 2, 1}, {3, 2, 4, 1}, {2, 3, 4, 1},
}

// A single raw tone entry as reported by the controller: I/Q sample pair
// plus a tone quality indicator byte.
type RawTone struct {
	ISample uint16
	QSample uint16
	Quality uint8
}

// SignExtend interprets the low bits of raw as a two's complement value of
// the given width.
func SignExtend(raw uint16, bits uint) int16 {
	msbMask := uint16(1) << (bits - 1)
	signed := int16(raw)
	if raw&msbMask != 0 {
		signed |= ^int16(msbMask - 1)
	}
	return signed
}

// DecodeIQ converts a packed 12-bit I or Q sample to a normalized float in
// [-1, 1).
func DecodeIQ(sample uint16) float64 {
	return float64(SignExtend(sample, IQ_SAMPLE_BITS)) / 2048
}

// PCT returns the tone's phase measurement as a complex value.
func (t RawTone) PCT() complex128 {
	return complex(DecodeIQ(t.ISample), DecodeIQ(t.QSample))
}

// PathAtSlot maps slot k of a tone block onto a canonical zero-based
// antenna path index.  A block carries numPaths+1 entries; the final slot
// is always the tone extension and maps to index numPaths regardless of
// the permutation.
func PathAtSlot(permIdx int, slot int, numPaths int) (int, error) {
	if numPaths < 1 || numPaths > MAX_ANTENNA_PATHS {
		return 0, fmt.Errorf("invalid antenna path count: %d", numPaths)
	}
	if slot < 0 || slot > numPaths {
		return 0, fmt.Errorf("invalid tone slot: %d (num paths %d)",
			slot, numPaths)
	}
	if permIdx < 0 || permIdx >= NUM_PERMUTATIONS {
		return 0, fmt.Errorf("invalid antenna permutation index: %d",
			permIdx)
	}

	if slot == numPaths {
		// Tone extension slot.
		return numPaths, nil
	}

	path := int(permutations[permIdx][slot])
	if path > numPaths {
		return 0, fmt.Errorf(
			"permutation %d names path %d; only %d paths in procedure",
			permIdx, path, numPaths)
	}
	return path - 1, nil
}

// Reorder arranges a raw tone block into canonical ascending antenna path
// order, extension last.  len(tones) must equal numPaths+1.
func Reorder(permIdx int, numPaths int, tones []RawTone) ([]RawTone, error) {
	if len(tones) != numPaths+1 {
		return nil, fmt.Errorf(
			"tone block has %d entries; want %d for %d antenna paths",
			len(tones), numPaths+1, numPaths)
	}

	out := make([]RawTone, len(tones))
	for k, t := range tones {
		path, err := PathAtSlot(permIdx, k, numPaths)
		if err != nil {
			return nil, err
		}
		out[path] = t
	}
	return out, nil
}
