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

package ras

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/csmgr/csxact/csparse"
	"mynewt.apache.org/csmgr/csxact/csxutil"
)

// Builds a procedure stream of length total whose first RANGING_HDR_SZ
// bytes are a valid ranging header.
func testStream(t *testing.T, counter uint16, total int) []byte {
	require.True(t, total >= RANGING_HDR_SZ)

	w := csparse.NewWriter()
	hdr := RangingHeader{
		RangingCounter:  counter,
		ConfigId:        1,
		SelectedTxPower: 4,
		AntennaPathMask: 0x3,
	}
	hdr.Encode(w)

	buf := w.Bytes()
	for i := len(buf); i < total; i++ {
		buf = append(buf, byte(i))
	}
	return buf
}

func TestSegmentationHeaderRoundTrip(t *testing.T) {
	for _, h := range []SegmentationHeader{
		{First: true, Counter: 0},
		{Last: true, Counter: 63},
		{First: true, Last: true, Counter: 17},
		{Counter: 42},
	} {
		assert.Equal(t, h, DecodeSegmentationHeader(h.Encode()))
	}
}

func TestRangingHeaderRoundTrip(t *testing.T) {
	src := RangingHeader{
		RangingCounter:  0x0abc,
		ConfigId:        3,
		SelectedTxPower: 0xf6,
		AntennaPathMask: 0x7,
		PctFormat:       1,
	}

	w := csparse.NewWriter()
	src.Encode(w)
	assert.Equal(t, RANGING_HDR_SZ, w.Len())

	dec, err := DecodeRangingHeader(csparse.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, &src, dec)
}

func TestSubeventHeaderRoundTrip(t *testing.T) {
	src := SubeventHeader{
		StartAclConnEvent:   0x1234,
		FreqCompensation:    0xc000,
		RangingDoneStatus:   0x1,
		SubeventDoneStatus:  0x0,
		RangingAbortReason:  0x0,
		SubeventAbortReason: 0x2,
		ReferencePowerLevel: 0xb0,
		NumStepsReported:    12,
	}

	w := csparse.NewWriter()
	src.Encode(w)
	assert.Equal(t, SUBEVENT_HDR_SZ, w.Len())

	dec, err := DecodeSubeventHeader(csparse.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, &src, dec)
}

// Splitting any stream and reassembling must yield the original bytes,
// with last set on exactly one segment and counters increasing mod 64.
func TestSegmentRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		total int
		mtu   int
	}{
		{total: RANGING_HDR_SZ, mtu: 507},
		{total: 200, mtu: 507},
		{total: 507, mtu: 507},
		{total: 508, mtu: 507},
		{total: 5000, mtu: 507},
		{total: 700, mtu: 10}, // forces counter wraparound
	} {
		stream := testStream(t, 0x123, tc.total)

		segmenter := NewSegmenter(tc.mtu)
		segs, idx := segmenter.Pump(stream, 0, true)
		assert.Equal(t, len(stream), idx)

		numLast := 0
		for i, seg := range segs {
			assert.Equal(t, i == 0, seg.Hdr.First)
			assert.Equal(t, uint8(i%SEG_COUNTER_MOD), seg.Hdr.Counter)
			if seg.Hdr.Last {
				numLast++
			}
			assert.True(t, len(seg.Payload) <= tc.mtu)
		}
		assert.Equal(t, 1, numLast)
		assert.True(t, segs[len(segs)-1].Hdr.Last)

		reassembler := NewReassembler()
		var out []byte
		for _, seg := range segs {
			done, err := reassembler.Rx(seg.Encode())
			require.NoError(t, err)
			out = done
		}
		require.NotNil(t, out)
		assert.Equal(t, stream, out)
		assert.Nil(t, reassembler.Hdr) // reset after completion
	}
}

// A partial sub-MTU buffer is held back until completion; the final
// flush always sends the remainder.
func TestSegmenterHoldback(t *testing.T) {
	stream := testStream(t, 1, 100)
	segmenter := NewSegmenter(507)

	segs, idx := segmenter.Pump(stream, 0, false)
	assert.Len(t, segs, 0)
	assert.Equal(t, 0, idx)

	segs, idx = segmenter.Pump(stream, 0, true)
	require.Len(t, segs, 1)
	assert.Equal(t, len(stream), idx)
	assert.True(t, segs[0].Hdr.First)
	assert.True(t, segs[0].Hdr.Last)
}

// Incremental pumping: full-MTU chunks go out while partial, without
// the last flag; completion flushes the rest with last set.
func TestSegmenterIncremental(t *testing.T) {
	stream := testStream(t, 1, 25)
	segmenter := NewSegmenter(10)

	segs, idx := segmenter.Pump(stream, 0, false)
	require.Len(t, segs, 2)
	assert.Equal(t, 20, idx)
	assert.False(t, segs[0].Hdr.Last)
	assert.False(t, segs[1].Hdr.Last)

	segs, idx = segmenter.Pump(stream, idx, true)
	require.Len(t, segs, 1)
	assert.Equal(t, 25, idx)
	assert.False(t, segs[0].Hdr.First)
	assert.True(t, segs[0].Hdr.Last)
	assert.Equal(t, uint8(2), segs[0].Hdr.Counter)
}

func TestReassemblerNoFirstSegment(t *testing.T) {
	reassembler := NewReassembler()

	hdr := SegmentationHeader{Counter: 5}
	_, err := reassembler.Rx([]byte{hdr.Encode(), 0xaa, 0xbb})
	assert.True(t, csxutil.IsTruncated(err))
	assert.False(t, reassembler.Active())
}

func TestReassemblerCounterGap(t *testing.T) {
	stream := testStream(t, 7, 30)
	segmenter := NewSegmenter(10)
	segs, _ := segmenter.Pump(stream, 0, true)
	require.Len(t, segs, 3)

	reassembler := NewReassembler()
	_, err := reassembler.Rx(segs[0].Encode())
	require.NoError(t, err)

	// Skip segment 1; segment 2's counter does not match.
	_, err = reassembler.Rx(segs[2].Encode())
	assert.True(t, csxutil.IsTruncated(err))
}

func TestReassemblerExposesRangingHeader(t *testing.T) {
	stream := testStream(t, 0x0abc, 40)
	segmenter := NewSegmenter(20)
	segs, _ := segmenter.Pump(stream, 0, true)
	require.True(t, len(segs) >= 2)

	reassembler := NewReassembler()
	_, err := reassembler.Rx(segs[0].Encode())
	require.NoError(t, err)

	require.NotNil(t, reassembler.Hdr)
	assert.Equal(t, uint16(0x0abc), reassembler.Hdr.RangingCounter)
}
