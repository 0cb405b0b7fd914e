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

package csproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cstone"
	"mynewt.apache.org/csmgr/csxact/ras"
)

func newTestPd(counter uint16) *ProcedureData {
	return NewProcedureData(counter, 2, 1, 4, csdefs.RAS_MTU)
}

func TestNewProcedureData(t *testing.T) {
	pd := newTestPd(0x1234)

	assert.Equal(t, csdefs.CS_DONE_STATUS_PARTIAL, pd.LocalStatus)
	assert.Equal(t, csdefs.CS_DONE_STATUS_PARTIAL, pd.RemoteStatus)
	assert.Equal(t, uint16(0x0234), pd.RangingHdr.RangingCounter)
	assert.Equal(t, uint8(0x3), pd.RangingHdr.AntennaPathMask)

	// Stream starts with the encoded ranging header.
	assert.Equal(t, ras.RANGING_HDR_SZ, len(pd.Stream))

	// One row per antenna path plus the tone extension.
	assert.Len(t, pd.TonePctInitiator, 3)
}

func TestAddTonesSpreadsPerPath(t *testing.T) {
	pd := newTestPd(1)

	// Permutation 1 is {2,1,...}: first raw entry is path 2, second is
	// path 1, third is the extension.
	err := pd.AddTones(csdefs.CS_ROLE_INITIATOR, 1, []cstone.RawTone{
		{ISample: 0x100, Quality: 0xa},
		{ISample: 0x200, Quality: 0xb},
		{ISample: 0x300, Quality: 0xc},
	})
	require.NoError(t, err)

	require.Len(t, pd.TonePctInitiator[0], 1)
	assert.Equal(t, cstone.DecodeIQ(0x200), real(pd.TonePctInitiator[0][0]))
	assert.Equal(t, cstone.DecodeIQ(0x100), real(pd.TonePctInitiator[1][0]))
	assert.Equal(t, cstone.DecodeIQ(0x300), real(pd.TonePctInitiator[2][0]))
	assert.Equal(t, uint8(0xb), pd.ToneQualityInitiator[0][0])

	// Reflector series untouched.
	assert.Len(t, pd.TonePctReflector[0], 0)
}

func TestAddRtt(t *testing.T) {
	pd := newTestPd(1)

	pd.AddRtt(csdefs.CS_ROLE_INITIATOR, 3, 0xfffe)
	pd.AddRtt(csdefs.CS_ROLE_REFLECTOR, 4, 0x0005)

	require.Len(t, pd.ToaTodInitiators, 1)
	assert.Equal(t, int16(-2), pd.ToaTodInitiators[0])
	require.Len(t, pd.TodToaReflectors, 1)
	assert.Equal(t, int16(5), pd.TodToaReflectors[0])
}

func TestFlushAndPump(t *testing.T) {
	pd := newTestPd(1)

	pd.SubeventHdr.NumStepsReported = 2
	pd.AppendStepBytes([]byte{0x01, 0xaa, 0xbb})
	pd.AppendStepBytes([]byte{0x81})
	pd.FlushSubevent()

	assert.Nil(t, pd.SubeventSteps)
	assert.Equal(t, ras.RANGING_HDR_SZ+ras.SUBEVENT_HDR_SZ+4,
		len(pd.Stream))

	// Still partial and below one MTU: held back.
	segs := pd.PumpSegments()
	assert.Len(t, segs, 0)
	assert.False(t, pd.FullySent())

	pd.LocalStatus = csdefs.CS_DONE_STATUS_ALL_COMPLETE
	segs = pd.PumpSegments()
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Hdr.First)
	assert.True(t, segs[0].Hdr.Last)
	assert.Equal(t, pd.Stream, segs[0].Payload)
	assert.True(t, pd.FullySent())
}

func TestRingEviction(t *testing.T) {
	ring := NewRing(3)
	for counter := uint16(0); counter < 5; counter++ {
		ring.Add(newTestPd(counter))
	}

	assert.Equal(t, 3, ring.Len())
	assert.Nil(t, ring.Get(0))
	assert.Nil(t, ring.Get(1))
	assert.NotNil(t, ring.Get(2))
	assert.Equal(t, uint16(4), ring.Newest().Counter)
}

func TestRingRangingCounterLookup(t *testing.T) {
	ring := NewRing(16)
	ring.Add(newTestPd(0x1002))

	// Lookup uses only the low 12 bits.
	pd := ring.GetByRangingCounter(0x0002)
	require.NotNil(t, pd)
	assert.Equal(t, uint16(0x1002), pd.Counter)

	assert.Nil(t, ring.GetByRangingCounter(0x0003))
}

func TestRingDeleteBefore(t *testing.T) {
	ring := NewRing(16)
	for counter := uint16(10); counter < 14; counter++ {
		ring.Add(newTestPd(counter))
	}

	ring.DeleteBefore(12)
	assert.Equal(t, 2, ring.Len())
	assert.Nil(t, ring.Get(11))
	assert.NotNil(t, ring.Get(12))
}
