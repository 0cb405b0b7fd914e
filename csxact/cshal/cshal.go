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

// Package cshal defines the interface to the vendor ranging hardware
// abstraction.  Two result-delivery schemes exist: a v1 HAL receives the
// fully decoded raw measurement arrays for a whole procedure; a v2 HAL
// receives structured per-subevent records for both sides, with
// timestamps, as they were captured.
package cshal

import (
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/csparse"
)

type HalVersion int

const (
	HAL_V1 HalVersion = 1
	HAL_V2 HalVersion = 2
)

// Confidence level of a ranging result: 0 (low) to 100 (high), or -1
// when the HAL does not report one.
const CONFIDENCE_UNAVAILABLE int8 = -1

type VendorSpecificCharacteristic struct {
	Uuid  [16]byte
	Value []byte
}

// RawData is the v1 payload: one procedure's accumulated measurements,
// decoded and grouped per antenna path.  The outer dimension of the
// tone slices is antenna path (canonical order, extension last).
type RawData struct {
	NumAntennaPaths uint8
	StepChannels    []uint8

	TonePctInitiator     [][]complex128
	TonePctReflector     [][]complex128
	ToneQualityInitiator [][]uint8
	ToneQualityReflector [][]uint8

	PacketQualityInitiator []uint8
	PacketQualityReflector []uint8
	ToaTodInitiators       []int16
	TodToaReflectors       []int16
}

// StepSpecificData is one step's measurement in a v2 subevent record.
// Exactly one mode pointer is non-nil.
type StepSpecificData struct {
	StepChannel uint8
	ModeType    uint8

	Mode0 *csparse.Mode0Data
	Mode1 *csparse.Mode1Data
	Mode2 *csparse.Mode2Data
	Mode3 *csparse.Mode3Data
}

// SubeventResult is one batch of step results from one side.
type SubeventResult struct {
	StartAclConnEventCounter uint16

	// Units of 0.01 ppm; FREQ_OFFSET_UNAVAILABLE when not measured or
	// the side is not the initiator.
	FrequencyCompensation uint16

	ReferencePowerLevel uint8
	NumAntennaPaths     uint8
	AbortReason         csdefs.SubeventAbortReason
	StepData            []StepSpecificData

	// Host-assigned; epoch nanoseconds when the subevent was received.
	TimestampNanos int64
}

func NewSubeventResult() *SubeventResult {
	return &SubeventResult{
		FrequencyCompensation: csdefs.FREQ_OFFSET_UNAVAILABLE,
	}
}

// ProcedureDataV2 is the v2 payload: both sides of one procedure.
type ProcedureDataV2 struct {
	LocalSubevents  []*SubeventResult
	RemoteSubevents []*SubeventResult

	LocalAbortReason  csdefs.ProcedureAbortReason
	RemoteAbortReason csdefs.ProcedureAbortReason

	LocalSelectedTxPower  uint8
	RemoteSelectedTxPower uint8
}

type RangingResult struct {
	Meters     float64
	Confidence int8
}

// ChannelSoundingConfig carries the negotiated CS config to a v2 HAL
// after config creation completes.
type ChannelSoundingConfig struct {
	ConfigId             uint8
	Role                 csdefs.CsRole
	MainModeType         csdefs.CsMainModeType
	SubModeType          csdefs.CsSubModeType
	RttType              csdefs.CsRttType
	ChannelMap           [10]byte
	LocalSupportedSwTime uint8
	RemoteSupportedSwTime uint8
	ConnInterval         uint16
}

// ProcedureEnableConfig carries the procedure-enable completion
// parameters to a v2 HAL.
type ProcedureEnableConfig struct {
	ConfigId           uint8
	State              csdefs.Enable
	ToneAntennaConfig  uint8
	SelectedTxPower    uint8
	SubeventLen        uint32
	SubeventsPerEvent  uint8
	SubeventInterval   uint16
	EventInterval      uint16
	ProcedureInterval  uint16
	ProcedureCount     uint16
}

// RangingHalCallback receives asynchronous results from the HAL.  The
// callbacks may fire on any goroutine.
type RangingHalCallback interface {
	OnOpened(connHandle uint16, reply []VendorSpecificCharacteristic)
	OnOpenFailed(connHandle uint16)
	OnHandleVendorSpecificReplyComplete(connHandle uint16, success bool)
	OnResult(connHandle uint16, result RangingResult)
}

type RangingHal interface {
	Bound() bool
	Version() HalVersion
	SetCallback(cb RangingHalCallback)

	VendorSpecificCharacteristics() []VendorSpecificCharacteristic
	OpenSession(connHandle uint16, attHandle uint16,
		vendorData []VendorSpecificCharacteristic)
	HandleVendorSpecificReply(connHandle uint16,
		reply []VendorSpecificCharacteristic)

	WriteRawData(connHandle uint16, data *RawData)
	WriteProcedureData(connHandle uint16, localRole csdefs.CsRole,
		data *ProcedureDataV2, counter uint16)

	UpdateChannelSoundingConfig(connHandle uint16, cfg *ChannelSoundingConfig)
	UpdateConnInterval(connHandle uint16, itvl uint16)
	UpdateProcedureEnableConfig(connHandle uint16, cfg *ProcedureEnableConfig)
}
