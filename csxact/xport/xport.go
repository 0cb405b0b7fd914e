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

// Package xport defines the boundary interfaces of the distance
// measurement manager: the controller collaborator it issues commands
// to, the typed completion events it consumes, and the callback surface
// it reports results on.  Concrete transports (host BLE, test fakes)
// live elsewhere.
package xport

import (
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/cshal"
)

// Capabilities as reported by a local or remote controller.
type Capabilities struct {
	NumAntennas           uint8
	MaxAntennaPaths       uint8
	InitiatorSupported    bool
	ReflectorSupported    bool
	PhaseBasedRanging     bool
	RttSoundingSupported  bool

	// Antenna switch time, microseconds.
	SwTime uint8
}

type CreateConfigParams struct {
	ConfigId             uint8
	CreateContext        uint8
	MainModeType         csdefs.CsMainModeType
	SubModeType          csdefs.CsSubModeType
	MinMainModeSteps     uint8
	MaxMainModeSteps     uint8
	MainModeRepetition   uint8
	Mode0Steps           uint8
	Role                 csdefs.CsRole
	RttType              csdefs.CsRttType
	ChannelMap           [10]byte
	ChannelMapRepetition uint8
	Ch3cJump             uint8
}

type ProcedureParams struct {
	ConfigId                   uint8
	MaxProcedureLen            uint16
	MinProcedureInterval       uint16
	MaxProcedureInterval       uint16
	MaxProcedureCount          uint16
	MinSubeventLen             uint32
	MaxSubeventLen             uint32
	ToneAntennaConfigSelection uint8
	TxPwrDelta                 uint8
	PreferredPeerAntenna       uint8
}

// Controller issues CS and telemetry commands to the local controller.
// All command methods are asynchronous: an error return means the
// command could not be submitted; the outcome arrives later as one of
// the event structs below.
type Controller interface {
	ReadLocalSupportedCapabilities() error
	ReadRemoteSupportedCapabilities(connHandle uint16) error
	SetDefaultSettings(connHandle uint16, roleEnable uint8,
		maxTxPower uint8) error
	CreateConfig(connHandle uint16, params *CreateConfigParams) error
	SecurityEnable(connHandle uint16) error
	SetProcedureParameters(connHandle uint16,
		params *ProcedureParams) error
	ProcedureEnable(connHandle uint16, configId uint8,
		enable csdefs.Enable) error

	ReadRemoteTransmitPowerLevel(connHandle uint16) error
	SetTransmitPowerReportingEnable(connHandle uint16,
		remoteEnable bool) error
	ReadRssi(connHandle uint16) error

	// Link queries; the manager never manages connections itself.
	ConnHandle(addr csdefs.BleAddr) (uint16, error)
	LocalHciRole(connHandle uint16) (csdefs.HciRole, error)
}

type LocalCapabilitiesEvent struct {
	Status csdefs.HciStatus
	Caps   Capabilities
}

type RemoteCapabilitiesEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
	Caps       Capabilities
}

type DefaultSettingsCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
}

type ConfigCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
	ConfigId   uint8
	Action     csdefs.CsAction

	MainModeType csdefs.CsMainModeType
	SubModeType  csdefs.CsSubModeType
	RttType      csdefs.CsRttType
	Role         csdefs.CsRole
	ChannelMap   [10]byte
}

type SecurityEnableCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
}

type ProcedureParamsCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
	ConfigId   uint8
}

type ProcedureEnableCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
	ConfigId   uint8
	State      csdefs.Enable

	ToneAntennaConfig uint8
	SelectedTxPower   uint8
	SubeventLen       uint32
	SubeventsPerEvent uint8
	SubeventInterval  uint16
	EventInterval     uint16
	ProcedureInterval uint16
	ProcedureCount    uint16
}

// StepResult is one step as delivered by a subevent result event: mode
// and channel, plus the raw mode-specific bytes.  Empty Data marks an
// aborted step.
type StepResult struct {
	Mode    uint8
	Channel uint8
	Data    []byte
}

// SubeventResultEvent opens a new subevent's result delivery.
type SubeventResultEvent struct {
	ConnHandle       uint16
	ConfigId         uint8
	StartAclConnEvent uint16
	ProcedureCounter uint16
	FreqCompensation uint16
	ReferencePowerLevel uint8
	NumAntennaPaths  uint8

	ProcedureDoneStatus  csdefs.CsDoneStatus
	SubeventDoneStatus   csdefs.CsDoneStatus
	ProcedureAbortReason csdefs.ProcedureAbortReason
	SubeventAbortReason  csdefs.SubeventAbortReason

	Steps []StepResult
}

// SubeventResultContinueEvent carries further steps of the subevent
// opened by the preceding SubeventResultEvent.
type SubeventResultContinueEvent struct {
	ConnHandle uint16
	ConfigId   uint8

	ProcedureDoneStatus  csdefs.CsDoneStatus
	SubeventDoneStatus   csdefs.CsDoneStatus
	ProcedureAbortReason csdefs.ProcedureAbortReason
	SubeventAbortReason  csdefs.SubeventAbortReason

	Steps []StepResult
}

// Transmit power reporting event reasons.
type TxPowerReportReason uint8

const (
	TX_POWER_REPORT_READ_COMPLETE TxPowerReportReason = 0x00
	TX_POWER_REPORT_LOCAL_CHANGED TxPowerReportReason = 0x01
	TX_POWER_REPORT_REMOTE_CHANGED TxPowerReportReason = 0x02
)

type TxPowerReportEvent struct {
	ConnHandle   uint16
	Status       csdefs.HciStatus
	Reason       TxPowerReportReason
	TxPowerLevel int8
}

type TxPowerReportingEnableCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
}

type ReadRssiCompleteEvent struct {
	ConnHandle uint16
	Status     csdefs.HciStatus
	Rssi       int8
}

// DistanceMeasurementCallbacks is the outward result surface.  All
// callbacks fire from the manager's task queue; implementations must
// not block.
type DistanceMeasurementCallbacks interface {
	OnStarted(addr csdefs.BleAddr, method csdefs.Method)
	OnStopped(addr csdefs.BleAddr, reason csdefs.Reason,
		method csdefs.Method)
	OnResult(addr csdefs.BleAddr, centimeters float64, confidence int8,
		timestampMs int64, method csdefs.Method)

	// Local-to-peer direction of the ranging data protocol.
	OnRasFragmentReady(addr csdefs.BleAddr, counter uint16, last bool,
		frame []byte)

	OnVendorSpecificCharacteristics(addr csdefs.BleAddr,
		chrs []cshal.VendorSpecificCharacteristic)
	OnVendorSpecificReply(addr csdefs.BleAddr,
		reply []cshal.VendorSpecificCharacteristic)
	OnVendorSpecificReplyComplete(addr csdefs.BleAddr, success bool)
}
