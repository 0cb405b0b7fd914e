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

package csdefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The UUIDs of the Ranging Service and its characteristics.
const RasSvcUuid = 0x185b
const RasRealTimeDataChrUuid = 0x2c14
const RasOnDemandDataChrUuid = 0x2c15
const RasControlPointChrUuid = 0x2c16

const CONN_HANDLE_NONE uint16 = 0xffff

// Config ids are a shared resource between the requester and responder
// trackers of one connection.
const CONFIG_ID_NONE uint8 = 0xff
const CONFIG_ID_MIN uint8 = 0
const CONFIG_ID_MAX uint8 = 3

const PROC_DATA_RING_CAP = 16
const RANGING_COUNTER_MASK uint16 = 0x0fff

// 512 - 5; one RAS segment must fit in a single GATT notification.
const RAS_MTU = 507

const DFLT_INTERVAL_MS = 1000
const CREATE_CONFIG_MAX_RETRIES = 3

const TX_POWER_NOT_AVAILABLE uint8 = 0xfe
const RSSI_DROPOFF_AT_1M = 41
const CS_MAX_TX_POWER = 10 // dBm

// CS procedure parameter defaults.
const CS_MIN_MAIN_MODE_STEPS = 0x02
const CS_MAX_MAIN_MODE_STEPS = 0x05
const CS_MAIN_MODE_REPETITION = 0x00
const CS_MODE_0_STEPS = 0x03
const CS_CHANNEL_MAP_REPETITION = 0x01
const CS_CH3C_JUMP = 0x03
const CS_MAX_PROCEDURE_LEN = 0x2710 // 6.25 s
const CS_MIN_PROCEDURE_INTERVAL = 0x01
const CS_MAX_PROCEDURE_INTERVAL = 0xff
const CS_MIN_SUBEVENT_LEN = 0x0004e2 // 1250 us
const CS_MAX_SUBEVENT_LEN = 0x3d0900 // 4 s
const CS_TX_PWR_DELTA = 0x00

// RAS reassembly timeout windows, in milliseconds.
const RAS_FIRST_SEGMENT_TMO_MS = 5000
const RAS_FOLLOWING_SEGMENT_TMO_MS = 1000
const RAS_DATA_READY_TMO_MS = 5000

// Sentinels defined by the controller spec: "reserved" means the value is
// unavailable, not zero.
const FREQ_OFFSET_UNAVAILABLE uint16 = 0xc000
const PACKET_RSSI_UNAVAILABLE uint8 = 0x7f

type CsRole int

const (
	CS_ROLE_INITIATOR CsRole = 0
	CS_ROLE_REFLECTOR CsRole = 1
)

var CsRoleStringMap = map[CsRole]string{
	CS_ROLE_INITIATOR: "initiator",
	CS_ROLE_REFLECTOR: "reflector",
}

func CsRoleToString(role CsRole) string {
	s := CsRoleStringMap[role]
	if s == "" {
		return "???"
	}

	return s
}

func CsRoleFromString(s string) (CsRole, error) {
	for role, name := range CsRoleStringMap {
		if s == name {
			return role, nil
		}
	}

	return CsRole(0), fmt.Errorf("invalid role string: %s", s)
}

// Invert returns the role of the peer device.
func (r CsRole) Invert() CsRole {
	if r == CS_ROLE_INITIATOR {
		return CS_ROLE_REFLECTOR
	}
	return CS_ROLE_INITIATOR
}

// The role of the local device on the underlying LE connection.
type HciRole int

const (
	HCI_ROLE_CENTRAL    HciRole = 0
	HCI_ROLE_PERIPHERAL HciRole = 1
)

type CsTrackerState uint8

const (
	CS_TRACKER_STATE_UNSPECIFIED         CsTrackerState = 0x00
	CS_TRACKER_STATE_STOPPED             CsTrackerState = 1 << 0
	CS_TRACKER_STATE_INIT                CsTrackerState = 1 << 1
	CS_TRACKER_STATE_RAS_CONNECTED       CsTrackerState = 1 << 2
	CS_TRACKER_STATE_WAIT_CONFIG         CsTrackerState = 1 << 3
	CS_TRACKER_STATE_WAIT_SECURITY       CsTrackerState = 1 << 4
	CS_TRACKER_STATE_WAIT_PROC_ENABLED   CsTrackerState = 1 << 5
	CS_TRACKER_STATE_STARTED             CsTrackerState = 1 << 6
)

var csTrackerStateStringMap = map[CsTrackerState]string{
	CS_TRACKER_STATE_UNSPECIFIED:       "unspecified",
	CS_TRACKER_STATE_STOPPED:           "stopped",
	CS_TRACKER_STATE_INIT:              "init",
	CS_TRACKER_STATE_RAS_CONNECTED:     "ras_connected",
	CS_TRACKER_STATE_WAIT_CONFIG:       "wait_for_config_complete",
	CS_TRACKER_STATE_WAIT_SECURITY:     "wait_for_security_enabled",
	CS_TRACKER_STATE_WAIT_PROC_ENABLED: "wait_for_procedure_enabled",
	CS_TRACKER_STATE_STARTED:           "started",
}

func CsTrackerStateToString(state CsTrackerState) string {
	s := csTrackerStateStringMap[state]
	if s == "" {
		return "???"
	}

	return s
}

// Procedure- and subevent-done statuses as reported by the controller.
type CsDoneStatus uint8

const (
	CS_DONE_STATUS_ALL_COMPLETE CsDoneStatus = 0x0
	CS_DONE_STATUS_PARTIAL      CsDoneStatus = 0x1
	CS_DONE_STATUS_ABORTED      CsDoneStatus = 0xf
)

var csDoneStatusStringMap = map[CsDoneStatus]string{
	CS_DONE_STATUS_ALL_COMPLETE: "all_results_complete",
	CS_DONE_STATUS_PARTIAL:      "partial_results",
	CS_DONE_STATUS_ABORTED:      "aborted",
}

func CsDoneStatusToString(status CsDoneStatus) string {
	s := csDoneStatusStringMap[status]
	if s == "" {
		return "???"
	}

	return s
}

type ProcedureAbortReason uint8

const (
	PROCEDURE_ABORT_NONE           ProcedureAbortReason = 0x0
	PROCEDURE_ABORT_LOCAL_OR_REMOTE ProcedureAbortReason = 0x1
	PROCEDURE_ABORT_CHANNEL_MAP     ProcedureAbortReason = 0x2
	PROCEDURE_ABORT_UNSPECIFIED     ProcedureAbortReason = 0xf
)

type SubeventAbortReason uint8

const (
	SUBEVENT_ABORT_NONE            SubeventAbortReason = 0x0
	SUBEVENT_ABORT_LOCAL_OR_REMOTE SubeventAbortReason = 0x1
	SUBEVENT_ABORT_NO_CS_SYNC      SubeventAbortReason = 0x2
	SUBEVENT_ABORT_SCHEDULING      SubeventAbortReason = 0x3
	SUBEVENT_ABORT_UNSPECIFIED     SubeventAbortReason = 0xf
)

type CsMainModeType uint8

const (
	CS_MAIN_MODE_1 CsMainModeType = 0x1
	CS_MAIN_MODE_2 CsMainModeType = 0x2
	CS_MAIN_MODE_3 CsMainModeType = 0x3
)

type CsSubModeType uint8

const (
	CS_SUB_MODE_1      CsSubModeType = 0x1
	CS_SUB_MODE_2      CsSubModeType = 0x2
	CS_SUB_MODE_3      CsSubModeType = 0x3
	CS_SUB_MODE_UNUSED CsSubModeType = 0xff
)

type CsRttType uint8

const (
	CS_RTT_AA_ONLY              CsRttType = 0x0
	CS_RTT_32_BIT_SOUNDING_SEQ  CsRttType = 0x1
	CS_RTT_96_BIT_SOUNDING_SEQ  CsRttType = 0x2
	CS_RTT_32_BIT_RANDOM_SEQ    CsRttType = 0x3
	CS_RTT_64_BIT_RANDOM_SEQ    CsRttType = 0x4
	CS_RTT_96_BIT_RANDOM_SEQ    CsRttType = 0x5
	CS_RTT_128_BIT_RANDOM_SEQ   CsRttType = 0x6
)

// ContainsSoundingSeq indicates whether the RTT type carries a sounding
// sequence, which changes the mode-1 and mode-3 wire layouts.
func (t CsRttType) ContainsSoundingSeq() bool {
	return t == CS_RTT_32_BIT_SOUNDING_SEQ || t == CS_RTT_96_BIT_SOUNDING_SEQ
}

type Method int

const (
	METHOD_AUTO Method = 0
	METHOD_RSSI Method = 1
	METHOD_CS   Method = 2
)

var MethodStringMap = map[Method]string{
	METHOD_AUTO: "auto",
	METHOD_RSSI: "rssi",
	METHOD_CS:   "cs",
}

func MethodToString(method Method) string {
	s := MethodStringMap[method]
	if s == "" {
		return "???"
	}

	return s
}

func MethodFromString(s string) (Method, error) {
	for method, name := range MethodStringMap {
		if s == name {
			return method, nil
		}
	}

	return Method(0), fmt.Errorf("invalid method string: %s", s)
}

// Reason codes surfaced on measurement-stopped callbacks.
type Reason int

const (
	REASON_FEATURE_UNSUPPORTED_LOCAL  Reason = 0
	REASON_FEATURE_UNSUPPORTED_REMOTE Reason = 1
	REASON_LOCAL_REQUEST              Reason = 2
	REASON_REMOTE_REQUEST             Reason = 3
	REASON_DURATION_TIMEOUT           Reason = 4
	REASON_NO_LE_CONNECTION           Reason = 5
	REASON_INVALID_PARAMETERS         Reason = 6
	REASON_INTERNAL_ERROR             Reason = 7
)

var ReasonStringMap = map[Reason]string{
	REASON_FEATURE_UNSUPPORTED_LOCAL:  "feature_unsupported_local",
	REASON_FEATURE_UNSUPPORTED_REMOTE: "feature_unsupported_remote",
	REASON_LOCAL_REQUEST:              "local_request",
	REASON_REMOTE_REQUEST:             "remote_request",
	REASON_DURATION_TIMEOUT:           "duration_timeout",
	REASON_NO_LE_CONNECTION:           "no_le_connection",
	REASON_INVALID_PARAMETERS:         "invalid_parameters",
	REASON_INTERNAL_ERROR:             "internal_error",
}

func ReasonToString(reason Reason) string {
	s := ReasonStringMap[reason]
	if s == "" {
		return "???"
	}

	return s
}

// Controller status codes for command status / complete events.
type HciStatus uint8

const (
	HCI_STATUS_SUCCESS            HciStatus = 0x00
	HCI_STATUS_COMMAND_DISALLOWED HciStatus = 0x0c
)

type Enable uint8

const (
	DISABLED Enable = 0x00
	ENABLED  Enable = 0x01
)

// Action field of the CS config complete event.
type CsAction uint8

const (
	CS_ACTION_CONFIG_REMOVED CsAction = 0x00
	CS_ACTION_CONFIG_CREATED CsAction = 0x01
)

type BleAddr struct {
	Bytes [6]byte
}

func ParseBleAddr(s string) (BleAddr, error) {
	ba := BleAddr{}

	toks := strings.Split(strings.ToLower(s), ":")
	if len(toks) != 6 {
		return ba, fmt.Errorf("invalid BLE addr string: %s", s)
	}

	for i, t := range toks {
		u64, err := strconv.ParseUint(t, 16, 8)
		if err != nil {
			return ba, err
		}
		ba.Bytes[i] = byte(u64)
	}

	return ba, nil
}

func (ba BleAddr) String() string {
	var buf bytes.Buffer
	buf.Grow(len(ba.Bytes) * 3)

	for i, b := range ba.Bytes {
		if i != 0 {
			buf.WriteString(":")
		}
		fmt.Fprintf(&buf, "%02x", b)
	}

	return buf.String()
}

func (ba BleAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(ba.String())
}

func (ba *BleAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	addr, err := ParseBleAddr(s)
	if err != nil {
		return err
	}

	*ba = addr
	return nil
}

// The channel map used for CS config creation: all 72 channels, or half of
// them when the procedure cadence is at most one second.
var CsChannelMapFull = [10]byte{
	0xfc, 0xff, 0x7f, 0xfc, 0xff, 0xff, 0xff, 0xff, 0xff, 0x1f,
}
var CsChannelMapHalf = [10]byte{
	0x54, 0x55, 0x45, 0x54, 0x55, 0x55, 0x55, 0x55, 0x55, 0x15,
}
