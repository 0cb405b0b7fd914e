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

package cshal

import (
	"mynewt.apache.org/csmgr/csxact/csdefs"
	"mynewt.apache.org/csmgr/csxact/task"
)

// SessionEventHandler receives HAL events after the bridge has marshaled
// them onto the task queue and updated its session table.
type SessionEventHandler interface {
	OnSessionOpened(connHandle uint16,
		reply []VendorSpecificCharacteristic) error
	OnSessionOpenFailed(connHandle uint16) error
	OnVendorSpecificReplyComplete(connHandle uint16, success bool) error
	OnRangingResult(connHandle uint16, result RangingResult) error
}

// Bridge fronts a RangingHal.  It tracks which connections have an open
// HAL session, drops writes for connections without one, and re-posts
// the HAL's callbacks onto the owning task queue so that all session
// state is touched from a single goroutine.
type Bridge struct {
	hal     RangingHal
	q       *task.TaskQueue
	handler SessionEventHandler

	// Accessed only from task queue jobs.
	sessions map[uint16]bool
}

func NewBridge(hal RangingHal, q *task.TaskQueue,
	handler SessionEventHandler) *Bridge {

	b := &Bridge{
		hal:      hal,
		q:        q,
		handler:  handler,
		sessions: map[uint16]bool{},
	}
	if hal != nil {
		hal.SetCallback(b)
	}
	return b
}

func (b *Bridge) Bound() bool {
	return b.hal != nil && b.hal.Bound()
}

// V2 indicates whether procedure results should be delivered as
// structured per-subevent records rather than raw arrays.
func (b *Bridge) V2() bool {
	return b.Bound() && b.hal.Version() == HAL_V2
}

func (b *Bridge) SessionOpen(connHandle uint16) bool {
	return b.sessions[connHandle]
}

func (b *Bridge) VendorSpecificCharacteristics() []VendorSpecificCharacteristic {
	if !b.Bound() {
		return nil
	}
	return b.hal.VendorSpecificCharacteristics()
}

// OpenSession starts the HAL session handshake.  The outcome arrives
// later via OnSessionOpened or OnSessionOpenFailed.
func (b *Bridge) OpenSession(connHandle uint16, attHandle uint16,
	vendorData []VendorSpecificCharacteristic) {

	if !b.Bound() {
		return
	}
	b.hal.OpenSession(connHandle, attHandle, vendorData)
}

// CloseSession forgets the session state for a connection.  Called on
// disconnect; there is no corresponding HAL operation.
func (b *Bridge) CloseSession(connHandle uint16) {
	delete(b.sessions, connHandle)
}

func (b *Bridge) HandleVendorSpecificReply(connHandle uint16,
	reply []VendorSpecificCharacteristic) {

	if !b.Bound() {
		return
	}
	b.hal.HandleVendorSpecificReply(connHandle, reply)
}

func (b *Bridge) WriteRawData(connHandle uint16, data *RawData) {
	if !b.Bound() {
		return
	}
	b.hal.WriteRawData(connHandle, data)
}

func (b *Bridge) WriteProcedureData(connHandle uint16,
	localRole csdefs.CsRole, data *ProcedureDataV2, counter uint16) {

	if !b.Bound() {
		return
	}
	b.hal.WriteProcedureData(connHandle, localRole, data, counter)
}

func (b *Bridge) UpdateChannelSoundingConfig(connHandle uint16,
	cfg *ChannelSoundingConfig) {

	if !b.V2() {
		return
	}
	b.hal.UpdateChannelSoundingConfig(connHandle, cfg)
}

func (b *Bridge) UpdateConnInterval(connHandle uint16, itvl uint16) {
	if !b.V2() {
		return
	}
	b.hal.UpdateConnInterval(connHandle, itvl)
}

func (b *Bridge) UpdateProcedureEnableConfig(connHandle uint16,
	cfg *ProcedureEnableConfig) {

	if !b.V2() {
		return
	}
	b.hal.UpdateProcedureEnableConfig(connHandle, cfg)
}

func (b *Bridge) enqueue(what string, fn func() error) {
	b.q.Post("ranging HAL "+what, fn)
}

// RangingHalCallback implementation; fires on HAL goroutines.

func (b *Bridge) OnOpened(connHandle uint16,
	reply []VendorSpecificCharacteristic) {

	b.enqueue("opened", func() error {
		b.sessions[connHandle] = true
		return b.handler.OnSessionOpened(connHandle, reply)
	})
}

func (b *Bridge) OnOpenFailed(connHandle uint16) {
	b.enqueue("open-failed", func() error {
		delete(b.sessions, connHandle)
		return b.handler.OnSessionOpenFailed(connHandle)
	})
}

func (b *Bridge) OnHandleVendorSpecificReplyComplete(connHandle uint16,
	success bool) {

	b.enqueue("vendor-reply-complete", func() error {
		return b.handler.OnVendorSpecificReplyComplete(connHandle, success)
	})
}

func (b *Bridge) OnResult(connHandle uint16, result RangingResult) {
	b.enqueue("result", func() error {
		return b.handler.OnRangingResult(connHandle, result)
	})
}
