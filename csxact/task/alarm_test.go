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

package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alarmFixture struct {
	q   TaskQueue
	clk *FakeClock
}

func newAlarmFixture(t *testing.T) *alarmFixture {
	f := &alarmFixture{
		q:   NewTaskQueue("alarm-test"),
		clk: NewFakeClock(),
	}
	require.NoError(t, f.q.Start(10))
	t.Cleanup(func() { f.q.Stop(InactiveError) })
	return f
}

// sync waits for all jobs posted by fired timers to run.
func (f *alarmFixture) sync() {
	f.q.Run(func() error { return nil })
}

func TestAlarmFiresOnce(t *testing.T) {
	f := newAlarmFixture(t)
	a := NewAlarm(&f.q, f.clk)

	fired := 0
	a.Schedule(func() error {
		fired++
		return nil
	}, time.Second)

	f.clk.Advance(999 * time.Millisecond)
	f.sync()
	assert.Equal(t, 0, fired)

	f.clk.Advance(time.Millisecond)
	f.sync()
	assert.Equal(t, 1, fired)

	// One-shot; no further firings.
	f.clk.Advance(10 * time.Second)
	f.sync()
	assert.Equal(t, 1, fired)
}

func TestAlarmRepeats(t *testing.T) {
	f := newAlarmFixture(t)
	a := NewAlarm(&f.q, f.clk)

	fired := 0
	a.ScheduleRepeating(func() error {
		fired++
		return nil
	}, time.Second)

	for i := 1; i <= 3; i++ {
		f.clk.Advance(time.Second)
		f.sync()
		assert.Equal(t, i, fired)
	}

	a.Cancel()
	f.clk.Advance(5 * time.Second)
	f.sync()
	assert.Equal(t, 3, fired)
}

func TestAlarmCancelBeforeFire(t *testing.T) {
	f := newAlarmFixture(t)
	a := NewAlarm(&f.q, f.clk)

	fired := false
	a.Schedule(func() error {
		fired = true
		return nil
	}, time.Second)

	a.Cancel()
	f.clk.Advance(2 * time.Second)
	f.sync()
	assert.False(t, fired)
}

func TestAlarmReschedule(t *testing.T) {
	f := newAlarmFixture(t)
	a := NewAlarm(&f.q, f.clk)

	var got []string
	a.Schedule(func() error {
		got = append(got, "first")
		return nil
	}, time.Second)

	// Rescheduling supersedes the pending firing.
	a.Schedule(func() error {
		got = append(got, "second")
		return nil
	}, 2*time.Second)

	f.clk.Advance(time.Second)
	f.sync()
	assert.Empty(t, got)

	f.clk.Advance(time.Second)
	f.sync()
	assert.Equal(t, []string{"second"}, got)
}

func TestAlarmCancelIdempotent(t *testing.T) {
	f := newAlarmFixture(t)
	a := NewAlarm(&f.q, f.clk)

	a.Cancel()
	a.Cancel()

	fired := false
	a.Schedule(func() error {
		fired = true
		return nil
	}, time.Second)

	f.clk.Advance(time.Second)
	f.sync()
	assert.True(t, fired)
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clk := NewFakeClock()

	var got []string
	clk.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	clk.AfterFunc(time.Second, func() { got = append(got, "a") })
	clk.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	clk.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFakeClockStoppedTimerNeverFires(t *testing.T) {
	clk := NewFakeClock()

	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clk.Advance(2 * time.Second)
	assert.False(t, fired)
}
