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
	"sort"
	"sync"
	"time"
)

// Timer is the handle returned by a Clock for a scheduled function.
type Timer interface {
	Stop() bool
}

// Clock abstracts timer creation so that tests can observe alarm behavior
// with a fake clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type sysClock struct{}

func (sysClock) Now() time.Time {
	return time.Now()
}

func (sysClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SysClock returns the wall clock backed by the time package.
func SysClock() Clock {
	return sysClock{}
}

// Alarm posts a job onto a task queue after a delay, optionally rearming
// itself at the same interval.  Cancel is idempotent; a cancelled alarm
// never posts again, even if its underlying timer already fired.
type Alarm struct {
	q   *TaskQueue
	clk Clock

	mtx   sync.Mutex
	gen   int
	timer Timer
}

func NewAlarm(q *TaskQueue, clk Clock) *Alarm {
	return &Alarm{
		q:   q,
		clk: clk,
	}
}

// Schedule arms the alarm to post fn once after the specified delay.  Any
// previously scheduled firing is cancelled.
func (a *Alarm) Schedule(fn func() error, delay time.Duration) {
	a.schedule(fn, delay, false)
}

// ScheduleRepeating arms the alarm to post fn every itvl until cancelled.
func (a *Alarm) ScheduleRepeating(fn func() error, itvl time.Duration) {
	a.schedule(fn, itvl, true)
}

func (a *Alarm) schedule(fn func() error, d time.Duration, repeat bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.stopNoLock()
	a.gen++
	a.arm(a.gen, fn, d, repeat)
}

// The caller must lock the mutex.
func (a *Alarm) arm(gen int, fn func() error, d time.Duration, repeat bool) {
	a.timer = a.clk.AfterFunc(d, func() {
		a.mtx.Lock()
		stale := gen != a.gen
		if !stale && repeat {
			a.arm(gen, fn, d, repeat)
		}
		a.mtx.Unlock()

		if stale {
			return
		}
		a.q.Enqueue(fn)
	})
}

// Cancel stops the alarm.  Cancelling an unarmed alarm is a no-op.
func (a *Alarm) Cancel() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.gen++
	a.stopNoLock()
}

// The caller must lock the mutex.
func (a *Alarm) stopNoLock() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// FakeClock implements Clock with manually advanced time.  Advance fires
// due timers synchronously, in deadline order.
type FakeClock struct {
	mtx    sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clk      *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
}

func NewFakeClock() *FakeClock {
	return &FakeClock{
		now: time.Unix(0, 0),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	t := &fakeTimer{
		clk:      c,
		deadline: c.now.Add(d),
		fn:       fn,
	}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clk.mtx.Lock()
	defer t.clk.mtx.Unlock()

	was := !t.stopped
	t.stopped = true
	return was
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mtx.Lock()
	c.now = c.now.Add(d)
	c.mtx.Unlock()

	for {
		t := c.nextDue()
		if t == nil {
			return
		}
		t.fn()
	}
}

func (c *FakeClock) nextDue() *fakeTimer {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var due *fakeTimer
	idx := -1
	for i, t := range c.timers {
		if t.stopped || t.deadline.After(c.now) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) {
			due = t
			idx = i
		}
	}
	if due == nil {
		// Keep only live timers around for the next Advance.
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.stopped {
				live = append(live, t)
			}
		}
		sort.SliceStable(live, func(i, j int) bool {
			return live[i].deadline.Before(live[j].deadline)
		})
		c.timers = live
		return nil
	}

	c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
	return due
}
