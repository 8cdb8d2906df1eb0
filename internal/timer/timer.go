//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Package timer implements C5: monotonic uptime, UTC offset tracking, and
// the small fixed-size async-waker deadline queue of spec.md §4.5. The
// generic ARM timer register is stood in for by the host monotonic clock
// (time.Since of a recorded boot instant), matching the single-hart
// assumption of spec.md §1.
package timer

import (
	"sync"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("timer")

const queueSize = 8

type alarm struct {
	inUse    bool
	deadline uint64
	waker    domain.Waker
}

// Driver is the concrete C5 timer and async time-driver implementation.
type Driver struct {
	mu        sync.Mutex
	bootTime  time.Time
	utcOffset int64 // utc_us - uptime_us at the moment SetUTCTimeUs was called
	haveUTC   bool
	queue     [queueSize]alarm
}

// New starts the monotonic clock at "now".
func New() *Driver {
	return &Driver{bootTime: time.Now()}
}

// UptimeUs returns monotonic microseconds since boot.
func (d *Driver) UptimeUs() uint64 {
	return uint64(time.Since(d.bootTime).Microseconds())
}

// SetUTCTimeUs establishes a UTC offset against the current uptime.
func (d *Driver) SetUTCTimeUs(epochUs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.utcOffset = int64(epochUs) - int64(d.UptimeUs())
	d.haveUTC = true
}

// UTCTimeUs returns wall time, or 0 if never established.
func (d *Driver) UTCTimeUs() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.haveUTC {
		return 0
	}
	return uint64(int64(d.UptimeUs()) + d.utcOffset)
}

// InitUTCFromRTC reads the RTC once at boot (spec.md §4.5); the RTC
// itself is an out-of-scope collaborator (spec.md §1), so the caller
// supplies the value it read.
func (d *Driver) InitUTCFromRTC(epochUs uint64) {
	d.SetUTCTimeUs(epochUs)
	log.WithField("epoch_us", epochUs).Info("UTC initialized from RTC")
}

// ScheduleWake inserts or updates a (deadline, waker) entry per
// spec.md §4.5: update in place if the waker already has an entry, else
// fill the first empty slot or evict the earliest deadline.
func (d *Driver) ScheduleWake(atUs uint64, w domain.Waker) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.queue {
		if d.queue[i].inUse && d.queue[i].waker != nil && d.queue[i].waker.ThreadID() == w.ThreadID() {
			d.queue[i].deadline = atUs
			return
		}
	}

	for i := range d.queue {
		if !d.queue[i].inUse {
			d.queue[i] = alarm{inUse: true, deadline: atUs, waker: w}
			return
		}
	}

	evictIdx, earliest := 0, d.queue[0].deadline
	for i := 1; i < queueSize; i++ {
		if d.queue[i].deadline < earliest {
			earliest, evictIdx = d.queue[i].deadline, i
		}
	}
	d.queue[evictIdx] = alarm{inUse: true, deadline: atUs, waker: w}
}

// CheckAlarms wakes every entry whose deadline has passed; called from
// the timer IRQ handler (spec.md §4.5).
func (d *Driver) CheckAlarms(nowUs uint64) {
	d.mu.Lock()
	var fired []domain.Waker
	for i := range d.queue {
		if d.queue[i].inUse && d.queue[i].deadline <= nowUs {
			fired = append(fired, d.queue[i].waker)
			d.queue[i] = alarm{}
		}
	}
	d.mu.Unlock()

	for _, w := range fired {
		w.Wake()
	}
}

// NextDeadline returns the earliest pending deadline and whether one
// exists, used to decide how to re-arm the hardware timer.
func (d *Driver) NextDeadline() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := false
	var earliest uint64
	for i := range d.queue {
		if d.queue[i].inUse && (!found || d.queue[i].deadline < earliest) {
			earliest, found = d.queue[i].deadline, true
		}
	}
	return earliest, found
}

var _ domain.TimerIface = (*Driver)(nil)
