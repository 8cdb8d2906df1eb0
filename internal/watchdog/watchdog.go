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
// Package watchdog implements the boot-time watchdog flag of spec.md §6:
// a deadline that must be pet periodically or the kernel halts on the
// fatal-invariant path (spec.md §7). The deadline rides in C5's own
// timer queue rather than a private ticker goroutine, the same queue
// blocking syscalls use to wake a parked thread.
package watchdog

import (
	"sync"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("watchdog")

// watchdogTid is a reserved pseudo thread id the watchdog's queue entry is
// keyed on; it never corresponds to a live scheduler slot.
const watchdogTid domain.ThreadID = -1

// HaltFunc is invoked, at most once, when the watchdog trips. The kernel
// wires this to its fatal-invariant halt path.
type HaltFunc func(reason string)

// Monitor is the concrete watchdog. Construct with New, call Pet
// periodically from whatever host-facing liveness signal the deployment
// considers "alive" (the boot self-test loop, an external heartbeat).
// New already arms its deadline in the timer driver's queue; each Pet
// moves that deadline forward.
type Monitor struct {
	mu        sync.Mutex
	clock     domain.TimerIface
	threshold time.Duration
	halt      HaltFunc
	tripped   bool
}

// New constructs a watchdog that halts via halt if not pet again within
// threshold of the last Pet call (or of New itself).
func New(clock domain.TimerIface, threshold time.Duration, halt HaltFunc) *Monitor {
	m := &Monitor{clock: clock, threshold: threshold, halt: halt}
	m.arm()
	return m
}

// Pet pushes the deadline threshold forward from now, the same
// update-in-place behavior ScheduleWake gives a repeated call keyed on
// the same waker (spec.md §4.5).
func (m *Monitor) Pet() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tripped {
		return
	}
	m.arm()
}

func (m *Monitor) arm() {
	deadline := m.clock.UptimeUs() + uint64(m.threshold.Microseconds())
	m.clock.ScheduleWake(deadline, m)
}

// Wake is domain.Waker's contract; the timer driver calls it when the
// armed deadline elapses without an intervening Pet.
func (m *Monitor) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tripped {
		return
	}
	m.tripped = true
	log.Warn("watchdog deadline elapsed with no pet, halting")
	m.halt("watchdog: no pet within threshold")
}

// ThreadID identifies this waker's queue slot (domain.Waker contract).
func (m *Monitor) ThreadID() domain.ThreadID { return watchdogTid }

// Tripped reports whether the watchdog has already halted the kernel.
func (m *Monitor) Tripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

var _ domain.Waker = (*Monitor)(nil)
