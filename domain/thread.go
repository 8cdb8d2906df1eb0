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

package domain

import "time"

// ThreadState mirrors spec.md §3's thread-slot state machine.
type ThreadState int

const (
	Free ThreadState = iota
	Ready
	Running
	Blocked
	Terminated
)

func (s ThreadState) String() string {
	switch s {
	case Free:
		return "free"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ThreadKind distinguishes the three spawn contracts of spec.md §4.4.
type ThreadKind int

const (
	KindBoot ThreadKind = iota
	KindSystem
	KindUserHost
)

// Waker is a cloneable, idempotent handle back to a blocked thread slot.
type Waker interface {
	Wake()
	ThreadID() ThreadID
}

// ThreadStats is the snapshot returned by the scheduler's accounting API
// and by the "get_cpu_stats" syscall (SPEC_FULL.md supplement).
type ThreadStats struct {
	Total     int
	Running   int
	Ready     int
	Blocked   int
	Free      int
	Preempts  uint64
	Reschedes uint64
}

// SchedulerIface is the C4 thread pool & scheduler contract.
type SchedulerIface interface {
	SpawnKernel(fn func()) (ThreadID, error)
	SpawnSystem(fn func()) (ThreadID, error)
	SpawnUserHost(fn func()) (ThreadID, error)

	Current() ThreadID
	YieldNow()
	ScheduleBlocking(deadline time.Time) bool
	GetWakerForThread(tid ThreadID) Waker

	OnTimerTick()
	Sweep()

	ThreadCount() int
	ThreadStats() ThreadStats
	SetTTBR0(tid ThreadID, table PhysAddr)
}
