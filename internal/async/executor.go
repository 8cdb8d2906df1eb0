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
// Package async implements C9: the blocking-syscall waker plumbing and
// the boot thread's cooperative idle loop, per spec.md §4.9. There is no
// real future/promise machinery here -- every "asynchronous" wait in this
// kernel is a thread slot parked in the scheduler until a registered
// domain.Waker fires, the same single-loop-pulls-ready-work shape the
// teacher's FUSE server loop (fuse/server.go's Run, which blocks serving
// one request stream until work arrives) uses for its own request
// dispatch.
package async

import (
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

// Scheduler is the subset of domain.SchedulerIface Await needs, keyed on
// the caller's own tid the way process/syscall code threads it through
// rather than trusting the bookkeeping-only Current(). internal/syscall
// narrows its concrete *scheduler.Pool to this same shape for its own
// blocking handlers (read, nanosleep, ppoll).
type Scheduler interface {
	GetWakerForThread(tid domain.ThreadID) domain.Waker
	ScheduleBlockingTid(tid domain.ThreadID, deadline time.Time) bool
}

// Await registers tid's waker via register, then blocks (through
// sched.ScheduleBlockingTid) until predicate reports true or deadline
// elapses. The waker is registered *before* the first predicate check so
// a wake that races with the check is never lost (spec.md §7's
// blocking-syscall invariant).
func Await(sched Scheduler, tid domain.ThreadID, predicate func() bool, register func(domain.Waker), deadline time.Time) error {
	waker := sched.GetWakerForThread(tid)
	register(waker)

	for !predicate() {
		if !sched.ScheduleBlockingTid(tid, deadline) && !predicate() {
			return errno.ErrAgain
		}
	}
	return nil
}

// IdleLoop is the boot thread's cooperative reactor: it drives the timer
// and scheduler bookkeeping that a real hardware timer interrupt would
// otherwise trigger, then sweeps terminated thread slots, until stop is
// closed. Callers run this in the slot-0 boot thread (spec.md §4.4's
// permanent cooperative thread).
func IdleLoop(sched domain.SchedulerIface, clock domain.TimerIface, tick time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sched.OnTimerTick()
			clock.CheckAlarms(clock.UptimeUs())
			sched.Sweep()
		}
	}
}
