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
// Package scheduler implements C4: a fixed MAX_THREADS array of thread
// slots, the round-robin scheduling policy of spec.md §4.4, and a
// waker/blocking primitive wired to real goroutine concurrency.
//
// A real ARMv8 port preempts a running thread from a timer IRQ by saving
// its register file (assembly context switch) and resuming another
// slot's. Go gives every live goroutine to the host scheduler instead, so
// "preemptive round robin across a fixed pool" is modeled in two layers
// here, matching how gopher-os and biscuit (both in the retrieval pack)
// split the concern between hardware trampoline and scheduling policy:
//   - scheduleIndices is the pure, table-driven policy function from
//     spec.md §4.4 ("schedule_indices(voluntary)"), unit-testable in
//     isolation exactly as spec.md §4.4 defines it.
//   - the Pool bookkeeping (slot state, time-slice accounting, the
//     cooperative-timeout rule) is updated from real checkpoints: the
//     timer goroutine's tick (OnTimerTick), and voluntary yields/blocks
//     from kernel code. Actual concurrent execution is supplied by the Go
//     runtime; the bookkeeping gives callers (tests, get_cpu_stats) the
//     same observable state machine spec.md §4.4 describes.
package scheduler

import (
	"sync"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("scheduler")

type slot struct {
	id          domain.ThreadID
	state       domain.ThreadState
	kind        domain.ThreadKind
	cooperative bool
	sliceStart  time.Time
	ttbr0       domain.PhysAddr
	blockCh     chan struct{}
	runtime     time.Duration
	lastStart   time.Time
}

// Pool is the concrete C4 thread pool and scheduler.
type Pool struct {
	mu         sync.Mutex
	slots      [config.MaxThreads]*slot
	current    domain.ThreadID
	preempts   uint64
	reschedule uint64
	clock      func() time.Time
}

// NewPool initializes slot 0 as the permanent, cooperative boot thread per
// spec.md §4.4 step 1. Slots [1,Reserved) and [Reserved,Max) start Free.
func NewPool() *Pool {
	p := &Pool{clock: time.Now}
	for i := range p.slots {
		p.slots[i] = &slot{id: domain.ThreadID(i), state: domain.Free, blockCh: make(chan struct{}, 1)}
	}
	boot := p.slots[0]
	boot.state = domain.Running
	boot.kind = domain.KindBoot
	boot.cooperative = true
	boot.sliceStart = p.clock()
	boot.lastStart = boot.sliceStart
	p.current = 0
	return p
}

func (p *Pool) now() time.Time { return p.clock() }

// findFree returns the first Free slot in [lo, hi), -1 if none.
func (p *Pool) findFree(lo, hi int) int {
	for i := lo; i < hi; i++ {
		if p.slots[i].state == domain.Free {
			return i
		}
	}
	return -1
}

func (p *Pool) spawn(lo, hi int, kind domain.ThreadKind, cooperative bool, fn func()) (domain.ThreadID, error) {
	p.mu.Lock()
	idx := p.findFree(lo, hi)
	if idx < 0 {
		p.mu.Unlock()
		log.Warn("thread slot exhaustion")
		return 0, errSlotExhausted
	}
	s := p.slots[idx]
	s.state = domain.Ready
	s.kind = kind
	s.cooperative = cooperative
	s.sliceStart = p.now()
	s.runtime = 0
	p.mu.Unlock()

	tid := domain.ThreadID(idx)
	go p.trampoline(tid, fn)
	return tid, nil
}

// trampoline is the assembly-trampoline stand-in of spec.md §4.4: it
// enables "IRQs" (marks the slot Running) then calls the closure; return
// is termination.
func (p *Pool) trampoline(tid domain.ThreadID, fn func()) {
	p.mu.Lock()
	s := p.slots[tid]
	s.state = domain.Running
	s.lastStart = p.now()
	p.mu.Unlock()

	defer func() {
		r := recover()
		p.mu.Lock()
		s.state = domain.Terminated
		p.mu.Unlock()
		if r != nil {
			log.WithField("tid", tid).WithField("panic", r).Error("thread terminated by panic")
		}
	}()

	fn()
}

// SpawnKernel spawns an ordinary kernel-closure thread. Ordinary threads
// share the non-reserved range with user-host threads; they are
// preemptible like any non-boot slot.
func (p *Pool) SpawnKernel(fn func()) (domain.ThreadID, error) {
	return p.spawn(config.ReservedThreads, config.MaxThreads, domain.KindSystem, false, fn)
}

// SpawnSystem spawns a system-closure thread, restricted to [1,Reserved).
func (p *Pool) SpawnSystem(fn func()) (domain.ThreadID, error) {
	return p.spawn(1, config.ReservedThreads, domain.KindSystem, false, fn)
}

// SpawnUserHost spawns a user-process-hosting thread, restricted to
// [Reserved, Max).
func (p *Pool) SpawnUserHost(fn func()) (domain.ThreadID, error) {
	return p.spawn(config.ReservedThreads, config.MaxThreads, domain.KindUserHost, false, fn)
}

// Current returns the calling goroutine's notion of "current" thread.
// Real kernel code tracks this via a thread-local/TPIDR register; in this
// simulation each spawned goroutine is expected to thread its own tid
// through (process/syscall code does), so Current here only reflects the
// last-scheduled bookkeeping value used by tests and introspection.
func (p *Pool) Current() domain.ThreadID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// YieldNow is the voluntary suspension point of spec.md §5.
func (p *Pool) YieldNow() {
	runtimeGosched()
}

// ScheduleBlockingTid marks the calling thread blocked-until-deadline and
// waits for either the deadline or a wake. tid identifies the caller's
// slot. Returns true if woken before the deadline, false if the deadline
// elapsed first (spec.md §8 T-5).
func (p *Pool) ScheduleBlockingTid(tid domain.ThreadID, deadline time.Time) bool {
	p.mu.Lock()
	s := p.slots[tid]
	s.state = domain.Blocked
	p.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		d := deadline.Sub(p.now())
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timeoutCh = timer.C
	}

	woken := false
	select {
	case <-s.blockCh:
		woken = true
	case <-timeoutCh:
		woken = false
	}
	if timer != nil {
		timer.Stop()
	}

	p.mu.Lock()
	if s.state != domain.Terminated {
		s.state = domain.Running
	}
	p.mu.Unlock()
	return woken
}

// ScheduleBlocking implements domain.SchedulerIface against the current
// bookkeeping thread; prefer ScheduleBlockingTid when the caller already
// knows its own tid (process/syscall code always does).
func (p *Pool) ScheduleBlocking(deadline time.Time) bool {
	return p.ScheduleBlockingTid(p.Current(), deadline)
}

// GetWakerForThread returns a reusable, idempotent waker handle.
func (p *Pool) GetWakerForThread(tid domain.ThreadID) domain.Waker {
	return &waker{pool: p, tid: tid}
}

type waker struct {
	pool *Pool
	tid  domain.ThreadID
}

// Wake leaves a token in the slot's one-deep wake channel whether or not
// the slot has blocked yet, so a wake that lands between a caller's
// predicate check and its ScheduleBlockingTid call makes that call return
// at once instead of being lost.
func (w *waker) Wake() {
	w.pool.mu.Lock()
	s := w.pool.slots[w.tid]
	w.pool.mu.Unlock()
	select {
	case s.blockCh <- struct{}{}:
	default:
	}
}

func (w *waker) ThreadID() domain.ThreadID { return w.tid }

// SetTTBR0 records the address-space table a slot's thread would install
// on context switch (spec.md §8 T-2).
func (p *Pool) SetTTBR0(tid domain.ThreadID, table domain.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[tid].ttbr0 = table
}

// TTBR0Of returns the table last recorded for tid.
func (p *Pool) TTBR0Of(tid domain.ThreadID) domain.PhysAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[tid].ttbr0
}

// MarkTerminated transitions a slot straight to Terminated, used by
// sys_exit and process exit paths rather than waiting for the closure to
// return.
func (p *Pool) MarkTerminated(tid domain.ThreadID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[tid].state = domain.Terminated
}

// OnTimerTick is invoked from the kernel's timer-IRQ handler and from
// async.IdleLoop. It runs the round-robin policy over the bookkeeping
// slot table, mirroring spec.md §4.4's "reschedule trigger" paragraph;
// it does not sweep terminated slots, which is Sweep's job, called right
// after it by both callers. Because actual CPU time is granted
// by the Go runtime rather than this struct, the "switch" it performs is
// bookkeeping (updates current/Ready/Running labels and counters) rather
// than a literal context switch -- see the package doc for why.
func (p *Pool) OnTimerTick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reschedule++

	next := p.scheduleIndicesLocked(false)
	if next < 0 {
		return
	}
	out := p.slots[p.current]
	if out.state != domain.Terminated {
		out.state = domain.Ready
	}
	out.runtime += p.now().Sub(out.lastStart)

	in := p.slots[next]
	in.state = domain.Running
	in.sliceStart = p.now()
	in.lastStart = p.now()
	p.current = domain.ThreadID(next)
	p.preempts++
}

// scheduleIndices is the pure policy function of spec.md §4.4, kept as a
// package-level function for direct unit testing against synthetic slot
// snapshots.
func scheduleIndices(slots []domain.ThreadState, cooperative []bool, current int, sliceStart []time.Time, now time.Time, voluntary bool) int {
	cur := current
	if cooperative[cur] && !voluntary {
		if now.Sub(sliceStart[cur]) < config.CooperativeTimeout {
			return -1
		}
	}
	n := len(slots)
	for i := 1; i <= n; i++ {
		idx := (cur + i) % n
		if idx == cur {
			continue
		}
		if slots[idx] == domain.Ready || slots[idx] == domain.Running {
			return idx
		}
	}
	return -1
}

func (p *Pool) scheduleIndicesLocked(voluntary bool) int {
	states := make([]domain.ThreadState, len(p.slots))
	coop := make([]bool, len(p.slots))
	starts := make([]time.Time, len(p.slots))
	for i, s := range p.slots {
		states[i] = s.state
		coop[i] = s.cooperative
		starts[i] = s.sliceStart
	}
	return scheduleIndices(states, coop, int(p.current), starts, p.now(), voluntary)
}

// Sweep reclaims Terminated slots back to Free, zero-filling their
// bookkeeping (spec.md §4.4 cleanup).
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.slots {
		if i == 0 {
			continue // boot thread is permanent
		}
		if s.state == domain.Terminated {
			p.slots[i] = &slot{id: domain.ThreadID(i), state: domain.Free, blockCh: make(chan struct{}, 1)}
		}
	}
}

// ThreadCount returns the number of non-Free slots.
func (p *Pool) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.state != domain.Free {
			n++
		}
	}
	return n
}

// ThreadStats reports the aggregate counters used by get_cpu_stats and
// the boot self-test (spec.md §8 scenario 1).
func (p *Pool) ThreadStats() domain.ThreadStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st domain.ThreadStats
	for _, s := range p.slots {
		st.Total++
		switch s.state {
		case domain.Running:
			st.Running++
		case domain.Ready:
			st.Ready++
		case domain.Blocked:
			st.Blocked++
		case domain.Free:
			st.Free++
		}
	}
	st.Preempts = p.preempts
	st.Reschedes = p.reschedule
	return st
}

var _ domain.SchedulerIface = (*Pool)(nil)
