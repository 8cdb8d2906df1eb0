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
// Package trap implements C3: the demultiplexing half of the exception
// vector described in spec.md §4.3. The 0x800-aligned, 16-stub assembly
// table that jumps here on real hardware has no Go analog and is not
// reproduced; what this package owns is everything spec.md §4.3 says
// the *handlers* do once entered — trap-frame bookkeeping, the IL-bit
// invariant (spec.md §8 T-10), and handing control to the syscall
// dispatcher with IRQs logically re-enabled.
package trap

import (
	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("trap")

// SyscallFn services a decoded syscall and returns the x0 return value.
type SyscallFn func(frame *domain.TrapFrame) int64

// Gateway owns the sync/IRQ demultiplexing policy.
type Gateway struct {
	Syscall SyscallFn
}

// New creates a Gateway bound to a syscall handler; internal/kernel wires
// its handleSyscallTrap, which finds the trapping process and calls
// internal/syscall.Dispatcher.Handle, as SyscallFn.
func New(fn SyscallFn) *Gateway {
	return &Gateway{Syscall: fn}
}

// HandleSyncEL0 is sync_el0_handler from spec.md §4.3: build the frame
// (the caller already has; this package never partially constructs one,
// matching spec.md §4.3's single-allocation requirement), preserve/already
// have x8-x11, re-enable IRQs (represented here by the fact that Go
// code calling into Syscall can itself block/preempt normally), call the
// syscall handler, write x0, mask IRQs, clear IL, and report whether an
// ERET is safe.
func (g *Gateway) HandleSyncEL0(frame *domain.TrapFrame) bool {
	ret := g.Syscall(frame)
	frame.SetReturn(ret)
	domain.ClearILBit(&frame.SPSREL1)
	return canERET(frame.ELREL1)
}

// HandleSyncEL1 is sync_el1_handler: a kernel-mode fault is logged and the
// IL bit cleared, then the handler returns; it does not halt. There is no
// user process to kill.
func (g *Gateway) HandleSyncEL1(frame *domain.TrapFrame, reason string) {
	log.WithField("elr", frame.ELREL1).WithField("reason", reason).Error("EL1 synchronous exception")
	domain.ClearILBit(&frame.SPSREL1)
}

// HandleIRQ is the shared irq_el0_handler/irq_el1_handler body: the
// caller (internal/irq) has already acknowledged and dispatched; this
// just enforces the ELR sanity check and IL-bit invariant before letting
// the caller ERET.
func (g *Gateway) HandleIRQ(frame *domain.IRQFrame) bool {
	domain.ClearILBit(&frame.SPSREL1)
	return canERET(frame.ELREL1)
}

func canERET(elr uint64) bool {
	return elr != 0
}

// DefaultExceptionHandler dumps state and halts, per spec.md §4.3's
// default_exception_handler and §7's fatal-invariant policy.
func DefaultExceptionHandler(reason string, frame *domain.TrapFrame) {
	klog.Fatal("trap", "unhandled exception: "+reason, map[string]interface{}{
		"elr":  frame.ELREL1,
		"spsr": frame.SPSREL1,
	})
}
