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

// TrapFrame is the stack-allocated register snapshot built by the
// exception vector on SVC/fault entry from EL0 (spec.md §3, §4.3). It
// holds x0-x30, SP_EL0, ELR_EL1, SPSR_EL1 and a saved-kernel-SP slot:
// 35 eight-byte words, 280 bytes, with no other saved state.
type TrapFrame struct {
	X        [31]uint64
	SPEL0    uint64
	ELREL1   uint64
	SPSREL1  uint64
	SavedKSP uint64
}

// SyscallNum returns the syscall number carried in x8 per the AArch64 ABI.
func (f *TrapFrame) SyscallNum() int64 { return int64(f.X[8]) }

// Arg returns argument n (0-5) from x0-x5.
func (f *TrapFrame) Arg(n int) uint64 { return f.X[n] }

// SetReturn writes the syscall return value into x0.
func (f *TrapFrame) SetReturn(v int64) { f.X[0] = uint64(v) }

// IRQFrame is the unified IRQ entry frame, shared by EL0 and EL1 IRQ
// stubs, including SP_EL0 so that EL1 preemption preserves the
// interrupted user stack (spec.md §4.3). It holds 34 eight-byte words,
// 272 bytes, with no other saved state.
type IRQFrame struct {
	X       [31]uint64
	SPEL0   uint64
	ELREL1  uint64
	SPSREL1 uint64
}

// ILBitClear reports whether SPSR's IL (instruction-length) bit is clear,
// the precondition every ERET path must establish (spec.md §8 T-10).
func ILBitClear(spsr uint64) bool {
	const ilBit = 1 << 25
	return spsr&ilBit == 0
}

// ClearILBit clears the IL bit in-place.
func ClearILBit(spsr *uint64) {
	const ilBit = 1 << 25
	*spsr &^= ilBit
}
