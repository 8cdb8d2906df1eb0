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

// Package memory implements C1: a fixed physical RAM region served as
// 4 KiB frames, guarded by a spinlock-equivalent mutex that callers must
// treat as IRQ-safe (acquire with preemption/IRQs logically disabled).
package memory

import (
	"errors"
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("memory")

// Allocator serves page frames out of a fixed-size backing region, as if
// it were claimed RAM rather than Go-heap-backed; this lets OwnedFrames
// bookkeeping and exhaustion behavior (spec.md §7 "resource exhaustion")
// be exercised deterministically regardless of host RAM.
type Allocator struct {
	mu       sync.Mutex
	region   []byte
	used     []bool
	frameCnt int
	inUse    uint64
	peak     uint64
	allocs   uint64
	frees    uint64
}

// NewAllocator claims a region of sizeBytes, rounded down to whole frames.
func NewAllocator(sizeBytes int) *Allocator {
	frames := sizeBytes / domain.PageSize
	if frames < 1 {
		frames = 1
	}
	return &Allocator{
		region:   make([]byte, frames*domain.PageSize),
		used:     make([]bool, frames),
		frameCnt: frames,
	}
}

// AllocPage reserves a free frame and returns its synthetic physical
// address (an offset into the backing region, disjoint from Go pointers
// so address arithmetic in callers never touches real memory unsafely).
func (a *Allocator) AllocPage() (domain.PhysAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, u := range a.used {
		if !u {
			a.used[i] = true
			a.inUse++
			if a.inUse > a.peak {
				a.peak = a.inUse
			}
			a.allocs++
			return domain.PhysAddr(i * domain.PageSize), nil
		}
	}
	log.Warn("physical frame exhaustion")
	return 0, errno.ErrNoMem
}

// AllocPageZeroed allocates a frame and clears its backing bytes.
func (a *Allocator) AllocPageZeroed() (domain.PhysAddr, error) {
	pa, err := a.AllocPage()
	if err != nil {
		return 0, err
	}
	buf, _ := a.frameBytes(pa)
	for i := range buf {
		buf[i] = 0
	}
	return pa, nil
}

// FreePage releases a previously allocated frame.
func (a *Allocator) FreePage(pa domain.PhysAddr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := int(pa) / domain.PageSize
	if idx < 0 || idx >= a.frameCnt || !a.used[idx] {
		return errors.New("akuma: double free or invalid frame")
	}
	a.used[idx] = false
	a.inUse--
	a.frees++
	return nil
}

// Stats reports the allocator's running counters (spec.md §4.1).
func (a *Allocator) Stats() domain.HeapStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.HeapStats{
		HeapSize:  uint64(len(a.region)),
		InUse:     a.inUse * domain.PageSize,
		Peak:      a.peak * domain.PageSize,
		AllocCall: a.allocs,
		FreeCall:  a.frees,
	}
}

// FrameBytes exposes the backing bytes for a frame, used by the
// address-space manager to copy ELF segment contents and by the process
// manager to seed the process-info page. This is the one seam where a
// "physical address" becomes directly addressable memory, matching the
// kernel's own identity-mapped view of RAM (spec.md §4.2 phys_to_virt).
func (a *Allocator) FrameBytes(pa domain.PhysAddr) ([]byte, error) {
	return a.frameBytes(pa)
}

func (a *Allocator) frameBytes(pa domain.PhysAddr) ([]byte, error) {
	idx := int(pa) / domain.PageSize
	if idx < 0 || idx >= a.frameCnt {
		return nil, errno.ErrFault
	}
	return a.region[idx*domain.PageSize : (idx+1)*domain.PageSize], nil
}

var _ domain.PhysAllocatorIface = (*Allocator)(nil)
