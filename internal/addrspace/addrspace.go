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

// Package addrspace implements C2: a per-process page table. There is no
// real MMU to program under `go test`/a hosted build, so the "translation
// table" is a Go map keyed by virtual page number; Activate is the named
// seam where a real port would issue `msr ttbr0_el1, x0; isb` (see
// gopher-os's pdt.Activate() and biscuit's Vm_t, both in the retrieval
// pack, for the hardware-facing shape this stands in for).
package addrspace

import (
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

type mapping struct {
	pa    domain.PhysAddr
	flags domain.MapFlags
	owned bool
}

// AddressSpace is the concrete C2 implementation.
type AddressSpace struct {
	mu      sync.Mutex
	table   map[domain.VirtAddr]mapping
	owned   map[domain.PhysAddr]struct{}
	ttbr0   domain.PhysAddr // synthetic table identity, unique per instance
	current *current
}

// current tracks which AddressSpace is "active" (i.e. would be installed
// in TTBR0_EL1), shared across all instances so IsCurrentUserRangeMapped
// can validate against whichever process last called Activate -- mirrors
// the single-hart, single-active-TTBR0 invariant of spec.md §8 T-2.
type current struct {
	mu     sync.Mutex
	active *AddressSpace
}

var activeTable = &current{}

var nextTTBR0 domain.PhysAddr = domain.PageSize // 0 reserved for "no table"

var idMu sync.Mutex

// defaultAllocMu guards defaultAlloc, the process-wide physical allocator
// SetDefaultAllocator installs once at boot (spec.md's "Global state"
// note: the physical allocator is a singleton initialised once and shared
// by every address space thereafter). AllocAndMap delegates to it so
// callers holding only a domain.AddressSpaceIface -- the narrow interface
// spec.md §4.2's `alloc_and_map(va, flags)` describes, with no allocator
// parameter -- can still reach real allocation.
var defaultAllocMu sync.Mutex
var defaultAlloc domain.PhysAllocatorIface

// SetDefaultAllocator installs the allocator AllocAndMap delegates to.
// Called from process.NewManager with the allocator the manager is
// given, so every kernel boot and every test that builds a Manager sets it.
func SetDefaultAllocator(alloc domain.PhysAllocatorIface) {
	defaultAllocMu.Lock()
	defer defaultAllocMu.Unlock()
	defaultAlloc = alloc
}

func allocTTBR0() domain.PhysAddr {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextTTBR0
	nextTTBR0 += domain.PageSize
	return id
}

// New creates a fresh, empty address space.
func New() *AddressSpace {
	return &AddressSpace{
		table: make(map[domain.VirtAddr]mapping),
		owned: make(map[domain.PhysAddr]struct{}),
		ttbr0: allocTTBR0(),
	}
}

func pageAlign(va domain.VirtAddr) domain.VirtAddr {
	return va &^ (domain.PageSize - 1)
}

// downgrade returns flags unchanged: domain.MapFlags has no
// writable+executable value, so no request needs rewriting to RW.
func downgrade(flags domain.MapFlags) domain.MapFlags {
	if flags == domain.RX {
		return domain.RX
	}
	return flags
}

// AllocAndMap allocates a zeroed frame and maps it, taking ownership so
// Destroy can reclaim it. It satisfies domain.AddressSpaceIface's
// allocator-less signature by delegating to the process-wide allocator
// SetDefaultAllocator installed; see AllocAndMapWith for the entry point
// callers holding an explicit allocator handle should prefer.
func (as *AddressSpace) AllocAndMap(va domain.VirtAddr, flags domain.MapFlags) error {
	defaultAllocMu.Lock()
	alloc := defaultAlloc
	defaultAllocMu.Unlock()
	if alloc == nil {
		return errno.ErrNoSys
	}
	return as.AllocAndMapWith(alloc, va, flags)
}

// AllocAndMapWith is the entry point for callers that already hold an
// allocator handle (internal/process, internal/elfload) and don't need
// the indirection through the package-wide default.
func (as *AddressSpace) AllocAndMapWith(alloc domain.PhysAllocatorIface, va domain.VirtAddr, flags domain.MapFlags) error {
	va = pageAlign(va)
	as.mu.Lock()
	if _, exists := as.table[va]; exists {
		as.mu.Unlock()
		return errno.ErrInvalid
	}
	if va >= domain.UserCeiling {
		as.mu.Unlock()
		return errno.ErrInvalid
	}
	as.mu.Unlock()

	pa, err := alloc.AllocPageZeroed()
	if err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	as.table[va] = mapping{pa: pa, flags: downgrade(flags), owned: true}
	as.owned[pa] = struct{}{}
	return nil
}

// MapUserPage installs a mapping without taking frame ownership.
func (as *AddressSpace) MapUserPage(va domain.VirtAddr, pa domain.PhysAddr, flags domain.MapFlags) error {
	va = pageAlign(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, exists := as.table[va]; exists {
		return errno.ErrInvalid
	}
	as.table[va] = mapping{pa: pa, flags: downgrade(flags), owned: false}
	return nil
}

// UnmapPage tears down a mapping, returning the underlying frame so the
// caller (who may or may not own it) can decide whether to free it.
func (as *AddressSpace) UnmapPage(va domain.VirtAddr) (domain.PhysAddr, error) {
	va = pageAlign(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.table[va]
	if !ok {
		return 0, errno.ErrInvalid
	}
	delete(as.table, va)
	delete(as.owned, m.pa)
	return m.pa, nil
}

// Activate installs this table as the currently active one.
func (as *AddressSpace) Activate() error {
	activeTable.mu.Lock()
	defer activeTable.mu.Unlock()
	activeTable.active = as
	return nil
}

// IsCurrentUserRangeMapped walks the *currently active* table, matching
// spec.md §4.2's description of how the syscall gateway validates user
// pointers (against the live TTBR0, not necessarily `as`).
func (as *AddressSpace) IsCurrentUserRangeMapped(va domain.VirtAddr, length uint64) bool {
	activeTable.mu.Lock()
	active := activeTable.active
	activeTable.mu.Unlock()
	if active == nil {
		return false
	}
	return active.rangeMapped(va, length)
}

func (as *AddressSpace) rangeMapped(va domain.VirtAddr, length uint64) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	start := pageAlign(va)
	end := pageAlign(va + domain.VirtAddr(length) + domain.PageSize - 1)
	for p := start; p < end; p += domain.PageSize {
		if _, ok := as.table[p]; !ok {
			return false
		}
	}
	return true
}

// Translate resolves a single virtual address within this table.
func (as *AddressSpace) Translate(va domain.VirtAddr) (domain.PhysAddr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.table[pageAlign(va)]
	if !ok {
		return 0, false
	}
	return m.pa + domain.PhysAddr(va&(domain.PageSize-1)), true
}

// OwnedFrames lists every frame this address space owns (spec.md §8 T-3).
func (as *AddressSpace) OwnedFrames() []domain.PhysAddr {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]domain.PhysAddr, 0, len(as.owned))
	for pa := range as.owned {
		out = append(out, pa)
	}
	return out
}

// TTBR0 returns the synthetic table-root identity for this address space,
// compared for equality in spec.md §8 T-2 ("hosting thread slot's TTBR0
// equals the process's address-space table").
func (as *AddressSpace) TTBR0() domain.PhysAddr { return as.ttbr0 }

// Destroy frees every owned frame back to alloc.
func (as *AddressSpace) Destroy(alloc domain.PhysAllocatorIface) error {
	as.mu.Lock()
	owned := make([]domain.PhysAddr, 0, len(as.owned))
	for pa := range as.owned {
		owned = append(owned, pa)
	}
	as.table = make(map[domain.VirtAddr]mapping)
	as.owned = make(map[domain.PhysAddr]struct{})
	as.mu.Unlock()

	var firstErr error
	for _, pa := range owned {
		if err := alloc.FreePage(pa); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clone deep-copies every owned mapping into a fresh address space: a new
// frame is allocated per owned page and its contents copied byte-for-byte
// via frameBytes, the same frame-as-addressable-memory seam FrameBytes
// exposes (spec.md §4.6 fork semantics -- this kernel has no page-fault
// driven copy-on-write, so fork is a full deep copy rather than a
// lazily-shared one). Non-owned (shared) mappings are installed pointing
// at the same physical frame.
func (as *AddressSpace) Clone(alloc domain.PhysAllocatorIface, frameBytes func(domain.PhysAddr) ([]byte, error)) (*AddressSpace, error) {
	as.mu.Lock()
	snapshot := make(map[domain.VirtAddr]mapping, len(as.table))
	for va, m := range as.table {
		snapshot[va] = m
	}
	as.mu.Unlock()

	out := New()
	for va, m := range snapshot {
		if !m.owned {
			if err := out.MapUserPage(va, m.pa, m.flags); err != nil {
				out.Destroy(alloc)
				return nil, err
			}
			continue
		}
		if err := out.AllocAndMapWith(alloc, va, m.flags); err != nil {
			out.Destroy(alloc)
			return nil, err
		}
		src, err := frameBytes(m.pa)
		if err != nil {
			out.Destroy(alloc)
			return nil, err
		}
		dstPa, _ := out.Translate(va)
		dst, err := frameBytes(dstPa - (dstPa % domain.PageSize))
		if err != nil {
			out.Destroy(alloc)
			return nil, err
		}
		copy(dst, src)
	}
	return out, nil
}

// IsMapped reports whether va has any mapping, ignoring ownership.
func (as *AddressSpace) IsMapped(va domain.VirtAddr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	_, ok := as.table[pageAlign(va)]
	return ok
}

// FlagsAt returns the protection flags for va, used by T-4's process-info
// page RO/RW-from-EL1 assertion in tests.
func (as *AddressSpace) FlagsAt(va domain.VirtAddr) (domain.MapFlags, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.table[pageAlign(va)]
	return m.flags, ok
}

var _ domain.AddressSpaceIface = (*AddressSpace)(nil)
