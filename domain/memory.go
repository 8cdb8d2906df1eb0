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

// HeapStats reports the physical allocator's running counters.
type HeapStats struct {
	HeapSize  uint64
	InUse     uint64
	Peak      uint64
	AllocCall uint64
	FreeCall  uint64
}

// PhysAllocatorIface is the C1 physical frame/heap allocator contract.
type PhysAllocatorIface interface {
	AllocPage() (PhysAddr, error)
	AllocPageZeroed() (PhysAddr, error)
	FreePage(pa PhysAddr) error
	Stats() HeapStats
}

// MapFlags controls the protection of a user page-table mapping.
type MapFlags uint8

const (
	RO MapFlags = iota
	RW
	RX
	RWNoExec
)

// Normalize returns f unchanged: MapFlags has no writable+executable value,
// so there is no combination for it to downgrade.
func (f MapFlags) Normalize() MapFlags {
	return f
}

// AddressSpaceIface is the C2 per-process page-table contract.
type AddressSpaceIface interface {
	AllocAndMap(va VirtAddr, flags MapFlags) error
	MapUserPage(va VirtAddr, pa PhysAddr, flags MapFlags) error
	UnmapPage(va VirtAddr) (PhysAddr, error)
	Activate() error
	IsCurrentUserRangeMapped(va VirtAddr, length uint64) bool
	Translate(va VirtAddr) (PhysAddr, bool)
	OwnedFrames() []PhysAddr
	TTBR0() PhysAddr
	Destroy(alloc PhysAllocatorIface) error
}
