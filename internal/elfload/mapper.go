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

package elfload

import (
	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/addrspace"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/memory"
)

// addrSpaceMapper pairs an address space with the allocator whose
// FrameBytes lets the loader copy ELF segment contents directly into the
// frame backing a mapping -- the Go analog of the kernel's identity-mapped
// view of physical RAM (spec.md §4.2).
type addrSpaceMapper struct {
	AS    *addrspace.AddressSpace
	Alloc *memory.Allocator
}

// New wraps an address space and allocator for use by Load.
func New(as *addrspace.AddressSpace, alloc *memory.Allocator) *addrSpaceMapper {
	return &addrSpaceMapper{AS: as, Alloc: alloc}
}

func (m *addrSpaceMapper) allocAndMap(alloc domain.PhysAllocatorIface, va domain.VirtAddr, flags domain.MapFlags) error {
	return m.AS.AllocAndMapWith(alloc, va, flags)
}

func (m *addrSpaceMapper) pageBytes(page domain.VirtAddr) ([]byte, error) {
	pa, ok := m.AS.Translate(page)
	if !ok {
		return nil, errno.ErrFault
	}
	return m.Alloc.FrameBytes(pa - (pa % domain.PageSize))
}
