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
// Package elfload implements the ELF64/AArch64 loading half of C6
// (spec.md §4.6). No third-party ELF parser appears anywhere in the
// retrieval pack, so this uses the standard library's debug/elf —
// the same package the wider Go ecosystem reaches for (e.g. Delve) when
// no richer library is in play; see DESIGN.md.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

// Image is the result of loading an ELF binary into a fresh address
// space: the entry point and the final brk, per spec.md §4.6.
type Image struct {
	Entry domain.VirtAddr
	Brk   domain.VirtAddr
}

// Load parses data as an ELF64 AArch64 executable and maps its PT_LOAD
// segments into as, using alloc for frames. Overlapping BSS pages that
// were already mapped by an earlier segment are reused rather than
// remapped, matching spec.md §4.6.
func Load(data []byte, as *addrSpaceMapper, alloc domain.PhysAllocatorIface) (Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("akuma: parse ELF: %w", errno.ErrInvalid)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_AARCH64 {
		return Image{}, fmt.Errorf("akuma: not an AArch64 ELF64 executable: %w", errno.ErrInvalid)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return Image{}, fmt.Errorf("akuma: unsupported ELF type %v: %w", f.Type, errno.ErrInvalid)
	}

	var maxEnd domain.VirtAddr
	mappedPages := make(map[domain.VirtAddr]bool)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		flags := segmentFlags(prog.Flags)
		segStart := domain.VirtAddr(prog.Vaddr)
		segFileEnd := segStart + domain.VirtAddr(prog.Filesz)
		segMemEnd := segStart + domain.VirtAddr(prog.Memsz)
		if segMemEnd > maxEnd {
			maxEnd = segMemEnd
		}

		pageStart := pageAlign(segStart)
		pageEnd := pageAlign(segMemEnd + domain.PageSize - 1)

		fileData := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(fileData, 0); err != nil {
			return Image{}, fmt.Errorf("akuma: read segment: %w", err)
		}

		for page := pageStart; page < pageEnd; page += domain.PageSize {
			if !mappedPages[page] {
				if err := as.allocAndMap(alloc, page, flags); err != nil {
					return Image{}, err
				}
				mappedPages[page] = true
			}

			if err := copySegmentPage(as, page, segStart, segFileEnd, fileData); err != nil {
				return Image{}, err
			}
		}
	}

	applyRelativeRelocations(f, as)

	brk := pageAlign(maxEnd + domain.PageSize - 1)
	return Image{Entry: domain.VirtAddr(f.Entry), Brk: brk}, nil
}

func segmentFlags(f elf.ProgFlag) domain.MapFlags {
	switch {
	case f&elf.PF_X != 0:
		return domain.RX
	case f&elf.PF_W != 0:
		return domain.RW
	default:
		return domain.RO
	}
}

func pageAlign(va domain.VirtAddr) domain.VirtAddr {
	return va &^ (domain.PageSize - 1)
}

// copySegmentPage copies the portion of fileData that overlaps [page,
// page+PageSize) at the correct in-page offset; bytes beyond Filesz are
// already zero because allocAndMap zeroes new frames.
func copySegmentPage(as *addrSpaceMapper, page, segStart, segFileEnd domain.VirtAddr, fileData []byte) error {
	pageEnd := page + domain.PageSize
	copyStart := segStart
	if page > copyStart {
		copyStart = page
	}
	copyEnd := segFileEnd
	if pageEnd < copyEnd {
		copyEnd = pageEnd
	}
	if copyStart >= copyEnd {
		return nil
	}

	dst, err := as.pageBytes(page)
	if err != nil {
		return err
	}
	srcOff := copyStart - segStart
	dstOff := copyStart - page
	n := copyEnd - copyStart
	copy(dst[dstOff:dstOff+n], fileData[srcOff:srcOff+n])
	return nil
}

// applyRelativeRelocations applies R_AARCH64_RELATIVE entries. Since
// executables in this kernel always load at their preferred address
// (spec.md §4.6: "B=0"), the relocation value is simply the addend.
func applyRelativeRelocations(f *elf.File, as *addrSpaceMapper) {
	relaSec := f.Section(".rela.dyn")
	if relaSec == nil {
		return
	}
	data, err := relaSec.Data()
	if err != nil {
		return
	}
	const entSize = 24 // Elf64_Rela: r_offset(8) r_info(8) r_addend(8)
	const rAarch64Relative = 1027
	for off := 0; off+entSize <= len(data); off += entSize {
		rOffset := leUint64(data[off : off+8])
		rInfo := leUint64(data[off+8 : off+16])
		rAddend := leUint64(data[off+16 : off+24])
		if rInfo&0xffffffff != rAarch64Relative {
			continue
		}
		va := domain.VirtAddr(rOffset)
		dst, err := as.pageBytes(pageAlign(va))
		if err != nil {
			continue
		}
		off2 := int(va - pageAlign(va))
		if off2+8 > len(dst) {
			continue
		}
		putLeUint64(dst[off2:off2+8], rAddend)
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
