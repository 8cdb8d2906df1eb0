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

package syscall

import (
	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

// pointerLow/pointerHigh bound every user pointer a syscall handler
// accepts: from the process-info page up to the user ceiling
// (spec.md §4.7's "[0x1000, 0x40000000)").
const (
	pointerLow  = domain.ProcessInfoAddr
	pointerHigh = domain.UserCeiling
)

// frameBytesFn exposes a physical frame's backing bytes, the same seam
// internal/addrspace's Clone uses to copy page contents. The dispatcher
// is handed the kernel's single physical allocator's FrameBytes method.
type frameBytesFn func(domain.PhysAddr) ([]byte, error)

// validatePointer checks a [va, va+length) user range against the fixed
// bounds and the process's own page tables, per spec.md §4.7. bypass
// permits the kernel to invoke handlers directly during self-tests
// (spec.md §4.7's debug-only flag).
func validatePointer(as domain.AddressSpaceIface, va domain.VirtAddr, length uint64, bypass bool) error {
	if bypass {
		return nil
	}
	if length == 0 {
		return nil
	}
	if va < pointerLow || uint64(va)+length > uint64(pointerHigh) {
		return errno.ErrFault
	}
	if !as.IsCurrentUserRangeMapped(va, length) {
		return errno.ErrFault
	}
	return nil
}

// copyFromUser reads length bytes starting at va out of the process's
// address space into a freshly allocated kernel buffer.
func copyFromUser(as domain.AddressSpaceIface, fb frameBytesFn, va domain.VirtAddr, length uint64, bypass bool) ([]byte, error) {
	if err := validatePointer(as, va, length, bypass); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if err := walkUserRange(as, fb, va, out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// copyToUser writes p into the process's address space starting at va.
func copyToUser(as domain.AddressSpaceIface, fb frameBytesFn, va domain.VirtAddr, p []byte, bypass bool) error {
	if err := validatePointer(as, va, uint64(len(p)), bypass); err != nil {
		return err
	}
	return walkUserRange(as, fb, va, p, true)
}

// walkUserRange copies buf to/from the user range starting at va,
// one physical frame at a time, since a range may straddle page
// boundaries and frameBytesFn only hands back one page at a time.
func walkUserRange(as domain.AddressSpaceIface, fb frameBytesFn, va domain.VirtAddr, buf []byte, toUser bool) error {
	remaining := buf
	cursor := va
	for len(remaining) > 0 {
		pa, ok := as.Translate(cursor)
		if !ok {
			return errno.ErrFault
		}
		pageBase := domain.PhysAddr(uint64(pa) - uint64(pa)%domain.PageSize)
		offset := uint64(pa) - uint64(pageBase)

		page, err := fb(pageBase)
		if err != nil {
			return err
		}
		n := domain.PageSize - int(offset)
		if n > len(remaining) {
			n = len(remaining)
		}
		if toUser {
			copy(page[offset:offset+uint64(n)], remaining[:n])
		} else {
			copy(remaining[:n], page[offset:offset+uint64(n)])
		}
		remaining = remaining[n:]
		cursor += domain.VirtAddr(n)
	}
	return nil
}

// copyFromUserStr reads a NUL-terminated string of at most maxLen bytes,
// revalidating the pointer range at each 4 KiB boundary it crosses
// (spec.md §4.7's copy_from_user_str).
func copyFromUserStr(as domain.AddressSpaceIface, fb frameBytesFn, va domain.VirtAddr, maxLen int, bypass bool) (string, error) {
	out := make([]byte, 0, maxLen)
	cursor := va
	for len(out) < maxLen {
		chunkLen := domain.PageSize - int(uint64(cursor)%domain.PageSize)
		if chunkLen > maxLen-len(out) {
			chunkLen = maxLen - len(out)
		}
		chunk, err := copyFromUser(as, fb, cursor, uint64(chunkLen), bypass)
		if err != nil {
			return "", errno.ErrFault
		}
		for _, b := range chunk {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
		cursor += domain.VirtAddr(chunkLen)
	}
	return "", errno.ErrInvalid
}
