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
// Package ext2fs implements the on-disk VFS backend of spec.md §4.8: "an
// ext2 driver against a block device with a spinlock-protected state".
// The on-disk layout here is a deliberately small subset of real ext2
// (superblock + flat directory table + bump-allocated data extents, no
// free-block reclamation) sized to this repo's budget; it is exercised
// through the same domain.BackendIface contract real ext2 metadata
// (inode bitmaps, block groups) would sit behind, so swapping in a fuller
// on-disk format later does not change any caller. See DESIGN.md.
package ext2fs

import (
	"encoding/binary"
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

const (
	sectorSize     = 512
	magic          = 0xE2F5_0001
	maxFiles       = 256
	dirEntrySize   = 64
	dirTableSector = 1
	dataStartSector = dirTableSector + (maxFiles*dirEntrySize+sectorSize-1)/sectorSize
)

type dirEntry struct {
	used        bool
	isDir       bool
	name        string
	startSector uint32
	length      uint32 // bytes
}

// FS is the concrete ext2-style backend.
type FS struct {
	mu       sync.Mutex // spinlock-protected state, per spec.md §4.8
	dev      domain.BlockDeviceIface
	entries  []dirEntry
	nextFree uint32
}

// Mount reads (or, if the superblock magic is absent, formats) the
// backend's state from dev.
func Mount(dev domain.BlockDeviceIface) (*FS, error) {
	f := &FS{dev: dev, entries: make([]dirEntry, maxFiles)}
	sb := make([]byte, sectorSize)
	if err := dev.ReadSector(0, sb); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(sb[0:4]) != magic {
		if err := f.format(); err != nil {
			return nil, err
		}
		return f, nil
	}
	f.nextFree = binary.LittleEndian.Uint32(sb[4:8])
	if err := f.loadDirTable(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FS) format() error {
	f.nextFree = dataStartSector
	sb := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(sb[0:4], magic)
	binary.LittleEndian.PutUint32(sb[4:8], f.nextFree)
	if err := f.dev.WriteSector(0, sb); err != nil {
		return err
	}
	return f.flushDirTable()
}

func (f *FS) loadDirTable() error {
	buf := make([]byte, sectorSize)
	for i := 0; i < maxFiles; i++ {
		sector := dirTableSector + uint64(i*dirEntrySize)/sectorSize
		off := int(uint64(i*dirEntrySize) % sectorSize)
		if off == 0 {
			if err := f.dev.ReadSector(sector, buf); err != nil {
				return err
			}
		}
		raw := buf[off : off+dirEntrySize]
		f.entries[i] = decodeEntry(raw)
	}
	return nil
}

func (f *FS) flushDirTable() error {
	buf := make([]byte, sectorSize)
	sector := uint64(dirTableSector)
	count := 0
	for i := 0; i < maxFiles; i++ {
		off := count * dirEntrySize
		encodeEntry(buf[off:off+dirEntrySize], f.entries[i])
		count++
		if (off+dirEntrySize) == sectorSize || i == maxFiles-1 {
			if err := f.dev.WriteSector(sector, buf); err != nil {
				return err
			}
			sector++
			count = 0
			buf = make([]byte, sectorSize)
		}
	}
	return nil
}

func encodeEntry(b []byte, e dirEntry) {
	if e.used {
		b[0] = 1
	}
	if e.isDir {
		b[1] = 1
	}
	nameBytes := []byte(e.name)
	n := len(nameBytes)
	if n > 53 {
		n = 53
	}
	copy(b[2:2+n], nameBytes[:n])
	binary.LittleEndian.PutUint32(b[56:60], e.startSector)
	binary.LittleEndian.PutUint32(b[60:64], e.length)
}

func decodeEntry(b []byte) dirEntry {
	e := dirEntry{used: b[0] == 1, isDir: b[1] == 1}
	end := 2
	for end < 55 && b[end] != 0 {
		end++
	}
	e.name = string(b[2:end])
	e.startSector = binary.LittleEndian.Uint32(b[56:60])
	e.length = binary.LittleEndian.Uint32(b[60:64])
	return e
}

func (f *FS) find(path string) int {
	for i, e := range f.entries {
		if e.used && e.name == path {
			return i
		}
	}
	return -1
}

func (f *FS) Name() string { return "ext2" }

func (f *FS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.find(path)
	if idx < 0 {
		return nil, errno.ErrNoEnt
	}
	e := f.entries[idx]
	return f.readExtent(e.startSector, e.length)
}

func (f *FS) readExtent(start uint32, length uint32) ([]byte, error) {
	sectors := (length + sectorSize - 1) / sectorSize
	out := make([]byte, 0, sectors*sectorSize)
	buf := make([]byte, sectorSize)
	for i := uint32(0); i < sectors; i++ {
		if err := f.dev.ReadSector(uint64(start+i), buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out[:length], nil
}

func (f *FS) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.find(path)
	if idx < 0 {
		idx = f.allocDirEntry(path)
		if idx < 0 {
			return errno.ErrNoMem
		}
	}

	start := f.nextFree
	if err := f.writeExtent(start, data); err != nil {
		return err
	}
	sectors := uint32((len(data) + sectorSize - 1) / sectorSize)
	if sectors == 0 {
		sectors = 1
	}
	f.nextFree += sectors

	f.entries[idx].startSector = start
	f.entries[idx].length = uint32(len(data))
	return f.persist()
}

func (f *FS) writeExtent(start uint32, data []byte) error {
	sectors := (len(data) + sectorSize - 1) / sectorSize
	if sectors == 0 {
		sectors = 1
	}
	buf := make([]byte, sectorSize)
	for i := 0; i < sectors; i++ {
		for j := range buf {
			buf[j] = 0
		}
		lo := i * sectorSize
		hi := lo + sectorSize
		if hi > len(data) {
			hi = len(data)
		}
		if lo < len(data) {
			copy(buf, data[lo:hi])
		}
		if err := f.dev.WriteSector(uint64(start+uint32(i)), buf); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) allocDirEntry(path string) int {
	for i := range f.entries {
		if !f.entries[i].used {
			f.entries[i] = dirEntry{used: true, name: path}
			return i
		}
	}
	return -1
}

func (f *FS) persist() error {
	sb := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(sb[0:4], magic)
	binary.LittleEndian.PutUint32(sb[4:8], f.nextFree)
	if err := f.dev.WriteSector(0, sb); err != nil {
		return err
	}
	return f.flushDirTable()
}

func (f *FS) ReadAt(path string, off int64, p []byte) (int, error) {
	data, err := f.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if off >= int64(len(data)) {
		return 0, nil
	}
	return copy(p, data[off:]), nil
}

func (f *FS) WriteAt(path string, off int64, p []byte) (int, error) {
	f.mu.Lock()
	var existing []byte
	idx := f.find(path)
	if idx >= 0 {
		e := f.entries[idx]
		f.mu.Unlock()
		var err error
		existing, err = f.readExtent(e.startSector, e.length)
		if err != nil {
			return 0, err
		}
	} else {
		f.mu.Unlock()
	}
	need := off + int64(len(p))
	if need > int64(len(existing)) {
		grown := make([]byte, need)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[off:], p)
	if err := f.WriteFile(path, existing); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *FS) ListDir(path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		if e.used {
			out = append(out, e.name)
		}
	}
	return out, nil
}

func (f *FS) Metadata(path string) (domain.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.find(path)
	if idx < 0 {
		return domain.Metadata{}, errno.ErrNoEnt
	}
	return domain.Metadata{Size: int64(f.entries[idx].length), IsDir: f.entries[idx].isDir}, nil
}

func (f *FS) CreateDir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(path) >= 0 {
		return errno.ErrAlreadyExists
	}
	idx := f.allocDirEntry(path)
	if idx < 0 {
		return errno.ErrNoMem
	}
	f.entries[idx].isDir = true
	return f.persist()
}

func (f *FS) RemoveFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.find(path)
	if idx < 0 {
		return errno.ErrNoEnt
	}
	f.entries[idx] = dirEntry{}
	return f.persist()
}

func (f *FS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.find(oldPath)
	if idx < 0 {
		return errno.ErrNoEnt
	}
	f.entries[idx].name = newPath
	return f.persist()
}

func (f *FS) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(path) >= 0
}

func (f *FS) FileSize(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.find(path)
	if idx < 0 {
		return 0, errno.ErrNoEnt
	}
	return int64(f.entries[idx].length), nil
}

func (f *FS) Stats() domain.FsStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files uint64
	for _, e := range f.entries {
		if e.used {
			files++
		}
	}
	total := f.dev.SectorCount() * uint64(f.dev.SectorSize())
	used := uint64(f.nextFree) * uint64(f.dev.SectorSize())
	free := uint64(0)
	if total > used {
		free = total - used
	}
	return domain.FsStats{TotalBytes: total, FreeBytes: free, Files: files}
}

var _ domain.BackendIface = (*FS)(nil)
