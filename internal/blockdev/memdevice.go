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
// Package blockdev provides domain.BlockDeviceIface implementations: a
// RAM-backed device for the self-test battery and for boots with no disk
// image configured, and a flat-file device backing a real block image path
// (internal/config.BootConfig.BlockImagePath).
package blockdev

import (
	"io"
	"os"
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

const defaultSectorSize = 512

// MemDevice is an in-RAM block device, the Go analog of a QEMU -drive
// backed by a throwaway image: no persistence across reboots.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][]byte
	size    int
}

// NewMemDevice allocates a zeroed device of capacity bytes.
func NewMemDevice(capacity int) *MemDevice {
	count := (capacity + defaultSectorSize - 1) / defaultSectorSize
	d := &MemDevice{sectors: make([][]byte, count), size: defaultSectorSize}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, defaultSectorSize)
	}
	return d
}

func (d *MemDevice) ReadSector(lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lba >= uint64(len(d.sectors)) {
		return errno.ErrInvalid
	}
	copy(buf, d.sectors[lba])
	return nil
}

func (d *MemDevice) WriteSector(lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lba >= uint64(len(d.sectors)) {
		return errno.ErrInvalid
	}
	copy(d.sectors[lba], buf)
	return nil
}

func (d *MemDevice) SectorSize() int    { return d.size }
func (d *MemDevice) SectorCount() uint64 { return uint64(len(d.sectors)) }

var _ domain.BlockDeviceIface = (*MemDevice)(nil)

// FileDevice backs a block device with a flat file on the host, used when
// internal/config.BootConfig.BlockImagePath is set.
type FileDevice struct {
	mu    sync.Mutex
	f     *os.File
	count uint64
}

// OpenFileDevice opens (creating if absent) a flat image file of capacity
// bytes, rounded down to whole sectors.
func OpenFileDevice(path string, capacity int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, count: uint64(capacity) / defaultSectorSize}, nil
}

func (d *FileDevice) ReadSector(lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lba >= d.count {
		return errno.ErrInvalid
	}
	_, err := d.f.ReadAt(buf[:defaultSectorSize], int64(lba)*defaultSectorSize)
	if err == io.EOF {
		return nil
	}
	return err
}

func (d *FileDevice) WriteSector(lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lba >= d.count {
		return errno.ErrInvalid
	}
	_, err := d.f.WriteAt(buf[:defaultSectorSize], int64(lba)*defaultSectorSize)
	return err
}

func (d *FileDevice) SectorSize() int     { return defaultSectorSize }
func (d *FileDevice) SectorCount() uint64 { return d.count }
func (d *FileDevice) Close() error        { return d.f.Close() }

var _ domain.BlockDeviceIface = (*FileDevice)(nil)
