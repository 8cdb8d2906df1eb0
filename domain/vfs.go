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

import "time"

// Metadata is the backend-agnostic stat result (spec.md §4.8).
type Metadata struct {
	Size    int64
	IsDir   bool
	ModTime time.Time
	Mode    uint32
}

// FsStats is returned by a backend's Stats() for statfs-equivalent callers.
type FsStats struct {
	TotalBytes uint64
	FreeBytes  uint64
	Files      uint64
}

// BackendIface is the per-mount filesystem contract of spec.md §4.8. Every
// backend (ext2, memfs, procfs) implements the full set; operations a
// backend does not support (procfs's writes, mkdir, remove and rename)
// return errno.ErrAccess rather than being omitted, so the mount table can
// treat all three uniformly.
type BackendIface interface {
	Name() string
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadAt(path string, off int64, p []byte) (int, error)
	WriteAt(path string, off int64, p []byte) (int, error)
	ListDir(path string) ([]string, error)
	Metadata(path string) (Metadata, error)
	CreateDir(path string) error
	RemoveFile(path string) error
	Rename(oldPath, newPath string) error
	Exists(path string) bool
	FileSize(path string) (int64, error)
	Stats() FsStats
}

// MountTableIface is the C8 mount table / path-resolution contract.
type MountTableIface interface {
	Mount(prefix string, backend BackendIface) error
	Unmount(prefix string) error
	Resolve(cwd, input string, box BoxID, rootDir string) (backend BackendIface, relPath string, err error)
	Mounts() []string
}

// BlockDeviceIface is the out-of-scope collaborator the ext2 backend reads
// and writes sectors through (spec.md §1: "a block device exposing sector
// read/write").
type BlockDeviceIface interface {
	ReadSector(lba uint64, buf []byte) error
	WriteSector(lba uint64, buf []byte) error
	SectorSize() int
	SectorCount() uint64
}
