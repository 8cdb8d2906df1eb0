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
// Package memfs implements the in-memory VFS backend of spec.md §4.8 on
// top of afero.NewMemMapFs(), the same mem-vs-file-backed filesystem
// abstraction used for ionode I/O. A sync.Mutex still guards every
// operation, mirroring the guarded map-backed state spec.md §4.8
// describes; afero.MemMapFs supplies the BTreeMap-equivalent storage
// itself.
package memfs

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/spf13/afero"
)

// FS is the concrete memfs backend.
type FS struct {
	mu  sync.Mutex
	afs afero.Fs
}

// New creates an empty in-memory filesystem rooted at "/".
func New() *FS {
	afs := afero.NewMemMapFs()
	_ = afs.MkdirAll("/", 0o755)
	return &FS{afs: afs}
}

func (f *FS) Name() string { return "memfs" }

func translateStatErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return errno.ErrNoEnt
	}
	if os.IsExist(err) {
		return errno.ErrAlreadyExists
	}
	return err
}

func (f *FS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.afs.Stat(path)
	if err != nil {
		return nil, translateStatErr(err)
	}
	if info.IsDir() {
		return nil, errno.ErrNoEnt
	}
	data, err := afero.ReadFile(f.afs, path)
	if err != nil {
		return nil, translateStatErr(err)
	}
	return data, nil
}

func (f *FS) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return afero.WriteFile(f.afs, path, data, 0o644)
}

func (f *FS) ReadAt(path string, off int64, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.afs.Stat(path)
	if err != nil {
		return 0, translateStatErr(err)
	}
	if info.IsDir() {
		return 0, errno.ErrNoEnt
	}
	if off >= info.Size() {
		return 0, nil // reads beyond EOF return 0, spec.md §4.8
	}
	file, err := f.afs.Open(path)
	if err != nil {
		return 0, translateStatErr(err)
	}
	defer file.Close()
	n, err := file.ReadAt(p, off)
	if err != nil && n == 0 {
		return 0, nil
	}
	return n, nil
}

func (f *FS) WriteAt(path string, off int64, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.afs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, translateStatErr(err)
	}
	defer file.Close()
	return file.WriteAt(p, off)
}

func (f *FS) ListDir(dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.afs.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errno.ErrNoEnt
	}
	dh, err := f.afs.Open(dir)
	if err != nil {
		return nil, translateStatErr(err)
	}
	defer dh.Close()
	names, err := dh.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		rest := name
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[:idx]
		}
		if rest != "" && !seen[rest] {
			seen[rest] = true
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *FS) Metadata(path string) (domain.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.afs.Stat(path)
	if err != nil {
		return domain.Metadata{}, translateStatErr(err)
	}
	return domain.Metadata{
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
		Mode:    uint32(info.Mode()),
	}, nil
}

func (f *FS) CreateDir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.afs.Stat(path); err == nil {
		return errno.ErrAlreadyExists
	}
	return translateStatErr(f.afs.Mkdir(path, 0o755))
}

func (f *FS) RemoveFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.afs.Stat(path); err != nil {
		return errno.ErrNoEnt
	}
	return translateStatErr(f.afs.Remove(path))
}

func (f *FS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.afs.Stat(oldPath); err != nil {
		return errno.ErrNoEnt
	}
	return translateStatErr(f.afs.Rename(oldPath, newPath))
}

func (f *FS) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok, _ := afero.Exists(f.afs, path)
	return ok
}

func (f *FS) FileSize(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.afs.Stat(path)
	if err != nil {
		return 0, errno.ErrNoEnt
	}
	return info.Size(), nil
}

func (f *FS) Stats() domain.FsStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	var count uint64
	_ = afero.Walk(f.afs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		count++
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return domain.FsStats{TotalBytes: total, Files: count}
}

var _ domain.BackendIface = (*FS)(nil)
