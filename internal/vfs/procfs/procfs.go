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
// Package procfs implements the synthesized, read-only VFS backend of
// spec.md §4.8/§4.6: per-process "/<pid>/fd/<n>" descriptor visibility
// (the "procfs stdio visibility" self-test scenario), "/boxes" box
// listing, and "/uptime". Content is generated on read, never stored,
// the same way a real /proc/uptime is synthesized from live kernel
// state rather than persisted.
package procfs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

// FS is the concrete procfs backend. It holds no data of its own; every
// read is synthesized from the live process table, box registry, and
// timer at call time.
type FS struct {
	Processes domain.ProcessServiceIface
	Boxes     domain.BoxRegistryIface
	Clock     domain.TimerIface
}

// New wires a procfs backend to the live kernel services it reads from.
func New(ps domain.ProcessServiceIface, boxes domain.BoxRegistryIface, clock domain.TimerIface) *FS {
	return &FS{Processes: ps, Boxes: boxes, Clock: clock}
}

func (f *FS) Name() string { return "procfs" }

func (f *FS) ReadFile(path string) ([]byte, error) {
	segs := splitPath(path)
	switch {
	case len(segs) == 1 && segs[0] == "uptime":
		return f.renderUptime(), nil
	case len(segs) == 1 && segs[0] == "boxes":
		return f.renderBoxes(), nil
	case len(segs) == 3 && segs[1] == "fd":
		return f.renderFd(segs[0], segs[2])
	}
	return nil, errno.ErrNoEnt
}

func (f *FS) renderUptime() []byte {
	secs := float64(f.Clock.UptimeUs()) / 1e6
	s := fmt.Sprintf("%.2f %.2f\n", secs, secs)
	return []byte(s)
}

func (f *FS) renderBoxes() []byte {
	boxes := f.Boxes.All()
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].ID < boxes[j].ID })
	var b strings.Builder
	for _, box := range boxes {
		fmt.Fprintf(&b, "%d\t%s\t%s\t%d\n", box.ID, box.Name, box.RootDir, box.PrimaryPid)
	}
	return []byte(b.String())
}

func (f *FS) renderFd(pidStr, fdStr string) ([]byte, error) {
	pidN, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, errno.ErrNoEnt
	}
	proc, ok := f.Processes.Lookup(domain.Pid(pidN))
	if !ok {
		return nil, errno.ErrNoEnt
	}
	fdN, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, errno.ErrNoEnt
	}
	fd, ok := proc.Fds()[int32(fdN)]
	if !ok {
		return nil, errno.ErrNoEnt
	}
	// A live channel exposes the actual buffered bytes, the content a
	// watching host needs for spec.md §8's procfs-stdio-visibility
	// scenario; without one (e.g. a synthetic process in a test) fall
	// back to the descriptive pipe/socket string.
	if ch := proc.Channel(); ch != nil {
		switch fd.Kind {
		case domain.FDStdin:
			return ch.PeekStdin(), nil
		case domain.FDStdout, domain.FDStderr:
			return ch.PeekStdout(), nil
		}
	}
	return []byte(describeFd(*fd) + "\n"), nil
}

func describeFd(fd domain.FileDescriptor) string {
	switch fd.Kind {
	case domain.FDStdin:
		return "pipe:[stdin]"
	case domain.FDStdout:
		return "pipe:[stdout]"
	case domain.FDStderr:
		return "pipe:[stderr]"
	case domain.FDSocket:
		return fmt.Sprintf("socket:[%d]", fd.SockIdx)
	case domain.FDChildStdout:
		return fmt.Sprintf("pipe:[child %d stdout]", fd.ChildPid)
	default:
		return fd.Path
	}
}

func (f *FS) WriteFile(path string, data []byte) error {
	return errno.ErrAccess
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
	return 0, errno.ErrAccess
}

func (f *FS) ListDir(path string) ([]string, error) {
	segs := splitPath(path)
	switch len(segs) {
	case 0:
		out := []string{"uptime", "boxes"}
		for _, proc := range f.Processes.All() {
			out = append(out, strconv.Itoa(int(proc.Pid())))
		}
		return out, nil
	case 1:
		pidN, err := strconv.Atoi(segs[0])
		if err != nil {
			return nil, errno.ErrNoEnt
		}
		if _, ok := f.Processes.Lookup(domain.Pid(pidN)); !ok {
			return nil, errno.ErrNoEnt
		}
		return []string{"fd"}, nil
	case 2:
		if segs[1] != "fd" {
			return nil, errno.ErrNoEnt
		}
		pidN, err := strconv.Atoi(segs[0])
		if err != nil {
			return nil, errno.ErrNoEnt
		}
		proc, ok := f.Processes.Lookup(domain.Pid(pidN))
		if !ok {
			return nil, errno.ErrNoEnt
		}
		var out []string
		for n := range proc.Fds() {
			out = append(out, strconv.Itoa(int(n)))
		}
		return out, nil
	}
	return nil, errno.ErrNoEnt
}

func (f *FS) Metadata(path string) (domain.Metadata, error) {
	segs := splitPath(path)
	if len(segs) == 3 && segs[1] == "fd" {
		data, err := f.ReadFile(path)
		if err != nil {
			return domain.Metadata{}, err
		}
		return domain.Metadata{Size: int64(len(data)), ModTime: time.Now()}, nil
	}
	if len(segs) <= 2 {
		return domain.Metadata{IsDir: true, ModTime: time.Now()}, nil
	}
	data, err := f.ReadFile(path)
	if err != nil {
		return domain.Metadata{}, err
	}
	return domain.Metadata{Size: int64(len(data)), ModTime: time.Now()}, nil
}

func (f *FS) CreateDir(path string) error  { return errno.ErrAccess }
func (f *FS) RemoveFile(path string) error { return errno.ErrAccess }
func (f *FS) Rename(oldPath, newPath string) error {
	return errno.ErrAccess
}

func (f *FS) Exists(path string) bool {
	_, err := f.Metadata(path)
	return err == nil
}

func (f *FS) FileSize(path string) (int64, error) {
	data, err := f.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (f *FS) Stats() domain.FsStats {
	return domain.FsStats{Files: uint64(len(f.Processes.All()) + 2)}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

var _ domain.BackendIface = (*FS)(nil)
