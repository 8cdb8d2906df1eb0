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

package procfs

import (
	"fmt"
	"strings"
	"testing"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/memory"
	"github.com/netoneko/akuma/internal/process"
	"github.com/netoneko/akuma/internal/scheduler"
	"github.com/netoneko/akuma/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid domain.Pid
	fds map[int32]*domain.FileDescriptor
}

func (p *fakeProcess) Pid() domain.Pid                       { return p.pid }
func (p *fakeProcess) Ppid() domain.Pid                      { return 1 }
func (p *fakeProcess) Box() domain.BoxID                     { return domain.HostBoxID }
func (p *fakeProcess) Cwd() string                           { return "/" }
func (p *fakeProcess) Root() string                          { return "/" }
func (p *fakeProcess) SetCwd(path string)                    {}
func (p *fakeProcess) AddrSpace() domain.AddressSpaceIface   { return nil }
func (p *fakeProcess) HostThread() domain.ThreadID           { return 0 }
func (p *fakeProcess) Fds() map[int32]*domain.FileDescriptor { return p.fds }
func (p *fakeProcess) AllocFd(fd domain.FileDescriptor) int32 { return 0 }
func (p *fakeProcess) CloseFd(n int32) error                 { return nil }
func (p *fakeProcess) Brk() domain.VirtAddr                  { return 0 }
func (p *fakeProcess) SetBrk(v domain.VirtAddr)              {}
func (p *fakeProcess) Interrupted() bool                     { return false }
func (p *fakeProcess) Interrupt()                            {}
func (p *fakeProcess) Exited() bool                          { return false }
func (p *fakeProcess) ExitCode() int                         { return 0 }
func (p *fakeProcess) Exit(code int)                         {}
func (p *fakeProcess) Channel() domain.ProcessChannelIface    { return nil }

type fakeProcessService struct {
	procs map[domain.Pid]domain.ProcessIface
}

func (s *fakeProcessService) SpawnProcess(path string, argv, env []string, stdin []byte, cwd, rootDir string, box domain.BoxID) (domain.ThreadID, domain.ProcessChannelIface, domain.Pid, error) {
	return 0, nil, 0, nil
}
func (s *fakeProcessService) Fork(parent domain.Pid) (domain.Pid, error)            { return 0, nil }
func (s *fakeProcessService) Execve(pid domain.Pid, path string, argv []string) error { return nil }
func (s *fakeProcessService) Lookup(pid domain.Pid) (domain.ProcessIface, bool) {
	p, ok := s.procs[pid]
	return p, ok
}
func (s *fakeProcessService) All() []domain.ProcessIface {
	var out []domain.ProcessIface
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}
func (s *fakeProcessService) InBox(box domain.BoxID) []domain.ProcessIface { return s.All() }
func (s *fakeProcessService) Wait4(parent, child domain.Pid, nohang bool) (domain.Pid, int, error) {
	return 0, 0, nil
}
func (s *fakeProcessService) Kill(pid domain.Pid) error { return nil }
func (s *fakeProcessService) Exit(pid domain.Pid, code int) {}

type fakeBoxRegistry struct {
	boxes []domain.BoxInfo
}

func (r *fakeBoxRegistry) Register(id domain.BoxID, name, root string, primary domain.Pid) error {
	return nil
}
func (r *fakeBoxRegistry) Lookup(id domain.BoxID) (domain.BoxInfo, bool) { return domain.BoxInfo{}, false }
func (r *fakeBoxRegistry) All() []domain.BoxInfo                        { return r.boxes }
func (r *fakeBoxRegistry) Kill(id domain.BoxID, ps domain.ProcessServiceIface) error { return nil }
func (r *fakeBoxRegistry) Reattach(pid domain.Pid, sessionTermios *domain.Termios) error {
	return nil
}

func TestReadFdDescribesStdio(t *testing.T) {
	proc := &fakeProcess{pid: 42, fds: map[int32]*domain.FileDescriptor{
		0: {Kind: domain.FDStdin},
		1: {Kind: domain.FDStdout},
	}}
	ps := &fakeProcessService{procs: map[domain.Pid]domain.ProcessIface{42: proc}}
	fs := New(ps, &fakeBoxRegistry{}, timer.New())

	data, err := fs.ReadFile("/42/fd/0")
	require.NoError(t, err)
	assert.Equal(t, "pipe:[stdin]\n", string(data))

	data, err = fs.ReadFile("/42/fd/1")
	require.NoError(t, err)
	assert.Equal(t, "pipe:[stdout]\n", string(data))
}

func TestReadFdUnknownPidFails(t *testing.T) {
	ps := &fakeProcessService{procs: map[domain.Pid]domain.ProcessIface{}}
	fs := New(ps, &fakeBoxRegistry{}, timer.New())

	_, err := fs.ReadFile("/99/fd/0")
	assert.Error(t, err)
}

func TestReadBoxesListsRegisteredBoxes(t *testing.T) {
	boxes := &fakeBoxRegistry{boxes: []domain.BoxInfo{
		{ID: 1, Name: "akuma-box-1", RootDir: "/boxes/1", PrimaryPid: 10},
	}}
	fs := New(&fakeProcessService{procs: map[domain.Pid]domain.ProcessIface{}}, boxes, timer.New())

	data, err := fs.ReadFile("/boxes")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "akuma-box-1"))
}

func TestListDirRootIncludesProcessesAndSynthFiles(t *testing.T) {
	proc := &fakeProcess{pid: 7, fds: map[int32]*domain.FileDescriptor{}}
	ps := &fakeProcessService{procs: map[domain.Pid]domain.ProcessIface{7: proc}}
	fs := New(ps, &fakeBoxRegistry{}, timer.New())

	names, err := fs.ListDir("/")
	require.NoError(t, err)
	assert.Contains(t, names, "uptime")
	assert.Contains(t, names, "boxes")
	assert.Contains(t, names, "7")
}

func TestWriteIsRejected(t *testing.T) {
	fs := New(&fakeProcessService{procs: map[domain.Pid]domain.ProcessIface{}}, &fakeBoxRegistry{}, timer.New())
	err := fs.WriteFile("/uptime", []byte("x"))
	assert.Error(t, err)
}

func buildMinimalELF(vaddr uint64, code []byte) []byte {
	const ehsize = 64
	const phsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phsize

	buf := make([]byte, dataOff+uint64(len(code)))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	putU16 := func(b []byte, v uint16) {
		b[0], b[1] = byte(v), byte(v>>8)
	}
	putU32 := func(b []byte, v uint32) {
		for i := 0; i < 4; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	putU64 := func(b []byte, v uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}

	putU16(buf[16:18], 2)  // ET_EXEC
	putU16(buf[18:20], 183) // EM_AARCH64
	putU32(buf[20:24], 1)
	putU64(buf[24:32], vaddr+dataOff)
	putU64(buf[32:40], phoff)
	putU64(buf[40:48], 0)
	putU32(buf[48:52], 0)
	putU16(buf[52:54], ehsize)
	putU16(buf[54:56], phsize)
	putU16(buf[56:58], 1)

	ph := buf[phoff : phoff+phsize]
	putU32(ph[0:4], 1) // PT_LOAD
	putU32(ph[4:8], 5) // PF_R|PF_X
	putU64(ph[8:16], dataOff)
	putU64(ph[16:24], vaddr+dataOff)
	putU64(ph[24:32], vaddr+dataOff)
	putU64(ph[32:40], uint64(len(code)))
	putU64(ph[40:48], uint64(len(code)))
	putU64(ph[48:56], 0x1000)

	copy(buf[dataOff:], code)
	return buf
}

// TestReadFdReturnsLiveChannelContent exercises spec.md §8's
// procfs-stdio-visibility scenario against a real process channel rather
// than the descriptive fallback string: a process's accumulated stdout
// must read back byte-for-byte through /proc/<pid>/fd/1.
func TestReadFdReturnsLiveChannelContent(t *testing.T) {
	img := buildMinimalELF(0x400000, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	loader := func(path string) ([]byte, error) { return img, nil }
	mgr := process.NewManager(scheduler.NewPool(), memory.NewAllocator(4*1024*1024), loader)

	_, ch, pid, err := mgr.SpawnProcess("/bin/echo", nil, nil, []byte("test input for echo2\n"), "/", "/", domain.HostBoxID)
	require.NoError(t, err)

	want := "hello (10/10)\nhello: done\n"
	_, err = ch.WriteStdout([]byte(want))
	require.NoError(t, err)

	fs := New(mgr, &fakeBoxRegistry{}, timer.New())

	stdout, err := fs.ReadFile(fmt.Sprintf("/%d/fd/1", pid))
	require.NoError(t, err)
	assert.Equal(t, want, string(stdout))

	stdin, err := fs.ReadFile(fmt.Sprintf("/%d/fd/0", pid))
	require.NoError(t, err)
	assert.Equal(t, "test input for echo2\n", string(stdin))
}
