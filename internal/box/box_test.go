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

package box

import (
	"testing"

	"github.com/netoneko/akuma/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	termios *domain.Termios
	killed  bool
}

func (c *fakeChannel) WriteStdin(p []byte) (int, error)        { return 0, nil }
func (c *fakeChannel) ReadStdin(p []byte) (int, error, bool)   { return 0, nil, true }
func (c *fakeChannel) CloseStdin()                             {}
func (c *fakeChannel) IsStdinClosed() bool                     { return false }
func (c *fakeChannel) HasStdinData() bool                      { return false }
func (c *fakeChannel) WriteStdout(p []byte) (int, error)       { return 0, nil }
func (c *fakeChannel) ReadStdout(p []byte) (int, bool)         { return 0, false }
func (c *fakeChannel) PeekStdin() []byte                       { return nil }
func (c *fakeChannel) PeekStdout() []byte                      { return nil }
func (c *fakeChannel) SetRawMode(bool)                         {}
func (c *fakeChannel) RawMode() bool                           { return false }
func (c *fakeChannel) Termios() *domain.Termios                { return c.termios }
func (c *fakeChannel) SetTermios(t *domain.Termios)            { c.termios = t }
func (c *fakeChannel) HasExited() bool                         { return false }
func (c *fakeChannel) ExitCode() (int, bool)                   { return 0, false }
func (c *fakeChannel) SignalExit(code int)                     {}
func (c *fakeChannel) RegisterStdinWaker(w domain.Waker)       {}
func (c *fakeChannel) RegisterStdoutWaker(w domain.Waker)      {}

type fakeProcess struct {
	pid domain.Pid
	box domain.BoxID
	ch  *fakeChannel
}

func (p *fakeProcess) Pid() domain.Pid                        { return p.pid }
func (p *fakeProcess) Ppid() domain.Pid                       { return 0 }
func (p *fakeProcess) Box() domain.BoxID                      { return p.box }
func (p *fakeProcess) Cwd() string                            { return "/" }
func (p *fakeProcess) Root() string                           { return "/" }
func (p *fakeProcess) SetCwd(string)                          {}
func (p *fakeProcess) AddrSpace() domain.AddressSpaceIface    { return nil }
func (p *fakeProcess) HostThread() domain.ThreadID            { return 0 }
func (p *fakeProcess) Fds() map[int32]*domain.FileDescriptor  { return nil }
func (p *fakeProcess) AllocFd(domain.FileDescriptor) int32    { return 0 }
func (p *fakeProcess) CloseFd(int32) error                    { return nil }
func (p *fakeProcess) Brk() domain.VirtAddr                   { return 0 }
func (p *fakeProcess) SetBrk(domain.VirtAddr)                 {}
func (p *fakeProcess) Interrupted() bool                      { return false }
func (p *fakeProcess) Interrupt()                             {}
func (p *fakeProcess) Exited() bool                            { return false }
func (p *fakeProcess) ExitCode() int                           { return 0 }
func (p *fakeProcess) Exit(int)                                {}
func (p *fakeProcess) Channel() domain.ProcessChannelIface     { return p.ch }

type fakeProcessService struct {
	procs   map[domain.Pid]*fakeProcess
	killed  map[domain.Pid]bool
}

func newFakeProcessService() *fakeProcessService {
	return &fakeProcessService{procs: map[domain.Pid]*fakeProcess{}, killed: map[domain.Pid]bool{}}
}

func (s *fakeProcessService) SpawnProcess(path string, argv, env []string, stdin []byte, cwd, rootDir string, box domain.BoxID) (domain.ThreadID, domain.ProcessChannelIface, domain.Pid, error) {
	return 0, nil, 0, nil
}
func (s *fakeProcessService) Fork(parent domain.Pid) (domain.Pid, error)            { return 0, nil }
func (s *fakeProcessService) Execve(pid domain.Pid, path string, argv []string) error { return nil }
func (s *fakeProcessService) Lookup(pid domain.Pid) (domain.ProcessIface, bool) {
	p, ok := s.procs[pid]
	if !ok {
		return nil, false
	}
	return p, true
}
func (s *fakeProcessService) All() []domain.ProcessIface {
	var out []domain.ProcessIface
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}
func (s *fakeProcessService) InBox(box domain.BoxID) []domain.ProcessIface {
	var out []domain.ProcessIface
	for _, p := range s.procs {
		if p.box == box {
			out = append(out, p)
		}
	}
	return out
}
func (s *fakeProcessService) Wait4(parent, child domain.Pid, nohang bool) (domain.Pid, int, error) {
	return 0, 0, nil
}
func (s *fakeProcessService) Kill(pid domain.Pid) error {
	s.killed[pid] = true
	return nil
}
func (s *fakeProcessService) Exit(pid domain.Pid, code int) {}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, "akuma-box-1", "/boxes/1", 10))

	info, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "akuma-box-1", info.Name)
	assert.Equal(t, domain.Pid(10), info.PrimaryPid)
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, "a", "/a", 1))
	assert.Error(t, r.Register(1, "b", "/b", 2))
}

func TestKillRemovesBoxAndKillsMembers(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, "box1", "/boxes/1", 10))

	ps := newFakeProcessService()
	ps.procs[10] = &fakeProcess{pid: 10, box: 1}
	ps.procs[11] = &fakeProcess{pid: 11, box: 1}
	ps.procs[12] = &fakeProcess{pid: 12, box: 2}

	require.NoError(t, r.Kill(1, ps))

	_, ok := r.Lookup(1)
	assert.False(t, ok)
	assert.True(t, ps.killed[10])
	assert.True(t, ps.killed[11])
	assert.False(t, ps.killed[12])
}

func TestReattachUpdatesTermios(t *testing.T) {
	r := New()
	ps := newFakeProcessService()
	ch := &fakeChannel{}
	ps.procs[10] = &fakeProcess{pid: 10, box: 1, ch: ch}
	r.Setup(ps)

	newTermios := &domain.Termios{WinRows: 40, WinCols: 120}
	require.NoError(t, r.Reattach(10, newTermios))
	assert.Equal(t, uint16(40), ch.termios.WinRows)
}

func TestReattachUnknownPidFails(t *testing.T) {
	r := New()
	r.Setup(newFakeProcessService())
	assert.Error(t, r.Reattach(99, &domain.Termios{}))
}
