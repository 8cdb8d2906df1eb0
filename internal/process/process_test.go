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

package process

import (
	"debug/elf"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalELF mirrors internal/elfload's test helper: a tiny
// well-formed ELF64/AArch64 executable with a single PT_LOAD RX segment.
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

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:20], uint16(elf.EM_AARCH64))
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[24:32], vaddr+dataOff)
	le.PutUint64(buf[32:40], phoff)
	le.PutUint64(buf[40:48], 0)
	le.PutUint32(buf[48:52], 0)
	le.PutUint16(buf[52:54], ehsize)
	le.PutUint16(buf[54:56], phsize)
	le.PutUint16(buf[56:58], 1)

	ph := buf[phoff : phoff+phsize]
	le.PutUint32(ph[0:4], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:8], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(ph[8:16], dataOff)
	le.PutUint64(ph[16:24], vaddr+dataOff)
	le.PutUint64(ph[24:32], vaddr+dataOff)
	le.PutUint64(ph[32:40], uint64(len(code)))
	le.PutUint64(ph[40:48], uint64(len(code)))
	le.PutUint64(ph[48:56], 0x1000)

	copy(buf[dataOff:], code)
	return buf
}

type fakeScheduler struct {
	mu      sync.Mutex
	nextTid domain.ThreadID
	ttbr0   map[domain.ThreadID]domain.PhysAddr
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{ttbr0: map[domain.ThreadID]domain.PhysAddr{}}
}

func (s *fakeScheduler) spawn(fn func()) (domain.ThreadID, error) {
	s.mu.Lock()
	tid := s.nextTid
	s.nextTid++
	s.mu.Unlock()
	go fn()
	return tid, nil
}

func (s *fakeScheduler) SpawnKernel(fn func()) (domain.ThreadID, error)   { return s.spawn(fn) }
func (s *fakeScheduler) SpawnSystem(fn func()) (domain.ThreadID, error)   { return s.spawn(fn) }
func (s *fakeScheduler) SpawnUserHost(fn func()) (domain.ThreadID, error) { return s.spawn(fn) }
func (s *fakeScheduler) Current() domain.ThreadID                        { return 0 }
func (s *fakeScheduler) YieldNow()                                       {}
func (s *fakeScheduler) ScheduleBlocking(deadline time.Time) bool        { return false }
func (s *fakeScheduler) GetWakerForThread(tid domain.ThreadID) domain.Waker { return nil }
func (s *fakeScheduler) OnTimerTick()                                    {}
func (s *fakeScheduler) Sweep()                                          {}
func (s *fakeScheduler) ThreadCount() int                                { return 0 }
func (s *fakeScheduler) ThreadStats() domain.ThreadStats                 { return domain.ThreadStats{} }
func (s *fakeScheduler) SetTTBR0(tid domain.ThreadID, table domain.PhysAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttbr0[tid] = table
}

var _ domain.SchedulerIface = (*fakeScheduler)(nil)

func newTestManager() (*Manager, []byte) {
	img := buildMinimalELF(0x400000, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	loader := func(path string) ([]byte, error) { return img, nil }
	alloc := memory.NewAllocator(4 * 1024 * 1024)
	return NewManager(newFakeScheduler(), alloc, loader), img
}

func TestSpawnProcessAssignsPidAndStdioFds(t *testing.T) {
	m, _ := newTestManager()
	_, ch, pid, err := m.SpawnProcess("/bin/init", []string{"init"}, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	assert.Equal(t, domain.Pid(1), pid)
	require.NotNil(t, ch)

	p, ok := m.Lookup(pid)
	require.True(t, ok)
	fds := p.Fds()
	assert.Equal(t, domain.FDStdin, fds[0].Kind)
	assert.Equal(t, domain.FDStdout, fds[1].Kind)
}

func TestExitThenWait4ReturnsExitCode(t *testing.T) {
	m, _ := newTestManager()
	_, _, parent, err := m.SpawnProcess("/bin/sh", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	child, err := m.Fork(parent)
	require.NoError(t, err)

	m.Exit(child, 42)

	gotPid, code, err := m.Wait4(parent, 0, true)
	require.NoError(t, err)
	assert.Equal(t, child, gotPid)
	assert.Equal(t, 42, code)
}

func TestWait4NoHangReturnsZeroWhenNoExitedChild(t *testing.T) {
	m, _ := newTestManager()
	_, _, parent, err := m.SpawnProcess("/bin/sh", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	_, err = m.Fork(parent)
	require.NoError(t, err)

	pid, _, err := m.Wait4(parent, 0, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Pid(0), pid)
}

func TestForkDeepCopiesAddressSpace(t *testing.T) {
	m, _ := newTestManager()
	_, _, parent, err := m.SpawnProcess("/bin/sh", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	child, err := m.Fork(parent)
	require.NoError(t, err)

	pProc, _ := m.Lookup(parent)
	cProc, _ := m.Lookup(child)
	assert.NotEqual(t, pProc.AddrSpace().TTBR0(), cProc.AddrSpace().TTBR0())
}

func TestKillMarksProcessExited(t *testing.T) {
	m, _ := newTestManager()
	_, _, pid, err := m.SpawnProcess("/bin/sh", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)

	require.NoError(t, m.Kill(pid))
	p, _ := m.Lookup(pid)
	assert.True(t, p.Exited())
}

func TestExecveReplacesAddressSpaceKeepsPid(t *testing.T) {
	m, _ := newTestManager()
	_, _, pid, err := m.SpawnProcess("/bin/sh", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	p, _ := m.Lookup(pid)
	oldTTBR0 := p.AddrSpace().TTBR0()

	require.NoError(t, m.Execve(pid, "/bin/other", []string{"other"}))
	p, _ = m.Lookup(pid)
	assert.Equal(t, pid, p.Pid())
	assert.NotEqual(t, oldTTBR0, p.AddrSpace().TTBR0())
}

func readProcessInfoPage(t *testing.T, m *Manager, p domain.ProcessIface) []byte {
	pa, ok := p.AddrSpace().Translate(domain.ProcessInfoAddr)
	require.True(t, ok)
	buf, err := m.alloc.FrameBytes(pa - (pa % domain.PageSize))
	require.NoError(t, err)
	return buf[:domain.ProcessInfoSize]
}

func TestSpawnProcessEncodesProcessInfoFixedBinaryLayout(t *testing.T) {
	m, _ := newTestManager()
	_, _, pid, err := m.SpawnProcess("/bin/init", []string{"a", "bb"}, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	p, _ := m.Lookup(pid)

	buf := readProcessInfoPage(t, m, p)
	require.Len(t, buf, domain.ProcessInfoSize)

	assert.Equal(t, uint32(pid), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[4:8]), "top-level spawn has no parent")
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[8:12]))

	argvLen := binary.LittleEndian.Uint32(buf[12:16])
	assert.Equal(t, "a\x00bb", string(buf[16:16+argvLen]))
}

func TestForkRewritesChildProcessInfoIdentity(t *testing.T) {
	m, _ := newTestManager()
	_, _, parentPid, err := m.SpawnProcess("/bin/sh", []string{"sh"}, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	childPid, err := m.Fork(parentPid)
	require.NoError(t, err)

	parent, _ := m.Lookup(parentPid)
	child, _ := m.Lookup(childPid)

	parentBuf := readProcessInfoPage(t, m, parent)
	childBuf := readProcessInfoPage(t, m, child)

	assert.Equal(t, uint32(childPid), binary.LittleEndian.Uint32(childBuf[0:4]))
	assert.Equal(t, uint32(parentPid), binary.LittleEndian.Uint32(childBuf[4:8]))
	assert.NotEqual(t, binary.LittleEndian.Uint32(parentBuf[0:4]), binary.LittleEndian.Uint32(childBuf[0:4]))

	// argc/argv are inherited unchanged from the parent's own page.
	assert.Equal(t, parentBuf[8:12], childBuf[8:12])
	argvLen := binary.LittleEndian.Uint32(childBuf[12:16])
	assert.Equal(t, "sh", string(childBuf[16:16+argvLen]))
}
