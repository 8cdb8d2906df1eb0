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
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/box"
	"github.com/netoneko/akuma/internal/fb"
	"github.com/netoneko/akuma/internal/memory"
	"github.com/netoneko/akuma/internal/process"
	"github.com/netoneko/akuma/internal/scheduler"
	"github.com/netoneko/akuma/internal/timer"
	"github.com/netoneko/akuma/internal/vfs"
	"github.com/netoneko/akuma/internal/vfs/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalELF mirrors internal/process's own test helper: a tiny
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

// testKernel bundles a real process manager, scheduler and VFS mount
// table so Dispatcher exercises the genuine AddressSpaceIface/BackendIface
// implementations rather than hand-rolled fakes.
type testKernel struct {
	d     *Dispatcher
	mgr   *process.Manager
	alloc *memory.Allocator
	fs    *memfs.FS
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	img := buildMinimalELF(0x400000, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	loader := func(path string) ([]byte, error) { return img, nil }

	alloc := memory.NewAllocator(4 * 1024 * 1024)
	sched := scheduler.NewPool()
	mgr := process.NewManager(sched, alloc, loader)

	mt := vfs.New()
	fs := memfs.New()
	require.NoError(t, mt.Mount("/", fs))

	registry := box.New()
	registry.Setup(mgr)

	clock := timer.New()

	d := &Dispatcher{
		Processes:  mgr,
		Boxes:      registry,
		Mounts:     mt,
		Clock:      clock,
		Scheduler:  sched,
		Blocking:   sched,
		FB:         fb.New(),
		FrameBytes: alloc.FrameBytes,
	}
	return &testKernel{d: d, mgr: mgr, alloc: alloc, fs: fs}
}

// spawn creates a process and returns its ProcessIface and pid.
func (k *testKernel) spawn(t *testing.T) (domain.ProcessIface, domain.Pid) {
	t.Helper()
	_, _, pid, err := k.mgr.SpawnProcess("/bin/init", []string{"init"}, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)
	proc, ok := k.mgr.Lookup(pid)
	require.True(t, ok)
	return proc, pid
}

// mapUserBuf allocates and maps a single RW page at va in proc's address
// space, standing in for memory a user process would have brk'd or mmap'd.
func mapUserBuf(t *testing.T, proc domain.ProcessIface, va domain.VirtAddr) {
	t.Helper()
	require.NoError(t, proc.AddrSpace().AllocAndMap(va, domain.RW))
}

// writeUserBytes pokes data directly into the physical frame backing va,
// simulating a user-mode write without going through a syscall.
func writeUserBytes(t *testing.T, k *testKernel, proc domain.ProcessIface, va domain.VirtAddr, data []byte) {
	t.Helper()
	pa, ok := proc.AddrSpace().Translate(va)
	require.True(t, ok)
	page, err := k.alloc.FrameBytes(pa)
	require.NoError(t, err)
	copy(page, data)
}

func readUserBytes(t *testing.T, k *testKernel, proc domain.ProcessIface, va domain.VirtAddr, n int) []byte {
	t.Helper()
	pa, ok := proc.AddrSpace().Translate(va)
	require.True(t, ok)
	page, err := k.alloc.FrameBytes(pa)
	require.NoError(t, err)
	out := make([]byte, n)
	copy(out, page[:n])
	return out
}

func frameFor(proc domain.ProcessIface, num Number, args ...uint64) *domain.TrapFrame {
	f := &domain.TrapFrame{}
	f.X[8] = uint64(num)
	for i, a := range args {
		f.X[i] = a
	}
	return f
}

func TestHandleExitMarksProcessExited(t *testing.T) {
	k := newTestKernel(t)
	proc, _ := k.spawn(t)

	frame := frameFor(proc, NrExit, 7)
	k.d.Handle(proc.HostThread(), proc, frame)

	assert.True(t, proc.Exited())
	assert.Equal(t, 7, proc.ExitCode())
}

func TestHandleGetpidReturnsOwnPid(t *testing.T) {
	k := newTestKernel(t)
	proc, pid := k.spawn(t)

	frame := frameFor(proc, NrGetpid)
	k.d.Handle(proc.HostThread(), proc, frame)

	assert.Equal(t, int64(pid), int64(frame.X[0]))
}

func TestHandleBrkGrowsHeapAndIsIdempotentAtZero(t *testing.T) {
	k := newTestKernel(t)
	proc, _ := k.spawn(t)

	cur := frameFor(proc, NrBrk, 0)
	k.d.Handle(proc.HostThread(), proc, cur)
	start := cur.X[0]

	grown := frameFor(proc, NrBrk, start+domain.PageSize)
	k.d.Handle(proc.HostThread(), proc, grown)
	assert.Equal(t, start+domain.PageSize, grown.X[0])
	assert.Equal(t, domain.VirtAddr(start+domain.PageSize), proc.Brk())
}

func TestHandleOpenatWriteReadRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	proc, _ := k.spawn(t)

	pathVA := domain.VirtAddr(0x2000)
	bufVA := domain.VirtAddr(0x3000)
	mapUserBuf(t, proc, pathVA)
	mapUserBuf(t, proc, bufVA)

	path := "/greeting.txt\x00"
	writeUserBytes(t, k, proc, pathVA, []byte(path))

	const oCreat = 0100
	open := frameFor(proc, NrOpenat, 0, uint64(pathVA), oCreat)
	k.d.Handle(proc.HostThread(), proc, open)
	require.GreaterOrEqual(t, int64(open.X[0]), int64(0))
	fd := int32(open.X[0])

	payload := []byte("hello box")
	writeUserBytes(t, k, proc, bufVA, payload)

	write := frameFor(proc, NrWrite, uint64(fd), uint64(bufVA), uint64(len(payload)))
	k.d.Handle(proc.HostThread(), proc, write)
	assert.Equal(t, int64(len(payload)), int64(write.X[0]))

	seek := frameFor(proc, NrLseek, uint64(fd), 0, 0)
	k.d.Handle(proc.HostThread(), proc, seek)
	assert.Equal(t, int64(0), int64(seek.X[0]))

	readBufVA := domain.VirtAddr(0x4000)
	mapUserBuf(t, proc, readBufVA)
	read := frameFor(proc, NrRead, uint64(fd), uint64(readBufVA), uint64(len(payload)))
	k.d.Handle(proc.HostThread(), proc, read)
	assert.Equal(t, int64(len(payload)), int64(read.X[0]))
	assert.Equal(t, payload, readUserBytes(t, k, proc, readBufVA, len(payload)))
}

func TestHandleWait4AfterForkAndExitReportsStatus(t *testing.T) {
	k := newTestKernel(t)
	proc, pid := k.spawn(t)

	child, err := k.mgr.Fork(pid)
	require.NoError(t, err)
	k.mgr.Exit(child, 42)

	statusVA := domain.VirtAddr(0x5000)
	mapUserBuf(t, proc, statusVA)

	wait := frameFor(proc, NrWait4, uint64(child), uint64(statusVA), 0)
	k.d.Handle(proc.HostThread(), proc, wait)
	assert.Equal(t, int64(child), int64(wait.X[0]))

	status := readUserBytes(t, k, proc, statusVA, 4)
	assert.Equal(t, byte(42), status[1])
}

func TestHandleRegisterBoxThenGetCPUStatsRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	proc, pid := k.spawn(t)

	nameVA := domain.VirtAddr(0x2000)
	rootVA := domain.VirtAddr(0x3000)
	mapUserBuf(t, proc, nameVA)
	mapUserBuf(t, proc, rootVA)
	writeUserBytes(t, k, proc, nameVA, []byte("game-room\x00"))
	writeUserBytes(t, k, proc, rootVA, []byte("/boxes/1\x00"))

	reg := frameFor(proc, NrRegisterBox, 1, uint64(nameVA), uint64(rootVA), uint64(pid))
	k.d.Handle(proc.HostThread(), proc, reg)
	assert.Equal(t, int64(0), int64(reg.X[0]))

	info, ok := k.d.Boxes.Lookup(domain.BoxID(1))
	require.True(t, ok)
	assert.Equal(t, "game-room", info.Name)

	statsVA := domain.VirtAddr(0x6000)
	mapUserBuf(t, proc, statsVA)
	stats := frameFor(proc, NrGetCPUStats, uint64(statsVA))
	k.d.Handle(proc.HostThread(), proc, stats)
	assert.Equal(t, int64(0), int64(stats.X[0]))
}

func TestHandleUnsupportedSyscallReturnsNoSys(t *testing.T) {
	k := newTestKernel(t)
	proc, _ := k.spawn(t)

	frame := frameFor(proc, Number(999))
	k.d.Handle(proc.HostThread(), proc, frame)
	assert.Less(t, int64(frame.X[0]), int64(0))
}

func TestHandleReadBadFdReturnsNegativeErrno(t *testing.T) {
	k := newTestKernel(t)
	proc, _ := k.spawn(t)

	frame := frameFor(proc, NrRead, 99, 0, 8)
	k.d.Handle(proc.HostThread(), proc, frame)
	assert.Less(t, int64(frame.X[0]), int64(0))
}
