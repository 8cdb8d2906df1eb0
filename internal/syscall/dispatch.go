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
// Package syscall implements C7: the Linux-AArch64-compatible syscall
// ABI, user-pointer validation, and per-syscall handlers that delegate
// to the process manager, VFS mount table, box registry and timer
// (spec.md §4.7). Everything here runs at EL1 with IRQs conceptually
// re-enabled; the blocking handlers use internal/async.Await to park on
// the scheduler without losing a wakeup.
package syscall

import (
	"crypto/rand"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/async"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/fb"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("syscall")

const maxPathLen = 4096
const maxIOLen = 1 << 20

// Dispatcher wires C7 to its collaborators. Bypass permits the kernel to
// invoke handlers directly during self-tests, bypassing user-pointer
// validation (spec.md §4.7's debug-only flag).
type Dispatcher struct {
	Processes  domain.ProcessServiceIface
	Boxes      domain.BoxRegistryIface
	Mounts     domain.MountTableIface
	Clock      domain.TimerIface
	Scheduler  domain.SchedulerIface
	Blocking   async.Scheduler
	FB         *fb.Device
	FrameBytes frameBytesFn
	Bypass     bool
}

// Handle services one SVC trap: it decodes the syscall number and
// arguments out of frame, probes the interrupted flag, dispatches, and
// writes the return value (or negative errno) back into x0.
func (d *Dispatcher) Handle(tid domain.ThreadID, proc domain.ProcessIface, frame *domain.TrapFrame) {
	if proc.Interrupted() {
		frame.SetReturn(errno.ToErrno(errno.ErrInterrupted))
		proc.Exit(130)
		return
	}

	num := Number(frame.SyscallNum())
	ret, err := d.dispatch(tid, proc, frame, num)
	if err != nil {
		frame.SetReturn(errno.ToErrno(err))
		return
	}
	frame.SetReturn(ret)
}

func (d *Dispatcher) dispatch(tid domain.ThreadID, proc domain.ProcessIface, frame *domain.TrapFrame, num Number) (int64, error) {
	switch num {
	case NrExit, NrExitGroup:
		return d.sysExit(proc, frame)
	case NrRead:
		return d.sysRead(tid, proc, frame)
	case NrWrite, NrWritev:
		return d.sysWrite(proc, frame)
	case NrBrk:
		return d.sysBrk(proc, frame)
	case NrOpenat:
		return d.sysOpenat(proc, frame)
	case NrClose:
		return d.sysClose(proc, frame)
	case NrLseek:
		return d.sysLseek(proc, frame)
	case NrFstat, NrNewfstatat:
		return d.sysFstat(proc, frame, num)
	case NrFaccessat:
		return d.sysFaccessat(proc, frame)
	case NrNanosleep:
		return d.sysNanosleep(tid, proc, frame)
	case NrPpoll:
		return d.sysPpoll(tid, proc, frame)
	case NrMkdirat:
		return d.sysMkdirat(proc, frame)
	case NrUnlinkat:
		return d.sysUnlinkat(proc, frame)
	case NrRenameat:
		return d.sysRenameat(proc, frame)
	case NrClone:
		return d.sysClone(proc, frame)
	case NrExecve:
		return d.sysExecve(proc, frame)
	case NrMmap:
		return d.sysMmap(proc, frame)
	case NrMunmap:
		return 0, nil
	case NrGetdents64:
		return d.sysGetdents64(proc, frame)
	case NrGetrandom:
		return d.sysGetrandom(proc, frame)
	case NrClockGettime:
		return d.sysClockGettime(proc, frame)
	case NrWait4, NrWaitpid:
		return d.sysWait4(proc, frame)
	case NrGetpid:
		return int64(proc.Pid()), nil
	case NrGetppid:
		return int64(proc.Ppid()), nil
	case NrGetuid, NrGeteuid, NrGetgid, NrGetegid:
		return 0, nil
	case NrGettid:
		return int64(proc.Pid()), nil
	case NrRtSigaction, NrRtSigprocmask:
		return 0, nil
	case NrSetpgid, NrGetpgid, NrSetsid:
		return 0, nil
	case NrChdir:
		return d.sysChdir(proc, frame)
	case NrGetcwd:
		return d.sysGetcwd(proc, frame)
	case NrFcntl:
		return 0, nil
	case NrSetTidAddress:
		return int64(proc.Pid()), nil
	case NrResolveHost:
		return 0, errno.ErrNoSys
	case NrSpawn, NrSpawnExt:
		return d.sysSpawn(proc, frame)
	case NrKill:
		return d.sysKill(frame)
	case NrKillBox:
		return d.sysKillBox(frame)
	case NrReattach:
		return d.sysReattach(proc, frame)
	case NrTime:
		return int64(d.Clock.UTCTimeUs()), nil
	case NrUptime:
		return int64(d.Clock.UptimeUs()), nil
	case NrSetTpidrEl0:
		return 0, nil
	case NrFbInit:
		return d.sysFbInit(frame)
	case NrFbDraw:
		return d.sysFbDraw(proc, frame)
	case NrFbInfo:
		return d.sysFbInfo()
	case NrTermiosGet, NrTermiosSet:
		return d.sysTermios(proc, frame, num)
	case NrGetCPUStats:
		return d.sysGetCPUStats(proc, frame)
	case NrRegisterBox:
		return d.sysRegisterBox(proc, frame)
	default:
		log.WithField("num", int64(num)).Warn("unsupported syscall")
		return 0, errno.ErrNoSys
	}
}

func (d *Dispatcher) resolve(proc domain.ProcessIface, p string) (domain.BackendIface, string, error) {
	return d.Mounts.Resolve(proc.Cwd(), p, proc.Box(), proc.Root())
}

func (d *Dispatcher) readUserStr(proc domain.ProcessIface, va uint64, maxLen int) (string, error) {
	return copyFromUserStr(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(va), maxLen, d.Bypass)
}

// sysExit terminates the calling process with the low 8 bits of the exit
// code argument, matching Linux's own truncation.
func (d *Dispatcher) sysExit(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	code := int(int32(frame.Arg(0))) & 0xFF
	proc.Exit(code)
	return 0, nil
}

func (d *Dispatcher) sysRead(tid domain.ThreadID, proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	fdNum := int32(frame.Arg(0))
	bufVA := frame.Arg(1)
	count := frame.Arg(2)
	if count > maxIOLen {
		count = maxIOLen
	}

	fdVal, ok := proc.Fds()[fdNum]
	if !ok {
		return 0, errno.ErrBadFd
	}

	switch fdVal.Kind {
	case domain.FDStdin:
		return d.readStdin(tid, proc, bufVA, count)
	case domain.FDChildStdout:
		return d.readChildStdout(proc, fdVal, bufVA, count)
	case domain.FDFile:
		return d.readFile(proc, fdVal, bufVA, count)
	default:
		return 0, errno.ErrBadFd
	}
}

func (d *Dispatcher) readStdin(tid domain.ThreadID, proc domain.ProcessIface, bufVA, count uint64) (int64, error) {
	ch := proc.Channel()
	buf := make([]byte, count)
	var n int
	var wouldBlock bool

	read := func() bool {
		var rErr error
		n, rErr, wouldBlock = ch.ReadStdin(buf)
		_ = rErr
		return !wouldBlock || ch.IsStdinClosed()
	}

	if !read() {
		err := async.Await(d.Blocking, tid, read, ch.RegisterStdinWaker, time.Time{})
		if err != nil {
			return 0, err
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), buf[:n], d.Bypass); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (d *Dispatcher) readChildStdout(proc domain.ProcessIface, fdVal *domain.FileDescriptor, bufVA, count uint64) (int64, error) {
	child, ok := d.Processes.Lookup(fdVal.ChildPid)
	if !ok {
		return 0, errno.ErrBadFd
	}
	buf := make([]byte, count)
	n, _ := child.Channel().ReadStdout(buf)
	if n == 0 {
		return 0, nil
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), buf[:n], d.Bypass); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (d *Dispatcher) readFile(proc domain.ProcessIface, fdVal *domain.FileDescriptor, bufVA, count uint64) (int64, error) {
	backend, rel, err := d.resolve(proc, fdVal.Path)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, err := backend.ReadAt(rel, fdVal.Position, buf)
	if err != nil {
		return 0, err
	}
	fdVal.Position += int64(n)
	if n == 0 {
		return 0, nil
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), buf[:n], d.Bypass); err != nil {
		return 0, err
	}
	return int64(n), nil
}

func (d *Dispatcher) sysWrite(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	fdNum := int32(frame.Arg(0))
	bufVA := frame.Arg(1)
	count := frame.Arg(2)
	if count > maxIOLen {
		count = maxIOLen
	}

	fdVal, ok := proc.Fds()[fdNum]
	if !ok {
		return 0, errno.ErrBadFd
	}

	data, err := copyFromUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), count, d.Bypass)
	if err != nil {
		return 0, err
	}

	switch fdVal.Kind {
	case domain.FDStdout, domain.FDStderr:
		n, err := proc.Channel().WriteStdout(data)
		return int64(n), err
	case domain.FDFile:
		backend, rel, err := d.resolve(proc, fdVal.Path)
		if err != nil {
			return 0, err
		}
		n, err := backend.WriteAt(rel, fdVal.Position, data)
		if err != nil {
			return 0, err
		}
		fdVal.Position += int64(n)
		return int64(n), nil
	default:
		return 0, errno.ErrBadFd
	}
}

func (d *Dispatcher) sysBrk(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	req := domain.VirtAddr(frame.Arg(0))
	if req == 0 {
		return int64(proc.Brk()), nil
	}
	as := proc.AddrSpace()
	cur := proc.Brk()
	for va := cur; va < req; va += domain.PageSize {
		if err := as.AllocAndMap(va, domain.RW); err != nil {
			return int64(proc.Brk()), err
		}
	}
	proc.SetBrk(req)
	return int64(req), nil
}

func (d *Dispatcher) sysOpenat(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	pathVA := frame.Arg(1)
	flags := int32(frame.Arg(2))

	p, err := d.readUserStr(proc, pathVA, maxPathLen)
	if err != nil {
		return 0, err
	}

	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	if !backend.Exists(rel) {
		const oCreat = 0100
		if flags&oCreat == 0 {
			return 0, errno.ErrNoEnt
		}
		if err := backend.WriteFile(rel, nil); err != nil {
			return 0, err
		}
	}

	fdNum := proc.AllocFd(domain.FileDescriptor{Kind: domain.FDFile, Path: p, Flags: flags})
	return int64(fdNum), nil
}

func (d *Dispatcher) sysClose(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	fdNum := int32(frame.Arg(0))
	if err := proc.CloseFd(fdNum); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) sysLseek(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	fdNum := int32(frame.Arg(0))
	offset := int64(frame.Arg(1))
	whence := int32(frame.Arg(2))

	fdVal, ok := proc.Fds()[fdNum]
	if !ok || fdVal.Kind != domain.FDFile {
		return 0, errno.ErrBadFd
	}

	backend, rel, err := d.resolve(proc, fdVal.Path)
	if err != nil {
		return 0, err
	}

	const (
		seekSet = 0
		seekCur = 1
		seekEnd = 2
	)
	switch whence {
	case seekSet:
		fdVal.Position = offset
	case seekCur:
		fdVal.Position += offset
	case seekEnd:
		size, err := backend.FileSize(rel)
		if err != nil {
			return 0, err
		}
		fdVal.Position = size + offset
	default:
		return 0, errno.ErrInvalid
	}
	if fdVal.Position < 0 {
		fdVal.Position = 0
	}
	return fdVal.Position, nil
}

// statBuf is a minimal stat layout: the handful of fields a process in
// this kernel actually consumes (size, directory bit, mtime seconds),
// not a byte-compatible struct stat.
const statBufSize = 64

func encodeStat(meta domain.Metadata) []byte {
	buf := make([]byte, statBufSize)
	mode := uint64(0o644)
	if meta.IsDir {
		mode = 0o755 | 1<<31
	}
	putU64(buf[0:8], uint64(meta.Size))
	putU64(buf[8:16], mode)
	putU64(buf[16:24], uint64(meta.ModTime.Unix()))
	return buf
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (d *Dispatcher) sysFstat(proc domain.ProcessIface, frame *domain.TrapFrame, num Number) (int64, error) {
	var p string
	var err error
	var bufVA uint64

	if num == NrFstat {
		fdNum := int32(frame.Arg(0))
		fdVal, ok := proc.Fds()[fdNum]
		if !ok {
			return 0, errno.ErrBadFd
		}
		p = fdVal.Path
		bufVA = frame.Arg(1)
	} else {
		p, err = d.readUserStr(proc, frame.Arg(1), maxPathLen)
		if err != nil {
			return 0, err
		}
		bufVA = frame.Arg(2)
	}

	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	meta, err := backend.Metadata(rel)
	if err != nil {
		return 0, err
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), encodeStat(meta), d.Bypass); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) sysFaccessat(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(1), maxPathLen)
	if err != nil {
		return 0, err
	}
	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	if !backend.Exists(rel) {
		return 0, errno.ErrNoEnt
	}
	return 0, nil
}

// sysNanosleep blocks the calling thread until the requested duration
// elapses, following spec.md §4.7's register-then-check blocking
// pattern via a deadline-only Await (no waker ever fires; the deadline
// itself is the wake condition).
func (d *Dispatcher) sysNanosleep(tid domain.ThreadID, proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	reqVA := frame.Arg(0)
	req, err := copyFromUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(reqVA), 16, d.Bypass)
	if err != nil {
		return 0, err
	}
	sec := int64(leU64(req[0:8]))
	nsec := int64(leU64(req[8:16]))
	deadline := time.Now().Add(time.Duration(sec)*time.Second + time.Duration(nsec))

	err = async.Await(d.Blocking, tid, func() bool { return time.Now().After(deadline) }, func(domain.Waker) {}, deadline)
	if err != nil {
		return 0, err
	}
	return 0, nil
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// sysPpoll implements a single-stdin-fd poll: block until stdin has
// data, EOF, or the timeout elapses.
func (d *Dispatcher) sysPpoll(tid domain.ThreadID, proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	timeoutVA := frame.Arg(2)
	var deadline time.Time
	if timeoutVA != 0 {
		req, err := copyFromUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(timeoutVA), 16, d.Bypass)
		if err != nil {
			return 0, err
		}
		sec := int64(leU64(req[0:8]))
		nsec := int64(leU64(req[8:16]))
		deadline = time.Now().Add(time.Duration(sec)*time.Second + time.Duration(nsec))
	}

	ch := proc.Channel()
	ready := func() bool { return ch.HasStdinData() || ch.IsStdinClosed() }
	if ready() {
		return 1, nil
	}
	if err := async.Await(d.Blocking, tid, ready, ch.RegisterStdinWaker, deadline); err != nil {
		return 0, nil
	}
	return 1, nil
}

func (d *Dispatcher) sysMkdirat(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(1), maxPathLen)
	if err != nil {
		return 0, err
	}
	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	return 0, backend.CreateDir(rel)
}

func (d *Dispatcher) sysUnlinkat(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(1), maxPathLen)
	if err != nil {
		return 0, err
	}
	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	return 0, backend.RemoveFile(rel)
}

func (d *Dispatcher) sysRenameat(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	oldPath, err := d.readUserStr(proc, frame.Arg(1), maxPathLen)
	if err != nil {
		return 0, err
	}
	newPath, err := d.readUserStr(proc, frame.Arg(3), maxPathLen)
	if err != nil {
		return 0, err
	}
	backend, oldRel, err := d.resolve(proc, oldPath)
	if err != nil {
		return 0, err
	}
	_, newRel, err := d.resolve(proc, newPath)
	if err != nil {
		return 0, err
	}
	return 0, backend.Rename(oldRel, newRel)
}

// cloneVfork is Linux's CLONE_VFORK flag bit, carried by glibc's vfork()
// on arm64 as a raw clone(flags=0x4111) call (spec.md §8 scenario 5).
// This kernel has no shared-address-space vfork: it forks a full child
// the same as any other clone and hands the parent back a fixed
// sentinel instead of the child's real pid, the value a
// Linux-ABI-bridging caller is documented to see in that case.
const cloneVfork = 0x4000
const vforkSentinel = 0x7FFFFFFF

func (d *Dispatcher) sysClone(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	flags := frame.Arg(0)
	child, err := d.Processes.Fork(proc.Pid())
	if err != nil {
		return 0, err
	}
	if flags&cloneVfork != 0 {
		return vforkSentinel, nil
	}
	return int64(child), nil
}

func (d *Dispatcher) sysExecve(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(0), maxPathLen)
	if err != nil {
		return 0, err
	}
	argv, err := d.readArgv(proc, frame.Arg(1))
	if err != nil {
		return 0, err
	}
	if err := d.Processes.Execve(proc.Pid(), p, argv); err != nil {
		return 0, err
	}
	return 0, nil
}

// readArgv walks a NUL-terminated, 8-byte-aligned argv vector of user
// pointers and reads each string out.
func (d *Dispatcher) readArgv(proc domain.ProcessIface, argvVA uint64) ([]string, error) {
	var out []string
	const maxArgs = 64
	for i := 0; i < maxArgs; i++ {
		ptrBytes, err := copyFromUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(argvVA+uint64(i)*8), 8, d.Bypass)
		if err != nil {
			return nil, err
		}
		ptr := leU64(ptrBytes)
		if ptr == 0 {
			break
		}
		s, err := d.readUserStr(proc, ptr, maxPathLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// sysMmap supports only a caller-supplied fixed address hint: with no
// demand paging (spec.md §1 Non-goals) there is no free-region allocator
// to satisfy an addr=0 "let the kernel choose" request.
func (d *Dispatcher) sysMmap(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	addr := domain.VirtAddr(frame.Arg(0))
	length := frame.Arg(1)
	if addr == 0 || length == 0 {
		return 0, errno.ErrInvalid
	}
	as := proc.AddrSpace()
	pages := (length + domain.PageSize - 1) / domain.PageSize
	for i := uint64(0); i < pages; i++ {
		if err := as.AllocAndMap(addr+domain.VirtAddr(i*domain.PageSize), domain.RW); err != nil {
			return 0, err
		}
	}
	return int64(addr), nil
}

func (d *Dispatcher) sysGetdents64(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	fdNum := int32(frame.Arg(0))
	fdVal, ok := proc.Fds()[fdNum]
	if !ok {
		return 0, errno.ErrBadFd
	}
	backend, rel, err := d.resolve(proc, fdVal.Path)
	if err != nil {
		return 0, err
	}
	names, err := backend.ListDir(rel)
	if err != nil {
		return 0, err
	}

	// Simplified dirent encoding: 8-byte ino (always zero, this kernel has
	// no inode numbers), 2-byte reclen, 1-byte type, NUL-terminated name.
	// Not byte-compatible with Linux's getdents64 ABI.
	var out []byte
	for _, name := range names {
		reclen := 11 + len(name) + 1
		entry := make([]byte, reclen)
		entry[8] = byte(reclen)
		entry[9] = byte(reclen >> 8)
		copy(entry[11:], name)
		out = append(out, entry...)
	}
	bufVA := frame.Arg(1)
	count := frame.Arg(2)
	if uint64(len(out)) > count {
		out = out[:count]
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), out, d.Bypass); err != nil {
		return 0, err
	}
	return int64(len(out)), nil
}

func (d *Dispatcher) sysGetrandom(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	bufVA := frame.Arg(0)
	count := frame.Arg(1)
	if count > maxIOLen {
		count = maxIOLen
	}
	buf := make([]byte, count)
	if _, err := rand.Read(buf); err != nil {
		return 0, errno.ErrNoSys
	}
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), buf, d.Bypass); err != nil {
		return 0, err
	}
	return int64(count), nil
}

func (d *Dispatcher) sysClockGettime(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	bufVA := frame.Arg(1)
	us := d.Clock.UptimeUs()
	buf := make([]byte, 16)
	putU64(buf[0:8], us/1_000_000)
	putU64(buf[8:16], (us%1_000_000)*1000)
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), buf, d.Bypass); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) sysWait4(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	child := domain.Pid(frame.Arg(0))
	statusVA := frame.Arg(1)
	nohang := frame.Arg(2)&1 != 0

	pid, code, err := d.Processes.Wait4(proc.Pid(), child, nohang)
	if err != nil {
		return 0, err
	}
	if pid != 0 && statusVA != 0 {
		status := uint32(code&0xFF) << 8
		buf := []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
		if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(statusVA), buf, d.Bypass); err != nil {
			return 0, err
		}
	}
	return int64(pid), nil
}

func (d *Dispatcher) sysChdir(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(0), maxPathLen)
	if err != nil {
		return 0, err
	}
	backend, rel, err := d.resolve(proc, p)
	if err != nil {
		return 0, err
	}
	meta, err := backend.Metadata(rel)
	if err != nil {
		return 0, err
	}
	if !meta.IsDir {
		return 0, errno.ErrInvalid
	}
	proc.SetCwd(p)
	return 0, nil
}

func (d *Dispatcher) sysGetcwd(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	cwd := proc.Cwd()
	bufVA := frame.Arg(0)
	size := frame.Arg(1)
	if uint64(len(cwd)+1) > size {
		return 0, errno.ErrRange
	}
	data := append([]byte(cwd), 0)
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(bufVA), data, d.Bypass); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (d *Dispatcher) sysSpawn(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	p, err := d.readUserStr(proc, frame.Arg(0), maxPathLen)
	if err != nil {
		return 0, err
	}
	argv, err := d.readArgv(proc, frame.Arg(1))
	if err != nil {
		return 0, err
	}
	_, _, pid, err := d.Processes.SpawnProcess(p, argv, nil, nil, proc.Cwd(), proc.Root(), proc.Box())
	if err != nil {
		return 0, err
	}
	// The caller gets the child's pid back; reading its stdout happens
	// through a separate fd opened with Kind: FDChildStdout (wired by
	// whatever higher-level shell/spawn wrapper owns the fd table slot).
	return int64(pid), nil
}

func (d *Dispatcher) sysKill(frame *domain.TrapFrame) (int64, error) {
	target := domain.Pid(frame.Arg(0))
	return 0, d.Processes.Kill(target)
}

func (d *Dispatcher) sysKillBox(frame *domain.TrapFrame) (int64, error) {
	box := domain.BoxID(frame.Arg(0))
	return 0, d.Boxes.Kill(box, d.Processes)
}

func (d *Dispatcher) sysReattach(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	target := domain.Pid(frame.Arg(0))
	t := proc.Channel().Termios()
	return 0, d.Boxes.Reattach(target, t)
}

func (d *Dispatcher) sysFbInit(frame *domain.TrapFrame) (int64, error) {
	w := int(frame.Arg(0))
	h := int(frame.Arg(1))
	return 0, d.FB.Init(w, h)
}

func (d *Dispatcher) sysFbDraw(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	x, y, w, h := int(frame.Arg(0)), int(frame.Arg(1)), int(frame.Arg(2)), int(frame.Arg(3))
	pixelsVA := frame.Arg(4)
	pixels, err := copyFromUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(pixelsVA), uint64(w*h*4), d.Bypass)
	if err != nil {
		return 0, err
	}
	return 0, d.FB.Draw(x, y, w, h, pixels)
}

func (d *Dispatcher) sysFbInfo() (int64, error) {
	w, h, ready := d.FB.Info()
	if !ready {
		return 0, errno.ErrInvalid
	}
	return int64(w)<<32 | int64(h), nil
}

func (d *Dispatcher) sysTermios(proc domain.ProcessIface, frame *domain.TrapFrame, num Number) (int64, error) {
	if num == NrTermiosGet {
		t := proc.Channel().Termios()
		return int64(t.WinRows)<<16 | int64(t.WinCols), nil
	}
	rows := uint16(frame.Arg(0) >> 16)
	cols := uint16(frame.Arg(0))
	t := proc.Channel().Termios()
	t.WinRows, t.WinCols = rows, cols
	proc.Channel().SetTermios(t)
	return 0, nil
}

func (d *Dispatcher) sysGetCPUStats(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	stats := d.Scheduler.ThreadStats()
	buf := make([]byte, 48)
	putU64(buf[0:8], uint64(stats.Total))
	putU64(buf[8:16], uint64(stats.Running))
	putU64(buf[16:24], uint64(stats.Ready))
	putU64(buf[24:32], uint64(stats.Blocked))
	putU64(buf[32:40], stats.Preempts)
	putU64(buf[40:48], stats.Reschedes)
	if err := copyToUser(proc.AddrSpace(), d.FrameBytes, domain.VirtAddr(frame.Arg(0)), buf, d.Bypass); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Dispatcher) sysRegisterBox(proc domain.ProcessIface, frame *domain.TrapFrame) (int64, error) {
	id := domain.BoxID(frame.Arg(0))
	name, err := d.readUserStr(proc, frame.Arg(1), maxPathLen)
	if err != nil {
		return 0, err
	}
	root, err := d.readUserStr(proc, frame.Arg(2), maxPathLen)
	if err != nil {
		return 0, err
	}
	primary := domain.Pid(frame.Arg(3))
	return 0, d.Boxes.Register(id, name, root, primary)
}
