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
// Package process implements C6: the process manager. A process here is a
// bundle of bookkeeping (address space, fd table, cwd/root, brk, exit
// state) plus the host goroutine thread-slot the scheduler spawned to
// back it; the package owns none of the actual ARMv8 execution context,
// only the bookkeeping around it.
package process

import (
	"encoding/binary"
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/addrspace"
	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/elfload"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/klog"
	"github.com/netoneko/akuma/internal/memory"
)

var log = klog.For("process")

// Loader resolves an executable path to its raw ELF bytes. The kernel
// wires this to the VFS mount table's Resolve+ReadFile pair; the process
// manager itself never imports internal/vfs, avoiding an import cycle
// (internal/vfs/procfs reads the process manager back).
type Loader func(path string) ([]byte, error)

type proc struct {
	mu sync.Mutex

	pid  domain.Pid
	ppid domain.Pid
	box  domain.BoxID
	cwd  string
	root string

	as    *addrspace.AddressSpace
	brk   domain.VirtAddr
	fds   map[int32]*domain.FileDescriptor
	nextFd int32

	hostThread  domain.ThreadID
	interrupted bool
	exited      bool
	exitCode    int

	channel *channel
	done    chan struct{}
}

func (p *proc) Pid() domain.Pid  { return p.pid }
func (p *proc) Ppid() domain.Pid { return p.ppid }
func (p *proc) Box() domain.BoxID { return p.box }

func (p *proc) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

func (p *proc) Root() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.root
}

func (p *proc) SetCwd(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = path
}

func (p *proc) AddrSpace() domain.AddressSpaceIface { return p.as }
func (p *proc) HostThread() domain.ThreadID         { return p.hostThread }

func (p *proc) Fds() map[int32]*domain.FileDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int32]*domain.FileDescriptor, len(p.fds))
	for k, v := range p.fds {
		out[k] = v
	}
	return out
}

func (p *proc) AllocFd(fd domain.FileDescriptor) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.nextFd
	p.nextFd++
	f := fd
	p.fds[n] = &f
	return n
}

func (p *proc) CloseFd(n int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[n]; !ok {
		return errno.ErrBadFd
	}
	delete(p.fds, n)
	return nil
}

func (p *proc) Brk() domain.VirtAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.brk
}

func (p *proc) SetBrk(v domain.VirtAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brk = v
}

func (p *proc) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

func (p *proc) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupted = true
}

func (p *proc) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *proc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *proc) Exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitCode = code
	done := p.done
	p.mu.Unlock()
	p.channel.SignalExit(code)
	close(done)
}

func (p *proc) Channel() domain.ProcessChannelIface { return p.channel }

var _ domain.ProcessIface = (*proc)(nil)

// Manager is the concrete C6 process manager.
type Manager struct {
	mu       sync.Mutex
	procs    map[domain.Pid]*proc
	children map[domain.Pid][]domain.Pid
	nextPid  domain.Pid

	scheduler domain.SchedulerIface
	alloc     *memory.Allocator
	loader    Loader

	waitCond *sync.Cond
}

// NewManager wires a process manager to the scheduler, physical allocator,
// and executable loader it needs.
func NewManager(scheduler domain.SchedulerIface, alloc *memory.Allocator, loader Loader) *Manager {
	addrspace.SetDefaultAllocator(alloc)
	m := &Manager{
		procs:     make(map[domain.Pid]*proc),
		children:  make(map[domain.Pid][]domain.Pid),
		nextPid:   1,
		scheduler: scheduler,
		alloc:     alloc,
		loader:    loader,
	}
	m.waitCond = sync.NewCond(&m.mu)
	return m
}

func (m *Manager) allocPid() domain.Pid {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid := m.nextPid
	m.nextPid++
	return pid
}

// SpawnProcess creates a fresh process from an ELF image, used for box
// primary processes and other top-level spawns (spec.md §4.6). There is
// no parent relationship tracked here; use Fork for parent/child wiring.
func (m *Manager) SpawnProcess(
	path string,
	argv []string,
	env []string,
	stdin []byte,
	cwd string,
	rootDir string,
	box domain.BoxID,
) (domain.ThreadID, domain.ProcessChannelIface, domain.Pid, error) {

	data, err := m.loader(path)
	if err != nil {
		return 0, nil, 0, err
	}

	as := addrspace.New()
	mapper := elfload.New(as, m.alloc)
	img, err := elfload.Load(data, mapper, m.alloc)
	if err != nil {
		return 0, nil, 0, err
	}

	pid := m.allocPid()
	if err := writeProcessInfoPage(as, m.alloc, domain.ProcessInfo{Pid: pid, Argc: uint32(len(argv)), Argv: argv}); err != nil {
		as.Destroy(m.alloc)
		return 0, nil, 0, err
	}
	if err := mapUserStack(as, m.alloc); err != nil {
		as.Destroy(m.alloc)
		return 0, nil, 0, err
	}

	p := &proc{
		pid:    pid,
		box:    box,
		cwd:    cwd,
		root:   rootDir,
		as:     as,
		brk:    img.Brk,
		fds:    map[int32]*domain.FileDescriptor{},
		nextFd: 0,
		channel: newChannel(stdin),
		done:    make(chan struct{}),
	}
	p.fds[p.nextFd] = &domain.FileDescriptor{Kind: domain.FDStdin}
	p.nextFd++
	p.fds[p.nextFd] = &domain.FileDescriptor{Kind: domain.FDStdout}
	p.nextFd++
	p.fds[p.nextFd] = &domain.FileDescriptor{Kind: domain.FDStderr}
	p.nextFd++

	tid, err := m.scheduler.SpawnUserHost(func() { <-p.done })
	if err != nil {
		as.Destroy(m.alloc)
		return 0, nil, 0, err
	}
	p.hostThread = tid
	m.scheduler.SetTTBR0(tid, as.TTBR0())

	m.mu.Lock()
	m.procs[pid] = p
	m.mu.Unlock()

	log.WithField("pid", pid).WithField("path", path).Info("process spawned")
	return tid, p.channel, pid, nil
}

// Fork deep-copies an existing process's address space and bookkeeping
// into a new pid, per DESIGN.md's fork-as-deep-copy decision (this kernel
// has no page-fault-driven copy-on-write).
func (m *Manager) Fork(parent domain.Pid) (domain.Pid, error) {
	m.mu.Lock()
	parentProc, ok := m.procs[parent]
	m.mu.Unlock()
	if !ok {
		return 0, errno.ErrNoEnt
	}

	parentProc.mu.Lock()
	as, err := parentProc.as.Clone(m.alloc, m.alloc.FrameBytes)
	if err != nil {
		parentProc.mu.Unlock()
		return 0, err
	}
	fds := make(map[int32]*domain.FileDescriptor, len(parentProc.fds))
	for k, v := range parentProc.fds {
		f := *v
		fds[k] = &f
	}
	child := &proc{
		pid:     m.allocPid(),
		ppid:    parent,
		box:     parentProc.box,
		cwd:     parentProc.cwd,
		root:    parentProc.root,
		as:      as,
		brk:     parentProc.brk,
		fds:     fds,
		nextFd:  parentProc.nextFd,
		channel: newChannel(nil),
		done:    make(chan struct{}),
	}
	parentProc.mu.Unlock()

	if err := patchProcessInfoIdentity(as, m.alloc, child.pid, child.ppid); err != nil {
		as.Destroy(m.alloc)
		return 0, err
	}

	tid, err := m.scheduler.SpawnUserHost(func() { <-child.done })
	if err != nil {
		as.Destroy(m.alloc)
		return 0, err
	}
	child.hostThread = tid
	m.scheduler.SetTTBR0(tid, as.TTBR0())

	m.mu.Lock()
	m.procs[child.pid] = child
	m.children[parent] = append(m.children[parent], child.pid)
	m.mu.Unlock()

	return child.pid, nil
}

// Execve replaces a process's address space with a freshly loaded image,
// matching spec.md §4.6's execve contract (pid and fd table survive).
func (m *Manager) Execve(pid domain.Pid, path string, argv []string) error {
	m.mu.Lock()
	p, ok := m.procs[pid]
	m.mu.Unlock()
	if !ok {
		return errno.ErrNoEnt
	}

	data, err := m.loader(path)
	if err != nil {
		return err
	}

	newAS := addrspace.New()
	mapper := elfload.New(newAS, m.alloc)
	img, err := elfload.Load(data, mapper, m.alloc)
	if err != nil {
		newAS.Destroy(m.alloc)
		return err
	}
	if err := writeProcessInfoPage(newAS, m.alloc, domain.ProcessInfo{Pid: pid, Argc: uint32(len(argv)), Argv: argv}); err != nil {
		newAS.Destroy(m.alloc)
		return err
	}
	if err := mapUserStack(newAS, m.alloc); err != nil {
		newAS.Destroy(m.alloc)
		return err
	}

	p.mu.Lock()
	old := p.as
	p.as = newAS
	p.brk = img.Brk
	p.mu.Unlock()

	old.Destroy(m.alloc)
	m.scheduler.SetTTBR0(p.hostThread, newAS.TTBR0())
	return nil
}

func (m *Manager) Lookup(pid domain.Pid) (domain.ProcessIface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	if !ok {
		return nil, false
	}
	return p, true
}

func (m *Manager) All() []domain.ProcessIface {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProcessIface, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p)
	}
	return out
}

// ByThread finds the process hosted on the given scheduler thread slot,
// the lookup the trap gateway needs to turn "which slot trapped" into
// "which process's address space and fd table" before calling the
// syscall dispatcher. Linear over the live process table; spec.md's
// MaxThreads=32 bounds this to a handful of comparisons.
func (m *Manager) ByThread(tid domain.ThreadID) (domain.ProcessIface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.procs {
		if p.hostThread == tid {
			return p, true
		}
	}
	return nil, false
}

func (m *Manager) InBox(box domain.BoxID) []domain.ProcessIface {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessIface
	for _, p := range m.procs {
		if p.box == box {
			out = append(out, p)
		}
	}
	return out
}

// Wait4 implements spec.md §4.6's wait4: nohang=true never blocks (Linux
// WNOHANG semantics, returning pid 0 with no error when no child has
// exited yet); nohang=false blocks on the manager's condition variable
// until a matching child exits.
func (m *Manager) Wait4(parent domain.Pid, child domain.Pid, nohang bool) (domain.Pid, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		kids := m.children[parent]
		if len(kids) == 0 {
			return 0, 0, errno.ErrNoChild
		}
		for i, kid := range kids {
			if child != 0 && kid != child {
				continue
			}
			p, ok := m.procs[kid]
			if !ok || !p.Exited() {
				continue
			}
			m.children[parent] = append(kids[:i:i], kids[i+1:]...)
			delete(m.procs, kid)
			return kid, p.ExitCode(), nil
		}
		if nohang {
			return 0, 0, nil
		}
		m.waitCond.Wait()
	}
}

func (m *Manager) Kill(pid domain.Pid) error {
	m.mu.Lock()
	p, ok := m.procs[pid]
	m.mu.Unlock()
	if !ok {
		return errno.ErrNoEnt
	}
	p.Interrupt()
	m.Exit(pid, 128+9) // SIGKILL-equivalent exit status, spec.md §7
	return nil
}

func (m *Manager) Exit(pid domain.Pid, code int) {
	m.mu.Lock()
	p, ok := m.procs[pid]
	m.mu.Unlock()
	if !ok {
		return
	}
	p.Exit(code)
	m.mu.Lock()
	m.waitCond.Broadcast()
	m.mu.Unlock()
}

var _ domain.ProcessServiceIface = (*Manager)(nil)

func mapUserStack(as *addrspace.AddressSpace, alloc *memory.Allocator) error {
	pages := config.DefaultUserStackKiB * 1024 / domain.PageSize
	top := domain.UserCeiling - domain.PageSize // topmost user page; the page below the lowest stack page stays unmapped as the guard
	for i := 0; i < pages; i++ {
		va := top - domain.VirtAddr(i*domain.PageSize)
		if err := as.AllocAndMapWith(alloc, va, domain.RW); err != nil {
			return err
		}
	}
	return nil
}

func writeProcessInfoPage(as *addrspace.AddressSpace, alloc *memory.Allocator, info domain.ProcessInfo) error {
	if err := as.AllocAndMapWith(alloc, domain.ProcessInfoAddr, domain.RO); err != nil {
		return err
	}
	pa, ok := as.Translate(domain.ProcessInfoAddr)
	if !ok {
		return errno.ErrFault
	}
	buf, err := alloc.FrameBytes(pa - (pa % domain.PageSize))
	if err != nil {
		return err
	}
	encodeProcessInfo(buf, info)
	return nil
}

// encodeProcessInfo writes spec.md §6's fixed binary layout: 4-byte PID
// @0, 4-byte PPID @4, 4-byte argc @8, 4-byte argv-length @12, then the
// NUL-separated argv bytes starting @16, within the page's 1024-byte
// budget.
func encodeProcessInfo(buf []byte, info domain.ProcessInfo) {
	for i := range buf {
		buf[i] = 0
	}
	argv := []byte(joinArgv(info.Argv))
	if max := domain.ProcessInfoSize - 16; len(argv) > max {
		argv = argv[:max]
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(info.Pid))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(info.Ppid))
	binary.LittleEndian.PutUint32(buf[8:12], info.Argc)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(argv)))
	copy(buf[16:], argv)
}

// patchProcessInfoIdentity overwrites just the PID/PPID fields of an
// already-mapped process-info page, for Fork: the page's argc/argv
// content is correctly inherited byte-for-byte by AddressSpace.Clone,
// but the PID/PPID identity belongs to the new process, not the parent
// it was copied from.
func patchProcessInfoIdentity(as *addrspace.AddressSpace, alloc *memory.Allocator, pid, ppid domain.Pid) error {
	pa, ok := as.Translate(domain.ProcessInfoAddr)
	if !ok {
		return errno.ErrFault
	}
	buf, err := alloc.FrameBytes(pa - (pa % domain.PageSize))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ppid))
	return nil
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += "\x00"
		}
		out += a
	}
	return out
}
