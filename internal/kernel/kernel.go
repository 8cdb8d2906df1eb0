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
// Package kernel wires every component (C1-C11) into one bootable
// Kernel and owns the boot sequence spec.md §6 describes: memory, the
// thread pool, the timer/IRQ pair, the VFS mount table, the process
// manager, the box registry, the syscall gateway, and (conditionally)
// the framebuffer and watchdog. Nothing here is hardware-specific; this
// is the Go-level analog of the assembly `_start` that would run before
// any of this is reachable on real silicon.
package kernel

import (
	"fmt"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/async"
	"github.com/netoneko/akuma/internal/blockdev"
	"github.com/netoneko/akuma/internal/box"
	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/fb"
	"github.com/netoneko/akuma/internal/irq"
	"github.com/netoneko/akuma/internal/klog"
	"github.com/netoneko/akuma/internal/memory"
	"github.com/netoneko/akuma/internal/process"
	"github.com/netoneko/akuma/internal/scheduler"
	syscallpkg "github.com/netoneko/akuma/internal/syscall"
	"github.com/netoneko/akuma/internal/timer"
	"github.com/netoneko/akuma/internal/trap"
	"github.com/netoneko/akuma/internal/vfs"
	"github.com/netoneko/akuma/internal/vfs/ext2fs"
	"github.com/netoneko/akuma/internal/vfs/memfs"
	"github.com/netoneko/akuma/internal/vfs/procfs"
	"github.com/netoneko/akuma/internal/watchdog"
	"github.com/sirupsen/logrus"
)

var log = klog.For("kernel")

// Kernel bundles every booted subsystem. Fields are exported so
// internal/selftest and cmd/akumactl can drive and inspect them
// directly rather than through a narrower accessor surface.
type Kernel struct {
	Config    config.BootConfig
	Memory    *memory.Allocator
	Scheduler *scheduler.Pool
	Timer     *timer.Driver
	IRQ       *irq.Dispatcher
	Trap      *trap.Gateway
	Mounts    *vfs.MountTable
	Processes *process.Manager
	Boxes     *box.Registry
	FB        *fb.Device
	Syscall   *syscallpkg.Dispatcher
	Watchdog  *watchdog.Monitor

	stop chan struct{}
}

// Boot constructs and wires every component per cfg, mirroring spec.md
// §6's boot contract (RAM size, test/watchdog/network/FS enable flags).
// It does not start the idle loop; callers invoke Run for that once boot
// has finished (so a self-test battery can run first, as spec.md §8's
// scenario 1 expects: tests complete before the kernel settles into
// idle).
func Boot(cfg config.BootConfig) (*Kernel, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unrecognized log level, defaulting to info")
	} else {
		klog.SetLevel(level)
	}

	alloc := memory.NewAllocator(cfg.RAMSizeMiB * 1024 * 1024)
	sched := scheduler.NewPool()
	clock := timer.New()
	irqDisp := irq.New()

	mounts := vfs.New()
	root, err := rootBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("mounting root filesystem: %w", err)
	}
	if err := mounts.Mount("/", root); err != nil {
		return nil, fmt.Errorf("mounting root filesystem: %w", err)
	}

	boxes := box.New()

	var procs *process.Manager
	loader := process.Loader(func(path string) ([]byte, error) {
		backend, rel, err := mounts.Resolve("/", path, domain.HostBoxID, "/")
		if err != nil {
			return nil, err
		}
		return backend.ReadFile(rel)
	})
	procs = process.NewManager(sched, alloc, loader)
	boxes.Setup(procs)

	if err := mounts.Mount("/proc", procfs.New(procs, boxes, clock)); err != nil {
		return nil, fmt.Errorf("mounting procfs: %w", err)
	}

	fbDev := fb.New()

	dispatcher := &syscallpkg.Dispatcher{
		Processes:  procs,
		Boxes:      boxes,
		Mounts:     mounts,
		Clock:      clock,
		Scheduler:  sched,
		Blocking:   sched,
		FB:         fbDev,
		FrameBytes: alloc.FrameBytes,
	}

	k := &Kernel{
		Config:    cfg,
		Memory:    alloc,
		Scheduler: sched,
		Timer:     clock,
		IRQ:       irqDisp,
		Mounts:    mounts,
		Processes: procs,
		Boxes:     boxes,
		FB:        fbDev,
		Syscall:   dispatcher,
		stop:      make(chan struct{}),
	}
	k.Trap = trap.New(k.handleSyscallTrap)

	if err := irqDisp.RegisterHandler(irq.TimerIRQ, k.onTimerIRQ); err != nil {
		return nil, fmt.Errorf("registering timer IRQ: %w", err)
	}

	if cfg.EnableWatchdog {
		k.Watchdog = watchdog.New(clock, config.CooperativeTimeout, func(reason string) {
			klog.Fatal("kernel", reason, nil)
		})
	}

	log.WithField("ram_mib", cfg.RAMSizeMiB).Info("boot complete")
	return k, nil
}

// rootBackend picks the "/" backend per spec.md §6's degraded-mode rule:
// with EnableFS off the kernel boots against an in-memory filesystem
// rather than failing to boot; with it on, the block image at
// BlockImagePath is opened (or, when no path is set, a 4 MiB in-memory
// block device is created) and mounted through the ext2 backend.
func rootBackend(cfg config.BootConfig) (domain.BackendIface, error) {
	if !cfg.EnableFS {
		return memfs.New(), nil
	}
	if cfg.BlockImagePath == "" {
		return ext2fs.Mount(blockdev.NewMemDevice(4 * 1024 * 1024))
	}
	dev, err := blockdev.OpenFileDevice(cfg.BlockImagePath, 16*1024*1024)
	if err != nil {
		return nil, err
	}
	return ext2fs.Mount(dev)
}

// handleSyscallTrap is the trap.SyscallFn the Gateway calls on every
// SVC trap: find which process owns the trapping thread slot, then
// delegate to the syscall dispatcher. A slot with no owning process
// (the boot thread itself, or a stale trap during shutdown) is a
// kernel-level fault there is no process to blame for.
func (k *Kernel) handleSyscallTrap(frame *domain.TrapFrame) int64 {
	tid := k.Scheduler.Current()
	proc, ok := k.Processes.ByThread(tid)
	if !ok {
		frame.SetReturn(errno.ToErrno(errno.ErrNoSys))
		return int64(frame.X[0])
	}
	k.Syscall.Handle(tid, proc, frame)
	return int64(frame.X[0])
}

// onTimerIRQ is the generic-timer PPI handler: advance scheduler
// accounting, fire any elapsed timer-queue wakers, then raise the
// reschedule SGI so a preempted thread re-enters the scheduler at clean
// context (spec.md §4.4's "Reschedule trigger").
func (k *Kernel) onTimerIRQ(_ int) {
	k.Scheduler.OnTimerTick()
	k.Timer.CheckAlarms(k.Timer.UptimeUs())
	k.Scheduler.Sweep()
	k.IRQ.RaiseSGI(irq.RescheduleSGI)
}

// Run drives the boot thread's cooperative idle loop (spec.md §4.9) until
// Stop is called. It blocks; cmd/akuma calls it directly once boot (and
// any self-test battery) has completed.
func (k *Kernel) Run() {
	async.IdleLoop(k.Scheduler, k.Timer, config.TimerPeriod, k.stop)
}

// Stop ends the idle loop started by Run.
func (k *Kernel) Stop() {
	close(k.stop)
}

// Uptime is a small convenience wrapper used by cmd/akuma to report
// boot-relative time.
func (k *Kernel) Uptime() time.Duration {
	return time.Duration(k.Timer.UptimeUs()) * time.Microsecond
}
