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

// FDKind tags the union described in spec.md §3 ("File descriptor").
type FDKind int

const (
	FDStdin FDKind = iota
	FDStdout
	FDStderr
	FDFile
	FDSocket
	FDChildStdout
)

// FileDescriptor is a per-process, single-owner file handle.
type FileDescriptor struct {
	Kind     FDKind
	Path     string
	Position int64
	Flags    int32
	SockIdx  int
	ChildPid Pid
}

// ProcessState mirrors the exit-state machine of spec.md §3/§4.6.
type ProcessState int

const (
	ProcRunning ProcessState = iota
	ProcZombie
)

// ProcessInfo is the payload written into the fixed process-info page.
type ProcessInfo struct {
	Pid    Pid
	Ppid   Pid
	Argc   uint32
	Argv   []string // NUL-joined on the wire, split here for convenience
}

// ProcessIface is the per-process contract consumed by the syscall
// dispatcher and the VFS/box layers.
type ProcessIface interface {
	Pid() Pid
	Ppid() Pid
	Box() BoxID
	Cwd() string
	Root() string
	SetCwd(path string)
	AddrSpace() AddressSpaceIface
	HostThread() ThreadID

	Fds() map[int32]*FileDescriptor
	AllocFd(fd FileDescriptor) int32
	CloseFd(n int32) error

	Brk() VirtAddr
	SetBrk(v VirtAddr)

	Interrupted() bool
	Interrupt()

	Exited() bool
	ExitCode() int
	Exit(code int)

	Channel() ProcessChannelIface
}

// ProcessServiceIface is the C6 process-manager contract.
type ProcessServiceIface interface {
	SpawnProcess(
		path string,
		argv []string,
		env []string,
		stdin []byte,
		cwd string,
		rootDir string,
		box BoxID,
	) (ThreadID, ProcessChannelIface, Pid, error)

	Fork(parent Pid) (Pid, error)
	Execve(pid Pid, path string, argv []string) error

	Lookup(pid Pid) (ProcessIface, bool)
	All() []ProcessIface
	InBox(box BoxID) []ProcessIface

	Wait4(parent Pid, child Pid, nohang bool) (Pid, int, error)

	Kill(pid Pid) error
	Exit(pid Pid, code int)
}

// ProcessChannelIface is the bounded stdin/stdout ring pair of spec.md §3.
type ProcessChannelIface interface {
	WriteStdin(p []byte) (int, error)
	ReadStdin(p []byte) (int, error, bool)
	CloseStdin()
	IsStdinClosed() bool
	HasStdinData() bool

	WriteStdout(p []byte) (int, error)
	ReadStdout(p []byte) (int, bool)
	PeekStdin() []byte
	PeekStdout() []byte

	SetRawMode(bool)
	RawMode() bool
	Termios() *Termios
	SetTermios(*Termios)

	HasExited() bool
	ExitCode() (int, bool)
	SignalExit(code int)

	RegisterStdinWaker(w Waker)
	RegisterStdoutWaker(w Waker)
}

// Termios is the termios-equivalent control block of spec.md §6.
type Termios struct {
	Iflag   uint32
	Oflag   uint32
	Cflag   uint32
	Lflag   uint32
	Cc      [20]byte
	WinRows uint16
	WinCols uint16
	Pgrp    int32
}

const (
	ICRNL  uint32 = 0x100
	ONLCR  uint32 = 0x4
	ECHO   uint32 = 0x8
	ICANON uint32 = 0x2
)
