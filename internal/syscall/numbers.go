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

import "golang.org/x/sys/unix"

// Number is a syscall number as carried in x8.
type Number int64

// Standard numbers reuse golang.org/x/sys/unix's linux/arm64 SYS_*
// constants. arm64 dropped the legacy fstat/stat/open/unlink
// family in favor of the *at() variants; the kernel the ABI calls
// "newfstatat" is exposed here as unix.SYS_FSTATAT, arm64's name for the
// same number (unlike x86-64, which keeps a separate SYS_NEWFSTATAT).
const (
	NrExit           = Number(unix.SYS_EXIT)
	NrExitGroup      = Number(unix.SYS_EXIT_GROUP)
	NrRead           = Number(unix.SYS_READ)
	NrWrite          = Number(unix.SYS_WRITE)
	NrWritev         = Number(unix.SYS_WRITEV)
	NrIoctl          = Number(unix.SYS_IOCTL)
	NrPipe2          = Number(unix.SYS_PIPE2)
	NrBrk            = Number(unix.SYS_BRK)
	NrOpenat         = Number(unix.SYS_OPENAT)
	NrClose          = Number(unix.SYS_CLOSE)
	NrLseek          = Number(unix.SYS_LSEEK)
	NrFstat          = Number(unix.SYS_FSTAT)
	NrNewfstatat     = Number(unix.SYS_FSTATAT)
	NrFaccessat      = Number(unix.SYS_FACCESSAT)
	NrNanosleep      = Number(unix.SYS_NANOSLEEP)
	NrPpoll          = Number(unix.SYS_PPOLL)
	NrMkdirat        = Number(unix.SYS_MKDIRAT)
	NrUnlinkat       = Number(unix.SYS_UNLINKAT)
	NrRenameat       = Number(unix.SYS_RENAMEAT)
	NrClone          = Number(unix.SYS_CLONE)
	NrExecve         = Number(unix.SYS_EXECVE)
	NrMmap           = Number(unix.SYS_MMAP)
	NrMunmap         = Number(unix.SYS_MUNMAP)
	NrGetdents64     = Number(unix.SYS_GETDENTS64)
	NrGetrandom      = Number(unix.SYS_GETRANDOM)
	NrClockGettime   = Number(unix.SYS_CLOCK_GETTIME)
	NrWait4          = Number(unix.SYS_WAIT4)
	NrGetpid         = Number(unix.SYS_GETPID)
	NrGetppid        = Number(unix.SYS_GETPPID)
	NrGetuid         = Number(unix.SYS_GETUID)
	NrGeteuid        = Number(unix.SYS_GETEUID)
	NrGetgid         = Number(unix.SYS_GETGID)
	NrGetegid        = Number(unix.SYS_GETEGID)
	NrGettid         = Number(unix.SYS_GETTID)
	NrRtSigaction    = Number(unix.SYS_RT_SIGACTION)
	NrRtSigprocmask  = Number(unix.SYS_RT_SIGPROCMASK)
	NrSetpgid        = Number(unix.SYS_SETPGID)
	NrGetpgid        = Number(unix.SYS_GETPGID)
	NrSetsid         = Number(unix.SYS_SETSID)
	NrChdir          = Number(unix.SYS_CHDIR)
	NrGetcwd         = Number(unix.SYS_GETCWD)
	NrFcntl          = Number(unix.SYS_FCNTL)
	NrSetTidAddress  = Number(unix.SYS_SET_TID_ADDRESS)
)

// customBase is the start of the custom, non-Linux syscall range spec.md
// §4.7 reserves for box/process control and the supplemented framebuffer
// and accounting calls.
const customBase Number = 300

const (
	NrResolveHost Number = customBase + iota
	NrSpawn
	NrSpawnExt
	NrKill
	NrKillBox
	NrWaitpid
	NrReattach
	NrTime
	NrUptime
	NrSetTpidrEl0
	NrFbInit
	NrFbDraw
	NrFbInfo
	NrTermiosGet
	NrTermiosSet
	NrGetCPUStats
	NrRegisterBox
)
