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

// Package errno maps the kernel's narrow internal error taxonomy
// (spec.md §7) onto negative Linux errno values, using the
// golang.org/x/sys/unix errno set.
package errno

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Sentinel errors returned by internal components. The syscall dispatcher
// (internal/syscall) translates these to negative errno at the ABI
// boundary; internal callers should use errors.Is against these values.
var (
	ErrInterrupted   = errors.New("akuma: interrupted")
	ErrNoEnt         = errors.New("akuma: no such entry")
	ErrFault         = errors.New("akuma: bad address")
	ErrInvalid       = errors.New("akuma: invalid argument")
	ErrAccess        = errors.New("akuma: permission denied")
	ErrNoSys         = errors.New("akuma: unimplemented")
	ErrBadFd         = errors.New("akuma: bad file descriptor")
	ErrNoChild       = errors.New("akuma: no child processes")
	ErrNoMem         = errors.New("akuma: out of memory")
	ErrNotTTY        = errors.New("akuma: not a tty")
	ErrRange         = errors.New("akuma: result too large")
	ErrAgain         = errors.New("akuma: try again")
	ErrAlreadyExists = errors.New("akuma: already exists")
)

// ToErrno converts a sentinel (or wrapped sentinel) error into the negative
// errno the syscall ABI returns in x0. Unknown errors default to EIO.
func ToErrno(err error) int64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted):
		return -int64(unix.EINTR)
	case errors.Is(err, ErrNoEnt):
		return -int64(unix.ENOENT)
	case errors.Is(err, ErrFault):
		return -int64(unix.EFAULT)
	case errors.Is(err, ErrInvalid):
		return -int64(unix.EINVAL)
	case errors.Is(err, ErrAccess):
		return -int64(unix.EACCES)
	case errors.Is(err, ErrNoSys):
		return -int64(unix.ENOSYS)
	case errors.Is(err, ErrBadFd):
		return -int64(unix.EBADF)
	case errors.Is(err, ErrNoChild):
		return -int64(unix.ECHILD)
	case errors.Is(err, ErrNoMem):
		return -int64(unix.ENOMEM)
	case errors.Is(err, ErrNotTTY):
		return -int64(unix.ENOTTY)
	case errors.Is(err, ErrRange):
		return -int64(unix.ERANGE)
	case errors.Is(err, ErrAgain):
		return -int64(unix.EAGAIN)
	case errors.Is(err, ErrAlreadyExists):
		return -int64(unix.EEXIST)
	default:
		return -int64(unix.EIO)
	}
}
