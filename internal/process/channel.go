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
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
)

const channelRingCapacity = 4096

// channel is the bounded stdin/stdout ring pair of spec.md §3, plus the
// termios/raw-mode block the external collaborator (host terminal) reads
// and writes. A registered domain.Waker is poked on every write so the
// async executor (C9) can resume a reader blocked on empty input without
// this package depending on internal/async.
type channel struct {
	mu sync.Mutex

	stdin       []byte
	stdinClosed bool
	stdinWaker  domain.Waker

	stdout     []byte
	stdoutWaker domain.Waker

	rawMode bool
	termios domain.Termios

	exited   bool
	exitCode int
}

func newChannel(stdin []byte) *channel {
	c := &channel{}
	if len(stdin) > 0 {
		c.stdin = append(c.stdin, stdin...)
	}
	return c
}

func (c *channel) WriteStdin(p []byte) (int, error) {
	c.mu.Lock()
	if c.stdinClosed {
		c.mu.Unlock()
		return 0, errno.ErrInvalid
	}
	if len(c.stdin)+len(p) > channelRingCapacity {
		c.mu.Unlock()
		return 0, errno.ErrAgain
	}
	c.stdin = append(c.stdin, p...)
	waker := c.stdinWaker
	c.mu.Unlock()
	if waker != nil {
		waker.Wake()
	}
	return len(p), nil
}

func (c *channel) ReadStdin(p []byte) (int, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stdin) == 0 {
		if c.stdinClosed {
			return 0, nil, false
		}
		return 0, nil, true // would block
	}
	n := copy(p, c.stdin)
	c.stdin = c.stdin[n:]
	return n, nil, false
}

func (c *channel) CloseStdin() {
	c.mu.Lock()
	c.stdinClosed = true
	waker := c.stdinWaker
	c.mu.Unlock()
	if waker != nil {
		waker.Wake()
	}
}

func (c *channel) IsStdinClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdinClosed
}

func (c *channel) HasStdinData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stdin) > 0
}

func (c *channel) WriteStdout(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.stdout)+len(p) > channelRingCapacity {
		c.mu.Unlock()
		return 0, errno.ErrAgain
	}
	c.stdout = append(c.stdout, p...)
	waker := c.stdoutWaker
	c.mu.Unlock()
	if waker != nil {
		waker.Wake()
	}
	return len(p), nil
}

func (c *channel) ReadStdout(p []byte) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stdout) == 0 {
		return 0, false
	}
	n := copy(p, c.stdout)
	c.stdout = c.stdout[n:]
	return n, true
}

// PeekStdin returns a copy of the currently buffered stdin bytes without
// consuming them, for observers like procfs that must not steal input a
// real reader is still entitled to.
func (c *channel) PeekStdin() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.stdin))
	copy(out, c.stdin)
	return out
}

// PeekStdout mirrors PeekStdin for the stdout ring.
func (c *channel) PeekStdout() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.stdout))
	copy(out, c.stdout)
	return out
}

func (c *channel) SetRawMode(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawMode = v
}

func (c *channel) RawMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawMode
}

func (c *channel) Termios() *domain.Termios {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.termios
	return &t
}

func (c *channel) SetTermios(t *domain.Termios) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t != nil {
		c.termios = *t
	}
}

func (c *channel) HasExited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

func (c *channel) ExitCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.exited
}

func (c *channel) SignalExit(code int) {
	c.mu.Lock()
	c.exited = true
	c.exitCode = code
	waker := c.stdoutWaker
	c.mu.Unlock()
	if waker != nil {
		waker.Wake()
	}
}

func (c *channel) RegisterStdinWaker(w domain.Waker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdinWaker = w
}

func (c *channel) RegisterStdoutWaker(w domain.Waker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdoutWaker = w
}

var _ domain.ProcessChannelIface = (*channel)(nil)
