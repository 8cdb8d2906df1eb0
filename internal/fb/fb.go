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
// Package fb implements the supplemented fb_init/fb_draw/fb_info custom
// syscalls: a minimal in-memory RGBA framebuffer standing in for a real
// display driver, which spec.md §1 places out of scope. Callers validate
// arguments and mutate a pixel buffer a test can assert against; nothing
// here touches actual display hardware.
package fb

import (
	"sync"

	"github.com/netoneko/akuma/internal/errno"
)

const bytesPerPixel = 4

// Device is the concrete framebuffer object, guarded by a single mutex
// the way this codebase's other small in-memory state objects are.
type Device struct {
	mu     sync.Mutex
	width  int
	height int
	pixels []byte
	ready  bool
}

// New returns an uninitialized framebuffer; Init must be called before
// Draw or Info report anything but zero dimensions.
func New() *Device {
	return &Device{}
}

// Init allocates a width*height RGBA pixel buffer.
func (d *Device) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		return errno.ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = width, height
	d.pixels = make([]byte, width*height*bytesPerPixel)
	d.ready = true
	return nil
}

// Draw blits pixels (tightly packed RGBA rows) into the rectangle
// [x, x+w) x [y, y+h).
func (d *Device) Draw(x, y, w, h int, pixels []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return errno.ErrInvalid
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > d.width || y+h > d.height {
		return errno.ErrInvalid
	}
	if len(pixels) < w*h*bytesPerPixel {
		return errno.ErrInvalid
	}
	for row := 0; row < h; row++ {
		srcOff := row * w * bytesPerPixel
		dstOff := ((y+row)*d.width + x) * bytesPerPixel
		copy(d.pixels[dstOff:dstOff+w*bytesPerPixel], pixels[srcOff:srcOff+w*bytesPerPixel])
	}
	return nil
}

// Info reports the current dimensions and whether Init has run.
func (d *Device) Info() (width, height int, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height, d.ready
}

// Snapshot returns a copy of the current pixel buffer, for tests.
func (d *Device) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.pixels))
	copy(out, d.pixels)
	return out
}
