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
// Package irq implements C11: a table of optional handlers indexed by IRQ
// number, standing in for the GIC v2 distributor/CPU-interface pair
// spec.md §1 assumes as an external collaborator.
package irq

import (
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("irq")

const maxIRQ = 256

// TimerIRQ and RescheduleSGI are the two lines spec.md names explicitly.
const (
	TimerIRQ     = 30  // generic timer PPI on a GICv2 virt machine
	RescheduleSGI = 0  // SGI0, used purely for the reschedule kick
)

// Dispatcher is the concrete C11 implementation.
type Dispatcher struct {
	mu       sync.Mutex
	handlers [maxIRQ]domain.IRQHandlerFn
	enabled  [maxIRQ]bool
}

// New creates an empty dispatcher; no lines are enabled until registered.
func New() *Dispatcher {
	return &Dispatcher{}
}

// RegisterHandler installs fn for irq and enables the line on the GIC.
func (d *Dispatcher) RegisterHandler(irqNum int, fn domain.IRQHandlerFn) error {
	if irqNum < 0 || irqNum >= maxIRQ {
		return errno.ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[irqNum] = fn
	d.enabled[irqNum] = true
	log.WithField("irq", irqNum).Debug("handler registered")
	return nil
}

// Enable/Disable toggle a line without removing its handler.
func (d *Dispatcher) Enable(irqNum int) {
	if irqNum < 0 || irqNum >= maxIRQ {
		return
	}
	d.mu.Lock()
	d.enabled[irqNum] = true
	d.mu.Unlock()
}

func (d *Dispatcher) Disable(irqNum int) {
	if irqNum < 0 || irqNum >= maxIRQ {
		return
	}
	d.mu.Lock()
	d.enabled[irqNum] = false
	d.mu.Unlock()
}

// Deliver is the top-level IRQ entry called from the (simulated) assembly
// vector: acknowledge, dispatch, EOI. Disabled or unregistered lines are
// silently dropped, matching a spurious-interrupt-safe GIC.
func (d *Dispatcher) Deliver(irqNum int) {
	if irqNum < 0 || irqNum >= maxIRQ {
		return
	}
	d.mu.Lock()
	fn := d.handlers[irqNum]
	enabled := d.enabled[irqNum]
	d.mu.Unlock()

	if !enabled || fn == nil {
		return
	}
	fn(irqNum)
}

// RaiseSGI delivers a software-generated interrupt to the (single) CPU
// interface, used by the timer handler to kick the scheduler at clean
// thread context (spec.md §4.4 "Reschedule trigger").
func (d *Dispatcher) RaiseSGI(irqNum int) {
	d.Deliver(irqNum)
}

var _ domain.IRQDispatcherIface = (*Dispatcher)(nil)
