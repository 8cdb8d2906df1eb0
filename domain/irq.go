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

// IRQHandlerFn is invoked by the dispatcher once a line is acknowledged.
type IRQHandlerFn func(irq int)

// IRQDispatcherIface is the C11 contract: enable/disable lines, register
// handlers, deliver SGIs.
type IRQDispatcherIface interface {
	RegisterHandler(irq int, fn IRQHandlerFn) error
	Enable(irq int)
	Disable(irq int)
	Deliver(irq int)
	RaiseSGI(irq int)
}

// TimerIface is the C5 generic-timer & async-waker-queue contract.
type TimerIface interface {
	UptimeUs() uint64
	SetUTCTimeUs(epochUs uint64)
	UTCTimeUs() uint64
	InitUTCFromRTC(epochUs uint64)

	ScheduleWake(atUs uint64, w Waker)
	CheckAlarms(nowUs uint64)
}
