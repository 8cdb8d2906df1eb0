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

// Package domain declares the shared types and service interfaces that tie
// the kernel's components (scheduler, process manager, VFS, box registry,
// syscall dispatcher) together without introducing import cycles between
// their concrete packages.
package domain

// Pid identifies a process. PIDs are monotonic starting at 1; 0 is never a
// valid process id.
type Pid uint32

// ThreadID is an index into the fixed thread-slot array, [0, MaxThreads).
type ThreadID int

// BoxID identifies a container/box namespace. Box 0 is the host box.
type BoxID uint64

// HostBoxID is the reserved box id for the host supervisor.
const HostBoxID BoxID = 0

// VirtAddr is a user or kernel virtual address.
type VirtAddr uintptr

// PhysAddr is a physical frame-aligned address.
type PhysAddr uintptr

// PageSize is the frame size assumed everywhere addresses are page-aligned.
const PageSize = 4096

// UserCeiling is the first invalid user virtual address; every user mapping
// must lie strictly below it (spec: "first 1 GiB").
const UserCeiling VirtAddr = 1 << 30

// ProcessInfoAddr is the fixed user-virtual address of the read-only
// process-info page.
const ProcessInfoAddr VirtAddr = 0x1000

// ProcessInfoSize is the total size, in bytes, of the process-info page.
const ProcessInfoSize = 1024
