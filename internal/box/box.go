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
// Package box implements C10: the box (container/namespace) registry of
// spec.md §4.10. A box bundles a box id, a friendly name, a blind root
// directory, and the pids running inside it.
package box

import (
	"sync"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("box")

// Registry is the concrete C10 implementation, guarded by a single
// RWMutex over its id table.
type Registry struct {
	mu        sync.RWMutex
	boxes     map[domain.BoxID]domain.BoxInfo
	processes domain.ProcessServiceIface
}

// New creates an empty box registry.
func New() *Registry {
	return &Registry{boxes: make(map[domain.BoxID]domain.BoxInfo)}
}

// Setup wires the registry to the process manager, needed by Reattach
// (to locate a process's channel); Kill takes the process service as its
// own argument instead. Wiring collaborators post-construction like this avoids an
// import cycle at package-init time.
func (r *Registry) Setup(ps domain.ProcessServiceIface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = ps
}

func (r *Registry) Register(id domain.BoxID, name, root string, primary domain.Pid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.boxes[id]; exists {
		return errno.ErrAlreadyExists
	}
	r.boxes[id] = domain.BoxInfo{
		ID:         id,
		Name:       name,
		RootDir:    root,
		CreatorPid: primary,
		PrimaryPid: primary,
	}
	log.WithField("box", id).WithField("name", name).Info("box registered")
	return nil
}

func (r *Registry) Lookup(id domain.BoxID) (domain.BoxInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.boxes[id]
	return info, ok
}

func (r *Registry) All() []domain.BoxInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BoxInfo, 0, len(r.boxes))
	for _, info := range r.boxes {
		out = append(out, info)
	}
	return out
}

// Kill terminates every process running inside box id and removes it
// from the registry, per spec.md §4.10's "kill_box" operation.
func (r *Registry) Kill(id domain.BoxID, ps domain.ProcessServiceIface) error {
	r.mu.Lock()
	if _, ok := r.boxes[id]; !ok {
		r.mu.Unlock()
		return errno.ErrNoEnt
	}
	delete(r.boxes, id)
	r.mu.Unlock()

	var firstErr error
	for _, p := range ps.InBox(id) {
		if err := ps.Kill(p.Pid()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reattach points pid's process channel at a new session's termios, the
// "reconnect a host terminal to a running box" operation of spec.md §4.10.
func (r *Registry) Reattach(pid domain.Pid, sessionTermios *domain.Termios) error {
	r.mu.RLock()
	ps := r.processes
	r.mu.RUnlock()
	if ps == nil {
		return errno.ErrNoSys
	}
	proc, ok := ps.Lookup(pid)
	if !ok {
		return errno.ErrNoEnt
	}
	proc.Channel().SetTermios(sessionTermios)
	return nil
}

var _ domain.BoxRegistryIface = (*Registry)(nil)
