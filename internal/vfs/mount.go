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
// Package vfs implements C8: the mount table and box-scoped path
// resolution of spec.md §4.8. Longest-prefix mount lookup uses
// hashicorp/go-immutable-radix, the same radix-tree library a handler
// database keyed by filesystem path would reach for.
package vfs

import (
	"path"
	"strings"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/errno"
	"github.com/netoneko/akuma/internal/klog"
)

var log = klog.For("vfs")

// MountTable is the concrete C8 implementation.
type MountTable struct {
	mu   sync.Mutex
	tree *iradix.Tree
}

// New creates an empty mount table.
func New() *MountTable {
	return &MountTable{tree: iradix.New()}
}

// Mount installs backend at prefix, which must be an absolute path.
func (mt *MountTable) Mount(prefix string, backend domain.BackendIface) error {
	prefix = normalizeMountPrefix(prefix)
	mt.mu.Lock()
	defer mt.mu.Unlock()
	tree, _, _ := mt.tree.Insert([]byte(prefix), backend)
	mt.tree = tree
	log.WithField("prefix", prefix).WithField("backend", backend.Name()).Info("mounted")
	return nil
}

// Unmount removes the mount at prefix.
func (mt *MountTable) Unmount(prefix string) error {
	prefix = normalizeMountPrefix(prefix)
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if _, ok := mt.tree.Get([]byte(prefix)); !ok {
		return errno.ErrNoEnt
	}
	tree, _, _ := mt.tree.Delete([]byte(prefix))
	mt.tree = tree
	return nil
}

// Resolve turns (cwd, input) into an absolute, box-scoped path and finds
// the longest-prefix-matching backend for it, per spec.md §4.8.
func (mt *MountTable) Resolve(cwd, input string, box domain.BoxID, rootDir string) (domain.BackendIface, string, error) {
	abs := resolvePath(cwd, input)
	scoped := scopeToRoot(abs, rootDir)

	mt.mu.Lock()
	prefix, val, ok := mt.tree.Root().LongestPrefix([]byte(scoped))
	mt.mu.Unlock()
	if !ok {
		return nil, "", errno.ErrNoEnt
	}
	backend := val.(domain.BackendIface)

	rel := strings.TrimPrefix(scoped, string(prefix))
	if rel == "" {
		rel = "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return backend, rel, nil
}

// Mounts lists every mounted prefix.
func (mt *MountTable) Mounts() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	var out []string
	mt.tree.Root().Walk(func(key []byte, _ interface{}) bool {
		out = append(out, string(key))
		return false
	})
	return out
}

func normalizeMountPrefix(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return strings.TrimSuffix(path.Clean(p), "/")
}

// resolvePath implements spec.md §4.8's resolve_path(cwd, input).
func resolvePath(cwd, input string) string {
	if strings.HasPrefix(input, "/") {
		return path.Clean(input)
	}
	return path.Clean(path.Join(cwd, input))
}

// scopeToRoot rewrites an absolute path so that it is confined beneath
// rootDir, the process's box-scoped root (spec.md §4.6's "blind root
// redirection" scenario). "/" inside the process maps to rootDir.
func scopeToRoot(abs, rootDir string) string {
	if rootDir == "" || rootDir == "/" {
		return abs
	}
	return path.Clean(path.Join(rootDir, abs))
}

var _ domain.MountTableIface = (*MountTable)(nil)
