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

// BoxInfo is the registry record of spec.md §3 ("Box").
type BoxInfo struct {
	ID         BoxID
	Name       string
	RootDir    string
	CreatorPid Pid
	PrimaryPid Pid
}

// BoxRegistryIface is the C10 box/container registry contract.
type BoxRegistryIface interface {
	Register(id BoxID, name, root string, primary Pid) error
	Lookup(id BoxID) (BoxInfo, bool)
	All() []BoxInfo
	Kill(id BoxID, ps ProcessServiceIface) error
	Reattach(pid Pid, sessionTermios *Termios) error
}
