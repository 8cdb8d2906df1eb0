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

// Package console stands in for the PL011 UART earlycon: a single
// mutex-guarded io.Writer sink. On QEMU's virt machine this would be
// MMIO; here it is os.Stdout by default, swappable with Use. No other
// package writes through it: klog logs through logrus's own writer.
package console

import (
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stdout
)

// Use swaps the sink (tests use a bytes.Buffer).
func Use(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Write has io.Writer's signature as a package-level function (there is
// no writer value to pass around), serializing access the way a real UART
// would serialize access from multiple kernel threads.
func Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	return out.Write(p)
}
