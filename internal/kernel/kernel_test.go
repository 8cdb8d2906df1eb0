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

package kernel

import (
	"testing"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/config"
	"github.com/netoneko/akuma/internal/vfs/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.BootConfig {
	cfg := config.DefaultBootConfig()
	cfg.RAMSizeMiB = 4
	return cfg
}

func TestBootWiresAllComponentsAndReachesIdle(t *testing.T) {
	k, err := Boot(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 1, k.Scheduler.ThreadCount())
	stats := k.Scheduler.ThreadStats()
	assert.Equal(t, 1, stats.Running)

	assert.NotNil(t, k.Mounts)
	assert.Contains(t, k.Mounts.Mounts(), "/")
	assert.Contains(t, k.Mounts.Mounts(), "/proc")
}

func TestBootWithEnableFSMountsExt2Root(t *testing.T) {
	cfg := testConfig()
	cfg.EnableFS = true
	k, err := Boot(cfg)
	require.NoError(t, err)
	assert.Contains(t, k.Mounts.Mounts(), "/")
}

func TestBootEnablesWatchdogOnlyWhenConfigured(t *testing.T) {
	k, err := Boot(testConfig())
	require.NoError(t, err)
	assert.Nil(t, k.Watchdog)

	cfg := testConfig()
	cfg.EnableWatchdog = true
	k2, err := Boot(cfg)
	require.NoError(t, err)
	assert.NotNil(t, k2.Watchdog)
}

func buildMinimalELFForKernelTest(vaddr uint64, code []byte) []byte {
	const ehsize = 64
	const phsize = 56
	phoff := uint64(ehsize)
	dataOff := phoff + phsize

	buf := make([]byte, dataOff+uint64(len(code)))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	putU16 := func(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
	putU32 := func(b []byte, v uint32) {
		for i := 0; i < 4; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
	putU64 := func(b []byte, v uint64) {
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}

	putU16(buf[16:18], 2)   // ET_EXEC
	putU16(buf[18:20], 183) // EM_AARCH64
	putU32(buf[20:24], 1)
	putU64(buf[24:32], vaddr+dataOff)
	putU64(buf[32:40], phoff)
	putU64(buf[40:48], 0)
	putU32(buf[48:52], 0)
	putU16(buf[52:54], ehsize)
	putU16(buf[54:56], phsize)
	putU16(buf[56:58], 1)

	ph := buf[phoff : phoff+phsize]
	putU32(ph[0:4], 1) // PT_LOAD
	putU32(ph[4:8], 5) // PF_R|PF_X
	putU64(ph[8:16], dataOff)
	putU64(ph[16:24], vaddr+dataOff)
	putU64(ph[24:32], vaddr+dataOff)
	putU64(ph[32:40], uint64(len(code)))
	putU64(ph[40:48], uint64(len(code)))
	putU64(ph[48:56], 0x1000)

	copy(buf[dataOff:], code)
	return buf
}

// TestByThreadFindsSpawnedProcessHostSlot exercises the trap-to-process
// lookup Boot wires into handleSyscallTrap: the thread slot a spawned
// process is hosted on must resolve back to that exact process.
func TestByThreadFindsSpawnedProcessHostSlot(t *testing.T) {
	k, err := Boot(testConfig())
	require.NoError(t, err)

	img := buildMinimalELFForKernelTest(0x400000, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	bin := memfs.New()
	require.NoError(t, bin.WriteFile("/hello", img))
	require.NoError(t, k.Mounts.Mount("/bin", bin))

	tid, _, pid, err := k.Processes.SpawnProcess("/bin/hello", nil, nil, nil, "/", "/", domain.HostBoxID)
	require.NoError(t, err)

	proc, ok := k.Processes.ByThread(tid)
	require.True(t, ok)
	assert.Equal(t, pid, proc.Pid())
}

// TestHandleSyscallTrapOnUnownedSlotReturnsNoSys covers the fallback path:
// the boot thread itself (slot 0) hosts no process, so a trap routed
// through it (the scheduler's initial "current" slot) must report ENOSYS
// rather than dispatching against a nil process.
func TestHandleSyscallTrapOnUnownedSlotReturnsNoSys(t *testing.T) {
	k, err := Boot(testConfig())
	require.NoError(t, err)

	frame := &domain.TrapFrame{}
	frame.X[8] = 39 // SYS_getpid on arm64

	ret := k.handleSyscallTrap(frame)
	assert.Less(t, ret, int64(0))
}
