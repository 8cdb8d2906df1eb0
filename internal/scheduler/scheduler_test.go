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

package scheduler

import (
	"testing"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolBootThreadRunning(t *testing.T) {
	p := NewPool()
	st := p.ThreadStats()
	assert.Equal(t, 1, st.Running)
	assert.Equal(t, 1, p.ThreadCount())
}

func TestScheduleIndicesRespectsCooperativeCeiling(t *testing.T) {
	states := []domain.ThreadState{domain.Running, domain.Ready}
	coop := []bool{true, false}
	now := time.Now()
	starts := []time.Time{now, now}

	idx := scheduleIndices(states, coop, 0, starts, now.Add(1*time.Second), false)
	assert.Equal(t, -1, idx, "cooperative thread under the ceiling must not be preempted")

	idx = scheduleIndices(states, coop, 0, starts, now.Add(6*time.Second), false)
	assert.Equal(t, 1, idx, "cooperative thread past the ceiling is preemptible")
}

func TestScheduleIndicesRoundRobinSkipsNonRunnable(t *testing.T) {
	states := []domain.ThreadState{domain.Running, domain.Blocked, domain.Free, domain.Ready}
	coop := []bool{false, false, false, false}
	now := time.Now()
	starts := []time.Time{now, now, now, now}

	idx := scheduleIndices(states, coop, 0, starts, now, true)
	assert.Equal(t, 3, idx)
}

func TestScheduleIndicesNoneRunnable(t *testing.T) {
	states := []domain.ThreadState{domain.Running}
	coop := []bool{false}
	now := time.Now()
	idx := scheduleIndices(states, coop, 0, []time.Time{now}, now, true)
	assert.Equal(t, -1, idx)
}

func TestSpawnKernelAssignsReservedAwareSlot(t *testing.T) {
	p := NewPool()
	done := make(chan struct{})
	tid, err := p.SpawnKernel(func() { close(done) })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(tid), 8)
	<-done
}

func TestScheduleBlockingWokenByWaker(t *testing.T) {
	p := NewPool()
	tid, err := p.SpawnSystem(func() {})
	require.NoError(t, err)

	woken := make(chan bool, 1)
	go func() {
		woken <- p.ScheduleBlockingTid(tid, time.Now().Add(5*time.Second))
	}()

	time.Sleep(10 * time.Millisecond)
	w := p.GetWakerForThread(tid)
	w.Wake()

	select {
	case ok := <-woken:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waker did not wake the blocked thread")
	}
}

func TestScheduleBlockingDeadlineExpires(t *testing.T) {
	p := NewPool()
	tid, err := p.SpawnSystem(func() {})
	require.NoError(t, err)

	ok := p.ScheduleBlockingTid(tid, time.Now().Add(20*time.Millisecond))
	assert.False(t, ok)
}

func TestSweepReclaimsTerminatedSlots(t *testing.T) {
	p := NewPool()
	done := make(chan struct{})
	tid, err := p.SpawnSystem(func() { <-done })
	require.NoError(t, err)
	p.MarkTerminated(tid)
	close(done)

	p.Sweep()
	assert.Equal(t, 1, p.ThreadCount()) // just the boot thread remains
}
