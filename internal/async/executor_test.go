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

package async

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/netoneko/akuma/domain"
	"github.com/netoneko/akuma/internal/scheduler"
	"github.com/netoneko/akuma/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitReturnsImmediatelyWhenPredicateAlreadyTrue(t *testing.T) {
	sched := scheduler.NewPool()
	tid, err := sched.SpawnSystem(func() {})
	require.NoError(t, err)

	err = Await(sched, tid, func() bool { return true }, func(domain.Waker) {}, time.Time{})
	assert.NoError(t, err)
}

func TestAwaitWakesWhenWakerFires(t *testing.T) {
	sched := scheduler.NewPool()

	var ready int32
	tidCh := make(chan domain.ThreadID, 1)
	waitersCh := make(chan domain.Waker, 1)
	done := make(chan error, 1)

	tid, err := sched.SpawnSystem(func() {
		self := <-tidCh
		done <- Await(sched, self, func() bool { return atomic.LoadInt32(&ready) == 1 }, func(w domain.Waker) {
			waitersCh <- w
		}, time.Time{})
	})
	require.NoError(t, err)
	tidCh <- tid

	waker := <-waitersCh
	atomic.StoreInt32(&ready, 1)
	waker.Wake()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after waker fired")
	}
}

func TestAwaitTimesOutWithErrAgain(t *testing.T) {
	sched := scheduler.NewPool()
	tid, err := sched.SpawnSystem(func() {})
	require.NoError(t, err)
	deadline := time.Now().Add(20 * time.Millisecond)

	err = Await(sched, tid, func() bool { return false }, func(domain.Waker) {}, deadline)
	assert.Error(t, err)
}

func TestIdleLoopDrivesSchedulerAndTimer(t *testing.T) {
	sched := scheduler.NewPool()
	clock := timer.New()

	stop := make(chan struct{})
	go IdleLoop(sched, clock, 5*time.Millisecond, stop)

	time.Sleep(25 * time.Millisecond)
	close(stop)
}
