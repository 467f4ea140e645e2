/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestManagerFiresAtDeadline(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	m.Register(uuid.New(), start.Add(50*time.Millisecond), 0, false, func() {
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		require.WithinDuration(t, start.Add(50*time.Millisecond), at, 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestManagerCancelPreventsFiring(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	id := uuid.New()
	var fired atomic.Bool
	m.Register(id, time.Now().Add(30*time.Millisecond), 0, false, func() {
		fired.Store(true)
	})
	m.Cancel(id)

	time.Sleep(100 * time.Millisecond)
	require.False(t, fired.Load())
	require.Equal(t, 0, m.Pending())
}

func TestManagerRepeatReschedules(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	id := uuid.New()
	var count atomic.Int32
	m.Register(id, time.Now().Add(10*time.Millisecond), 20*time.Millisecond, true, func() {
		count.Add(1)
	})

	time.Sleep(150 * time.Millisecond)
	m.Cancel(id)
	require.GreaterOrEqual(t, int(count.Load()), 3)
}

func TestManagerPendingCount(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	id1, id2 := uuid.New(), uuid.New()
	m.Register(id1, time.Now().Add(time.Hour), 0, false, func() {})
	m.Register(id2, time.Now().Add(time.Hour), 0, false, func() {})
	require.Equal(t, 2, m.Pending())

	m.Cancel(id1)
	require.Equal(t, 1, m.Pending())
}

func TestManagerReRegisterSameIDSupersedesOld(t *testing.T) {
	m := NewManager()
	m.Start()
	defer m.Stop()

	id := uuid.New()
	var firstFired, secondFired atomic.Bool
	m.Register(id, time.Now().Add(20*time.Millisecond), 0, false, func() { firstFired.Store(true) })
	m.Register(id, time.Now().Add(200*time.Millisecond), 0, false, func() { secondFired.Store(true) })

	time.Sleep(60 * time.Millisecond)
	require.False(t, firstFired.Load())
	require.False(t, secondFired.Load())

	time.Sleep(200 * time.Millisecond)
	require.True(t, secondFired.Load())
}
