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

// Package timer implements the absolute-deadline timer manager the
// orchestrator uses to schedule its initial start, mode-change and stop
// phases (clients busy-wait instead). It
// is a heap-ordered event queue driven by a single worker goroutine, the Go
// analogue of the boost::asio-based TimerManager in the reference
// implementation (register/cancel, UUID-keyed entries, optional repeat).
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// entry is one scheduled timer, ordered in the heap by When then seq (stable
// tie-break), the same shape as doublezerod's liveness.event.
type entry struct {
	id       uuid.UUID
	when     time.Time
	interval time.Duration
	repeat   bool
	fn       func()
	seq      uint64
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Manager is the timer registry: register/cancel keyed by UUID, a single
// worker goroutine firing callbacks at their absolute deadline.
type Manager struct {
	mu      sync.Mutex
	pq      entryHeap
	byID    map[uuid.UUID]*entry
	seq     uint64
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewManager constructs an idle Manager; call Start to begin firing timers.
func NewManager() *Manager {
	h := entryHeap{}
	heap.Init(&h)
	return &Manager{
		pq:   h,
		byID: make(map[uuid.UUID]*entry),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts the worker goroutine and waits for it to exit. Pending timers
// are discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.stop)
	m.wg.Wait()
}

// Register schedules fn to run at when. If repeat is true, fn is rescheduled
// at when+interval after each firing until Cancel(id) is called — the
// registerTimer/repeat semantics of the reference TimerManager.
func (m *Manager) Register(id uuid.UUID, when time.Time, interval time.Duration, repeat bool, fn func()) {
	m.mu.Lock()
	m.seq++
	e := &entry{id: id, when: when, interval: interval, repeat: repeat, fn: fn, seq: m.seq}
	if old, ok := m.byID[id]; ok {
		old.canceled = true
	}
	m.byID[id] = e
	heap.Push(&m.pq, e)
	m.mu.Unlock()
	m.nudge()
}

// Cancel marks id's timer (and any repeat chain) as canceled. It is
// idempotent and safe to call for an id that already fired or was never
// registered.
func (m *Manager) Cancel(id uuid.UUID) {
	m.mu.Lock()
	if e, ok := m.byID[id]; ok {
		e.canceled = true
		delete(m.byID, id)
	}
	m.mu.Unlock()
}

// Pending reports how many live (non-canceled) timers remain registered.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	t := time.NewTimer(time.Hour)
	defer t.Stop()

	for {
		m.mu.Lock()
		var wait time.Duration
		var due *entry
		for m.pq.Len() > 0 {
			next := m.pq[0]
			if next.canceled {
				heap.Pop(&m.pq)
				continue
			}
			if d := time.Until(next.when); d <= 0 {
				due = heap.Pop(&m.pq).(*entry)
			} else {
				wait = d
			}
			break
		}
		m.mu.Unlock()

		if due != nil {
			m.fire(due)
			continue
		}

		if wait <= 0 {
			wait = time.Hour
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(wait)

		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-t.C:
		}
	}
}

func (m *Manager) fire(e *entry) {
	if e.canceled {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("timer %s callback panicked: %v", e.id, r)
			}
		}()
		e.fn()
	}()

	if !e.repeat {
		m.mu.Lock()
		delete(m.byID, e.id)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if cur, ok := m.byID[e.id]; !ok || cur != e {
		m.mu.Unlock()
		return
	}
	m.seq++
	next := &entry{id: e.id, when: e.when.Add(e.interval), interval: e.interval, repeat: true, fn: e.fn, seq: m.seq}
	m.byID[e.id] = next
	heap.Push(&m.pq, next)
	m.mu.Unlock()
	m.nudge()
}
