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

package rm

import (
	"net"
	"sync"

	"github.com/ida-tubs/rscmng/protocol"
)

// registration is one service's entry in the orchestrator's service table
// (spec.md §3: "a ServiceId may be owned by exactly one client; its
// registration record ... is inserted on first sync-request and is
// thereafter immutable w.r.t. owner").
type registration struct {
	ServiceID protocol.ServiceID
	ClientID  protocol.ClientID
	Addr      *net.UDPAddr
	// Last is the most recently received message for this service, retained
	// as the template for subsequent outgoing commands (spec.md §4.3).
	Last protocol.ControlMessage
	// Allocated mirrors the original's network_resource_request.allocated
	// bool: flipped the moment the orchestrator admits the service's first
	// SYNC_REQUEST (SPEC_FULL.md §4 — the reference never implements real
	// admission control beyond that, consistent with spec.md §1 Non-goals).
	Allocated bool
}

// MarkAllocated flips the registration's Allocated flag. Idempotent.
func (reg *registration) MarkAllocated() {
	reg.Allocated = true
}

// registry is the orchestrator's service table: a guarded map plus an
// insertion-order slice, since several orchestrator steps ("for each
// registered service in insertion order") depend on registration order.
type registry struct {
	mu      sync.Mutex
	byID    map[protocol.ServiceID]*registration
	ordered []protocol.ServiceID
}

func newRegistry() *registry {
	return &registry{byID: make(map[protocol.ServiceID]*registration)}
}

// register inserts serviceID on first sight, or refreshes the retained
// template message and address for an already-known service. The client
// owner, once set, never changes.
func (r *registry) register(serviceID protocol.ServiceID, clientID protocol.ClientID, addr *net.UDPAddr, msg protocol.ControlMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[serviceID]
	if !ok {
		reg = &registration{ServiceID: serviceID, ClientID: clientID, Addr: addr}
		reg.MarkAllocated()
		r.byID[serviceID] = reg
		r.ordered = append(r.ordered, serviceID)
	}
	reg.Last = msg
	reg.Addr = addr
}

// snapshot returns the current registrations in insertion order. The
// returned slice is a defensive copy; the *registration values themselves
// are accessed read-only by the scheduler, which owns the whole experiment's
// single active round (spec.md §3: "at most one outstanding reconfiguration
// round globally at any instant").
func (r *registry) snapshot() []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*registration, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.byID[id])
	}
	return out
}

// first returns an arbitrary registered service, used as the "reference
// service" choose_service_slot needs (spec.md §4.3 step 1); insertion order
// makes this deterministic.
func (r *registry) first() (*registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ordered) == 0 {
		return nil, false
	}
	return r.byID[r.ordered[0]], true
}
