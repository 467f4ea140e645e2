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

// Package rm implements the central orchestrator (spec.md §4.3): the
// registration table, the receive/dispatch loop, and the experiment
// schedule (boot, start, iterated mode changes, stop). Grounded on
// ptp4u/server's listener-plus-worker split, adapted from a fan-out of
// identical workers to a single ordered dispatch loop this protocol
// requires (at most one outstanding reconfiguration round globally,
// spec.md §3).
package rm

import (
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/metrics"
	"github.com/ida-tubs/rscmng/protocol"
	"github.com/ida-tubs/rscmng/timer"
)

// Sender is the subset of transport.Control the orchestrator needs, broken
// out so tests can substitute a recorder.
type Sender interface {
	Send(msg protocol.ControlMessage, raddr *net.UDPAddr) error
}

type inbound struct {
	msg  protocol.ControlMessage
	addr *net.UDPAddr
}

// Orchestrator runs the experiment life-cycle described in spec.md §4.3.
type Orchestrator struct {
	cfg     *config.Config
	sender  Sender
	timers  *timer.Manager
	stats   *metrics.Stats
	clock   func() time.Time
	rng     *rand.Rand
	clients ClientDirectory

	services *registry
	queue    chan inbound
	done     chan struct{}

	activeTimestampLast protocol.Timestamp
}

// ClientDirectory resolves a client's control-plane address, used when the
// orchestrator must reach a client before it has ever sent a message (none
// of the core flows need this; it exists for completeness against
// spec.md's data model, which treats UnitSettings' control address as
// externally known configuration).
type ClientDirectory interface {
	ControlAddr(clientID protocol.ClientID) (*net.UDPAddr, bool)
}

// New constructs an Orchestrator. Its clock is time.Now.
func New(cfg *config.Config, sender Sender, timers *timer.Manager, stats *metrics.Stats, clients ClientDirectory) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sender:   sender,
		timers:   timers,
		stats:    stats,
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		clients:  clients,
		services: newRegistry(),
		queue:    make(chan inbound, 256),
		done:     make(chan struct{}),
	}
}

// Enqueue is the orchestrator's transport.Handler: it pushes one inbound
// message onto the dispatch queue (spec.md §4.3's receive loop) without
// blocking the caller on dispatch work.
func (o *Orchestrator) Enqueue(msg protocol.ControlMessage, addr *net.UDPAddr) {
	select {
	case o.queue <- inbound{msg: msg, addr: addr}:
	case <-o.done:
	}
}

// Start launches the dispatch loop and the timer manager, then registers the
// boot schedule (spec.md §4.3: "on construction, register a one-shot timer
// for now + client_init_time firing initial_start_handler"). Start does not
// block; run Serve on the caller's transport.Control separately, with
// Enqueue as its handler.
func (o *Orchestrator) Start() {
	o.timers.Start()
	go o.dispatchLoop()

	bootAt := o.clock().Add(time.Duration(o.cfg.Experiment.ClientInitTimeMS) * time.Millisecond)
	o.timers.Register(uuid.New(), bootAt, 0, false, o.initialStartHandler)
}

// Stop halts the dispatch loop and the timer manager.
func (o *Orchestrator) Stop() {
	close(o.done)
	o.timers.Stop()
}

// dispatchLoop dequeues inbound messages and branches on kind (spec.md
// §4.3's "second dispatch loop").
func (o *Orchestrator) dispatchLoop() {
	for {
		select {
		case in := <-o.queue:
			o.handle(in.msg, in.addr)
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) handle(msg protocol.ControlMessage, addr *net.UDPAddr) {
	if o.stats != nil {
		o.stats.Inc("rx." + msg.Kind.String())
	}
	switch msg.Kind {
	case protocol.RMClientSyncRequest:
		o.services.register(msg.ServiceID, msg.SourceID, addr, msg)
		log.Debugf("rm: registered service %d for client %d", msg.ServiceID, msg.SourceID)
	case protocol.RMClientSyncReceive:
		log.Debugf("rm: client %d acked receipt for service %d", msg.SourceID, msg.ServiceID)
	case protocol.RMClientSyncReconfigureDone:
		log.Debugf("rm: client %d completed reconfiguration for service %d", msg.SourceID, msg.ServiceID)
	case protocol.RMClientRelease:
		// spec §9 open question: the reference never removes a service
		// registration on RELEASE. Accepted and logged only.
		log.Debugf("rm: received release for service %d (no-op, service stays registered)", msg.ServiceID)
	default:
		log.Debugf("rm: ignoring message kind %s from client %d", msg.Kind, msg.SourceID)
	}
}

func (o *Orchestrator) send(kind protocol.Kind, dest *registration, mode protocol.Mode, payload []byte) {
	msg := protocol.ControlMessage{
		Kind:          kind,
		SourceID:      protocol.ClientID(0),
		DestinationID: dest.ClientID,
		ServiceID:     dest.ServiceID,
		Mode:          mode,
		SendTimePoint: protocol.NewTimestamp(o.clock()),
		ProtocolID:    protocol.ProtocolRM,
		Payload:       payload,
	}
	if err := o.sender.Send(msg, dest.Addr); err != nil {
		log.Warningf("rm: failed to send %s to client %d: %v", kind, dest.ClientID, err)
		return
	}
	if o.stats != nil {
		o.stats.Inc("tx." + kind.String())
	}
}
