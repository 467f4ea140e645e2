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

package agent

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ida-tubs/rscmng/metrics"
	"github.com/ida-tubs/rscmng/protocol"
)

// Sender transmits a ControlMessage to the orchestrator, the subset of
// transport.Control the agent needs.
type Sender interface {
	Send(msg protocol.ControlMessage, raddr *net.UDPAddr) error
}

// Agent is the client-side control handler shared by endnode and switch
// roles (spec.md §4.4, §4.5). It owns the per-client State and dispatches
// inbound ControlMessages to a Target.
type Agent struct {
	ClientID protocol.ClientID
	RMAddr   *net.UDPAddr

	sender Sender
	target Target
	stats  *metrics.Stats
	clock  func() time.Time

	mu    sync.Mutex
	state State

	stopRequested bool
}

// New constructs an Agent. Its clock is time.Now; tests in this package
// override the clock field directly.
func New(clientID protocol.ClientID, rmAddr *net.UDPAddr, sender Sender, target Target, stats *metrics.Stats) *Agent {
	return &Agent{
		ClientID: clientID,
		RMAddr:   rmAddr,
		sender:   sender,
		target:   target,
		stats:    stats,
		clock:    time.Now,
		state:    StateIdle,
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// RequestStop tells any in-progress busy-wait (three-phase wait only; the
// generator's own precise-wait is governed separately) to abandon as soon
// as it next polls.
func (a *Agent) RequestStop() {
	a.mu.Lock()
	a.stopRequested = true
	a.mu.Unlock()
}

func (a *Agent) stopping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopRequested
}

// Dispatch handles one inbound ControlMessage, implementing the transition
// table of spec.md §4.4.
func (a *Agent) Dispatch(msg protocol.ControlMessage, addr *net.UDPAddr) {
	if a.stats != nil {
		a.stats.Inc("rx." + msg.Kind.String())
	}

	switch msg.Kind {
	case protocol.RMClientStart:
		a.target.Notify(EffectTransmission, msg.Mode)
		a.setState(StateRunning)

	case protocol.RMClientStop:
		a.target.Notify(EffectStop, msg.Mode)
		a.setState(StateStopping)
		a.ack(protocol.RMClientSyncReceive, msg)

	case protocol.RMClientPause:
		a.target.Notify(EffectPaused, msg.Mode)
		a.setState(StatePaused)
		a.ack(protocol.RMClientSyncReceive, msg)

	case protocol.RMClientReconfigure, protocol.RMClientReconfigureHW:
		a.handleImmediateReconfigure(msg)

	case protocol.RMClientSyncTimestampStart:
		a.handleSyncTimestampStart(msg)

	case protocol.RMClientSyncTimestampStop:
		a.handleSyncTimestampStop(msg)

	case protocol.RMClientSyncTimestampPause:
		a.handleSyncTimestampPause(msg)

	case protocol.RMClientSyncTimestampReconfigure, protocol.RMClientSyncTimestampReconfigureHW,
		protocol.RMClientSyncTimestampReconfigureSyncObjectHW:
		a.handleThreePhaseReconfigure(msg)

	case protocol.RMClientSyncTimestampReconfigureSoft:
		a.handleSoftReconfigure(msg)

	case protocol.RMClientExit, protocol.RMClientSyncTimestampExit:
		a.target.Notify(EffectStop, msg.Mode)
		a.setState(StateExited)
		a.ack(protocol.RMClientSyncReceive, msg)

	default:
		log.Debugf("agent %d: ignoring message kind %s", a.ClientID, msg.Kind)
	}
}

func (a *Agent) handleImmediateReconfigure(msg protocol.ControlMessage) {
	a.ack(protocol.RMClientSyncReceive, msg)
	a.target.Notify(EffectReconfigure, msg.Mode)
	a.setState(StateRunning)
	a.ack(protocol.RMClientSyncReconfigureDone, msg)
}

func (a *Agent) handleSyncTimestampStart(msg protocol.ControlMessage) {
	payload, ok := a.decodePayload(msg)
	if !ok {
		return
	}
	a.ack(protocol.RMClientSyncReceive, msg)
	if !a.waitUntilTimestamp(payload.TimestampStart) {
		return
	}
	a.target.Notify(EffectTransmission, msg.Mode)
	a.setState(StateRunning)
}

func (a *Agent) handleSyncTimestampStop(msg protocol.ControlMessage) {
	payload, ok := a.decodePayload(msg)
	if !ok {
		return
	}
	a.ack(protocol.RMClientSyncReceive, msg)
	if !a.waitUntilTimestamp(payload.TimestampStop) {
		return
	}
	a.target.Notify(EffectStop, msg.Mode)
	a.setState(StateStopping)
}

func (a *Agent) handleSyncTimestampPause(msg protocol.ControlMessage) {
	payload, ok := a.decodePayload(msg)
	if !ok {
		return
	}
	a.ack(protocol.RMClientSyncReceive, msg)
	if !a.waitUntilTimestamp(payload.TimestampStop) {
		return
	}
	a.target.Notify(EffectPaused, msg.Mode)
	a.setState(StatePaused)
}

// handleThreePhaseReconfigure runs the core three-phase wait of spec.md
// §4.4: validate, wait-to-stop, wait-to-reconfigure, wait-to-start.
//
// SYNC_RECONFIGURE_DONE is sent unconditionally once the round has been
// accepted, even when it aborts on a stale timestamp or a stop request
// mid-wait: the reference dispatch loop acks DONE regardless of how the
// reconfigure handler exits (spec.md §8 invariant #2, Scenario C).
func (a *Agent) handleThreePhaseReconfigure(msg protocol.ControlMessage) {
	payload, ok := a.decodePayload(msg)
	if !ok {
		return
	}
	a.ack(protocol.RMClientSyncReceive, msg)
	defer a.ack(protocol.RMClientSyncReconfigureDone, msg)

	now := protocol.NewTimestamp(a.clock())
	if !validTimestamp(payload.TimestampStop, now) ||
		!validTimestamp(payload.TimestampRecon, now) ||
		!validTimestamp(payload.TimestampStart, now) {
		log.Warningf("agent %d: timestamps invalid, aborting reconfiguration round", a.ClientID)
		return
	}

	a.setState(StateReconfiguring)

	if !payload.TimestampStop.Empty() {
		if !a.waitUntilTimestamp(payload.TimestampStop) {
			return
		}
		a.target.Notify(EffectPaused, msg.Mode)
	}

	if !a.waitUntilTimestamp(payload.TimestampRecon) {
		return
	}
	a.target.Notify(EffectReconfigure, msg.Mode)

	if !payload.TimestampStart.Empty() {
		if !a.waitUntilTimestamp(payload.TimestampStart) {
			return
		}
		a.target.Notify(EffectTransmission, msg.Mode)
	}

	a.setState(StateRunning)
}

// handleSoftReconfigure is ACK-only: spec.md §9 resolves its own table/open-
// question tension in the open question itself ("the spec treats it as
// ACK-only to match the reference"), so this drives no generator state
// change — see DESIGN.md.
func (a *Agent) handleSoftReconfigure(msg protocol.ControlMessage) {
	a.ack(protocol.RMClientSyncReceive, msg)
	a.ack(protocol.RMClientSyncReconfigureDone, msg)
}

func (a *Agent) decodePayload(msg protocol.ControlMessage) (protocol.RMPayload, bool) {
	payload, err := protocol.DeserializeRMPayload(msg.Payload)
	if err != nil {
		log.Warningf("agent %d: dropping control message with bad payload: %v", a.ClientID, err)
		return protocol.RMPayload{}, false
	}
	if err := payload.ValidateDeadlines(); err != nil {
		log.Warningf("agent %d: dropping control message with invalid deadlines: %v", a.ClientID, err)
		return protocol.RMPayload{}, false
	}
	return payload, true
}

func (a *Agent) waitUntilTimestamp(ts protocol.Timestamp) bool {
	if ts.Empty() {
		return true
	}
	BusyWaitUntil(ts.Time(), a.clock, a.stopping)
	return !a.stopping()
}

func (a *Agent) ack(kind protocol.Kind, req protocol.ControlMessage) {
	ack := protocol.ControlMessage{
		Kind:          kind,
		SourceID:      a.ClientID,
		DestinationID: req.SourceID,
		ServiceID:     req.ServiceID,
		Mode:          req.Mode,
		SendTimePoint: protocol.NewTimestamp(a.clock()),
		ProtocolID:    protocol.ProtocolRM,
	}
	if err := a.sender.Send(ack, a.RMAddr); err != nil {
		log.Warningf("agent %d: failed to send %s: %v", a.ClientID, kind, err)
		return
	}
	if a.stats != nil {
		a.stats.Inc("tx." + kind.String())
	}
}
