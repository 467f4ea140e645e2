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

// Package generator implements the per-service paced traffic generator
// (spec.md §4.7): one goroutine per service, synchronized only through a
// (mutex, condition) pair guarding its control state, emitting fragmented
// "objects" at a configured deadline cadence to a per-mode destination.
// Grounded on the mutex+sync.Cond producer/consumer shape in
// malbeclabs-doublezero's telemetry buffer.MemoryBuffer.
package generator

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ida-tubs/rscmng/agent"
	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/protocol"
)

// ControlState is the generator's wait predicate value (spec.md §4.7 step 1).
type ControlState uint8

// Recognized control states.
const (
	StateIdle ControlState = iota
	StateTransmission
	StateTransmissionFinishObject
	StatePaused
	StateStop
)

// Sender transmits one data-plane datagram. *net.UDPConn satisfies it via
// WriteTo; tests supply a fake.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// SettingsResolver looks up a service's per-mode settings, the generator's
// view onto config.ServiceSettings.
type SettingsResolver func(mode protocol.Mode) (config.ModeServiceSettings, error)

// Generator drives one service's traffic. It implements agent.Target so the
// control agent can notify it of START/STOP/PAUSE/RECONFIGURE without
// knowing anything about pacing.
type Generator struct {
	ServiceID protocol.ServiceID
	SourceID  protocol.ClientID

	sender   Sender
	settings SettingsResolver
	clock    func() time.Time

	// AsyncModeChange enables the "asynchronous-mode variant" of spec.md
	// §4.7: mode changes are also checked inside the fragment loop, not
	// only at object boundaries.
	AsyncModeChange bool

	mu            sync.Mutex
	cond          *sync.Cond
	state         ControlState
	currentMode   protocol.Mode
	requestedMode protocol.Mode
	newAnchor     *time.Time

	objectNumber uint32
}

// New constructs a Generator bound to sender for data-plane sends, using
// settings to resolve per-mode ServiceSettings. clock defaults to time.Now.
func New(serviceID protocol.ServiceID, sourceID protocol.ClientID, sender Sender, settings SettingsResolver) *Generator {
	g := &Generator{
		ServiceID: serviceID,
		SourceID:  sourceID,
		sender:    sender,
		settings:  settings,
		clock:     time.Now,
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Notify implements agent.Target. It updates the control state under lock
// and wakes the generator loop.
func (g *Generator) Notify(effect agent.Effect, mode protocol.Mode) {
	g.mu.Lock()
	switch effect {
	case agent.EffectTransmission:
		g.state = StateTransmission
		g.requestedMode = mode
	case agent.EffectTransmissionFinishObject:
		g.state = StateTransmissionFinishObject
		g.requestedMode = mode
	case agent.EffectStop:
		g.state = StateStop
	case agent.EffectPaused:
		g.state = StatePaused
	case agent.EffectReconfigure:
		g.requestedMode = mode
		if g.AsyncModeChange {
			// Asynchronous variant: the mode switch is observed inline by
			// the fragment loop without forcing an object boundary.
		} else {
			g.state = StateTransmissionFinishObject
		}
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// SetPeriodAnchor re-anchors the inter-object period clock: the next object
// that Run starts uses t as its period anchor. Nothing in this repository
// calls it.
func (g *Generator) SetPeriodAnchor(t time.Time) {
	g.mu.Lock()
	g.newAnchor = &t
	g.mu.Unlock()
}

// waitForTransmittableState blocks on the condition until state is
// TRANSMISSION or TRANSMISSION_FINISH_OBJECT, or until STOP. Returns false
// if the generator should terminate.
func (g *Generator) waitForTransmittableState() (ControlState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.state != StateTransmission && g.state != StateTransmissionFinishObject && g.state != StateStop {
		g.cond.Wait()
	}
	return g.state, g.state != StateStop
}

// Run executes the generator main loop (spec.md §4.7) until Notify(STOP) is
// observed. One loop iteration emits one object.
func (g *Generator) Run() {
	anchor := g.clock()
	for {
		if _, ok := g.waitForTransmittableState(); !ok {
			return
		}

		g.mu.Lock()
		if g.requestedMode != g.currentMode {
			g.currentMode = g.requestedMode
		}
		mode := g.currentMode
		if g.newAnchor != nil {
			anchor = *g.newAnchor
			g.newAnchor = nil
		}
		g.mu.Unlock()

		settings, err := g.settings(mode)
		if err != nil {
			log.Errorf("generator %d/%d: no settings for mode %v: %v", g.SourceID, g.ServiceID, mode, err)
			return
		}

		dest := &net.UDPAddr{IP: net.ParseIP(settings.IP), Port: settings.Port}
		objectSizeBytes := settings.ObjectSizeKB * 1024

		totalFragments := protocol.TotalFragments(objectSizeBytes)
		for fragNum := uint32(0); fragNum < totalFragments; fragNum++ {
			if _, ok := g.waitForTransmittableState(); !ok {
				return
			}

			if g.AsyncModeChange {
				g.mu.Lock()
				if g.requestedMode != g.currentMode {
					g.currentMode = g.requestedMode
					mode = g.currentMode
					g.mu.Unlock()
					newSettings, err := g.settings(mode)
					if err != nil {
						log.Errorf("generator %d/%d: no settings for mode %v: %v", g.SourceID, g.ServiceID, mode, err)
						return
					}
					settings = newSettings
					dest = &net.UDPAddr{IP: net.ParseIP(settings.IP), Port: settings.Port}
					objectSizeBytes = settings.ObjectSizeKB * 1024
					totalFragments = protocol.TotalFragments(objectSizeBytes)
					fragNum = 0
				} else {
					g.mu.Unlock()
				}
			}

			payloadSize := protocol.FragmentPayloadSize(objectSizeBytes, int(fragNum))
			now := protocol.NewTimestamp(g.clock())
			msg := protocol.DataMessage{
				Priority:       uint8(settings.Priority),
				SourceID:       g.SourceID,
				ServiceID:      g.ServiceID,
				ObjectNumber:   g.objectNumber,
				FragmentNumber: fragNum,
				TotalFragments: totalFragments,
				Timestamp:      now,
				SendTimePoint:  now,
				Payload:        protocol.FillerPayload(payloadSize),
			}
			raw, err := msg.Bytes()
			if err != nil {
				log.Errorf("generator %d/%d: failed to encode fragment: %v", g.SourceID, g.ServiceID, err)
				continue
			}
			if _, err := g.sender.WriteTo(raw, dest); err != nil {
				log.Warningf("generator %d/%d: send failed: %v", g.SourceID, g.ServiceID, err)
			}

			agent.BusyWaitFor(time.Duration(settings.InterPacketGapUS)*time.Microsecond, g.clock)

			if g.shouldStop() {
				return
			}
		}

		target := anchor.Add(time.Duration(settings.DeadlineMS) * time.Millisecond)
		agent.BusyWaitUntil(target, g.clock, g.finishedObjectEarly)
		anchor = target
		g.objectNumber++
	}
}

func (g *Generator) shouldStop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateStop
}

// finishedObjectEarly is the inter-object wait's early-exit predicate: a
// TRANSMISSION_FINISH_OBJECT notification lets a reconfiguration cut the
// wait short (spec.md §4.7 step 4).
func (g *Generator) finishedObjectEarly() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateTransmissionFinishObject || g.state == StateStop
}

// ResolveFromServiceSettings adapts a config.ServiceSettings into a
// SettingsResolver keyed by wire Mode.
func ResolveFromServiceSettings(svc config.ServiceSettings) SettingsResolver {
	return func(mode protocol.Mode) (config.ModeServiceSettings, error) {
		m, ok := svc.Modes[fmt.Sprintf("%d", uint8(mode))]
		if !ok {
			return config.ModeServiceSettings{}, fmt.Errorf("service %d has no settings for mode %d", svc.ServiceID, mode)
		}
		return m, nil
	}
}
