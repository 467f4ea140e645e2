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

// Package agent implements the client control agent shared by endnode and
// switch roles: the inbound dispatch table (spec.md §4.4), the three-phase
// wait (stop → reconfigure → start), and the busy-poll primitive both that
// wait and the traffic generator's precise-wait build on.
package agent

import (
	"fmt"

	"github.com/ida-tubs/rscmng/protocol"
)

// State is the client agent's coarse lifecycle state (spec.md §4.4).
type State uint8

// Recognized states.
const (
	StateIdle State = iota
	StateRegistered
	StateRunning
	StateReconfiguring
	StatePaused
	StateStopping
	StateExited
)

var stateNames = map[State]string{
	StateIdle:          "IDLE",
	StateRegistered:    "REGISTERED",
	StateRunning:       "RUNNING",
	StateReconfiguring: "RECONFIGURING",
	StatePaused:        "PAUSED",
	StateStopping:      "STOPPING",
	StateExited:        "EXITED",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Effect is a local effect the agent drives on a Target in response to an
// inbound command: start/stop/pause the traffic generator, or hand off a
// reconfiguration to it (and, for the switch role, to the external
// apply_mode effect instead).
type Effect uint8

// Recognized effects, matching the generator's control states (spec.md §4.7)
// plus STOP/PAUSE already named there.
const (
	EffectTransmission Effect = iota
	EffectTransmissionFinishObject
	EffectStop
	EffectPaused
	EffectReconfigure
)

// Target receives the agent's local effects. The endnode traffic generator
// and the switch's apply_mode wrapper both implement it.
type Target interface {
	// Notify applies effect. mode is the target mode for EffectReconfigure;
	// the generator also takes it as the mode to transmit in for
	// EffectTransmission and EffectTransmissionFinishObject.
	Notify(effect Effect, mode protocol.Mode)
}
