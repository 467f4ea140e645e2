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

// Package switchexec implements the switch client's local reconfiguration
// effect: a shell-out to apply a mode, treated as an opaque
// apply_mode(mode, experiment, counter) effect (spec.md §1 Non-goals, §4.5).
// The shell-out itself is grounded on responder/server/ip_freebsd.go's
// os/exec.Command usage.
package switchexec

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ida-tubs/rscmng/agent"
	"github.com/ida-tubs/rscmng/protocol"
)

// MinExpectedLinkMbps is the "100 Mb/s sentinel" named in spec.md §4.5.
const MinExpectedLinkMbps = 100

// Effector is the switch client's agent.Target: RECONFIGURE invokes
// apply_mode via an external script, everything else is a no-op since a
// switch client has no traffic generator of its own.
type Effector struct {
	ScriptPath string
	Experiment int

	counter int
}

// NewEffector constructs an Effector invoking scriptPath for every
// RECONFIGURE effect.
func NewEffector(scriptPath string, experiment int) *Effector {
	return &Effector{ScriptPath: scriptPath, Experiment: experiment}
}

// Notify implements agent.Target.
func (e *Effector) Notify(effect agent.Effect, mode protocol.Mode) {
	switch effect {
	case agent.EffectReconfigure:
		e.counter++
		if err := e.applyMode(mode); err != nil {
			log.Errorf("switchexec: apply_mode(%d, %d, %d) failed: %v", mode, e.Experiment, e.counter, err)
		}
	case agent.EffectTransmission, agent.EffectTransmissionFinishObject, agent.EffectStop, agent.EffectPaused:
		log.Debugf("switchexec: ignoring effect %d (no traffic generator on switch role)", effect)
	}
}

// applyMode shells out to ScriptPath with (mode, experiment, counter)
// arguments, the switch client's opaque effect (spec.md §4.5).
func (e *Effector) applyMode(mode protocol.Mode) error {
	cmd := exec.Command(e.ScriptPath, fmt.Sprintf("%d", uint8(mode)), fmt.Sprintf("%d", e.Experiment), fmt.Sprintf("%d", e.counter))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apply_mode script failed: %w (output: %s)", err, out)
	}
	log.Debugf("switchexec: apply_mode(%d, %d, %d): %s", mode, e.Experiment, e.counter, out)
	return nil
}

// ProbeLinkRate reports the current link speed (Mb/s) of iface, read from
// its sysfs "speed" attribute, logging a warning when it falls below
// MinExpectedLinkMbps (spec.md §4.5's startup diagnostic probe; supplemented
// from original_source, see SPEC_FULL.md §4). ok is false when the speed
// could not be determined (e.g. a non-Ethernet or virtual interface, or a
// link that is currently down).
func ProbeLinkRate(iface string) (mbps int, ok bool) {
	raw, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/speed", iface))
	if err != nil {
		log.Warningf("switchexec: could not read link speed for %s: %v", iface, err)
		return 0, false
	}

	speed, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || speed < 0 {
		log.Warningf("switchexec: interface %s reports no usable link speed", iface)
		return 0, false
	}

	if speed < MinExpectedLinkMbps {
		log.Warningf("switchexec: interface %s link speed %d Mb/s is below the expected %d Mb/s sentinel", iface, speed, MinExpectedLinkMbps)
	}
	return speed, true
}
