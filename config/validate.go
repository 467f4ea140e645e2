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

package config

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Validate checks the loaded config for the conditions the orchestrator and
// clients assume hold (spec.md §3 invariants), logging each section it
// checks at debug level the way ntp/responder/server/config.go's Validate
// does for its own fields. This diagnostic pass has no counterpart in the
// reference implementation, which silently misbehaves on malformed config
// (see SPEC_FULL.md §4).
func (c *Config) Validate() error {
	log.Debugf("validating unit settings for host %q", c.Unit.HostName)
	if c.Unit.HostName == "" {
		return fmt.Errorf("UNIT_SETTINGS.host_name is required")
	}
	if c.Unit.RMIP == "" || c.Unit.RMPort == 0 {
		return fmt.Errorf("UNIT_SETTINGS.rm_ip/rm_port must be set")
	}

	log.Debugf("validating %d service settings entries", len(c.Services))
	for key, svc := range c.Services {
		if len(svc.Modes) == 0 {
			return fmt.Errorf("SERVICE_SETTINGS[%s] has no mode entries", key)
		}
		for mode, ms := range svc.Modes {
			if ms.ObjectSizeKB <= 0 {
				return fmt.Errorf("SERVICE_SETTINGS[%s].modes[%s].object_size_kb must be positive", key, mode)
			}
			if ms.SlotLengthMS <= 0 {
				return fmt.Errorf("SERVICE_SETTINGS[%s].modes[%s].slot_length_ms must be positive", key, mode)
			}
		}
	}

	log.Debugf("validating experiment settings")
	e := c.Experiment
	if e.HyperperiodDurationMS <= 0 {
		return fmt.Errorf("EXPERIMENT_SETTINGS.hyperperiod_duration_ms must be positive")
	}
	if e.HyperperiodSlots <= 0 {
		return fmt.Errorf("EXPERIMENT_SETTINGS.hyperperiod_slots must be positive")
	}
	if e.ExperimentIterations < 0 {
		return fmt.Errorf("EXPERIMENT_SETTINGS.experiment_iterations must not be negative")
	}
	if e.InterMCGapMinMS > e.InterMCGapMaxMS {
		return fmt.Errorf("EXPERIMENT_SETTINGS.inter_mc_gap_min_ms (%d) exceeds inter_mc_gap_max_ms (%d)", e.InterMCGapMinMS, e.InterMCGapMaxMS)
	}

	return nil
}
