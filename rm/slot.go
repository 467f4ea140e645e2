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
	"time"

	"github.com/ida-tubs/rscmng/config"
)

// slotDuration is hyperperiod_duration / hyperperiod_slots (spec.md §4.6).
func slotDuration(exp config.ExperimentParameter) time.Duration {
	if exp.HyperperiodSlots <= 0 {
		return ms(exp.HyperperiodDurationMS)
	}
	return time.Duration(exp.HyperperiodDurationMS/exp.HyperperiodSlots) * time.Millisecond
}

// chooseServiceSlot implements spec.md §4.6: given the reference service's
// configured slot offset for networkMode, walk slot boundaries of width
// slotDuration until the offset falls inside one, and return its 1-based
// index.
func chooseServiceSlot(cfg *config.Config, networkMode uint8, ref *registration) int {
	svc, ok := cfg.ServiceByID(uint64(ref.ServiceID))
	serviceOffsetMS := 0
	if ok {
		if offset, err := svc.SlotOffsetInMode(networkMode); err == nil {
			serviceOffsetMS = offset
		}
	}

	duration := slotDuration(cfg.Experiment)
	test := duration
	slot := 1
	for ms(serviceOffsetMS) >= test {
		test += duration
		slot++
	}
	return slot
}

// slotOffsetFromSlot returns the time offset, from the start of the
// hyperperiod, at which slot begins (spec.md §4.6's boundary rule): when
// slot+1 >= hyperperiod_slots the chosen slot runs to the end of the
// hyperperiod, so the offset wraps to the next hyperperiod's start
// (hyperperiod_duration) rather than landing inside this one.
func slotOffsetFromSlot(cfg *config.Config, slot int) time.Duration {
	if slot+1 >= cfg.Experiment.HyperperiodSlots {
		return ms(cfg.Experiment.HyperperiodDurationMS)
	}
	return time.Duration(slot) * slotDuration(cfg.Experiment)
}
