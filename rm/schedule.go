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

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ida-tubs/rscmng/protocol"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// initialStartHandler fires once at boot (spec.md §4.3), choosing between
// the synchronous and asynchronous start paths, then schedules the first
// experimentModeChange round.
func (o *Orchestrator) initialStartHandler() {
	now := o.clock()

	if o.cfg.Experiment.SynchronousStartMode {
		startTS := protocol.NewTimestamp(protocol.RoundUpToNextSecond(now)).Add(ms(o.cfg.Experiment.MCDistributionPhaseMS))
		for _, reg := range o.services.snapshot() {
			startupMode := o.startupModeFor(reg)
			slotOffsetMS := o.slotOffsetForStartup(reg, startupMode)
			perClientTS := startTS.Add(ms(slotOffsetMS))

			payload, err := protocol.RMPayload{
				TimestampStart: perClientTS,
				Command:        protocol.CommandSyncTimestampStart,
			}.Serialize()
			if err != nil {
				log.Errorf("rm: encoding initial start payload for service %d: %v", reg.ServiceID, err)
				continue
			}
			o.send(protocol.RMClientSyncTimestampStart, reg, protocol.Mode(startupMode), payload)
			o.activeTimestampLast = perClientTS
		}
	} else {
		for _, reg := range o.services.snapshot() {
			o.send(protocol.RMClientStart, reg, protocol.Mode(o.startupModeFor(reg)), nil)
		}
	}

	beginAt := now.Add(ms(o.cfg.Experiment.ExperimentBeginOffsetMS))
	o.timers.Register(uuid.New(), beginAt, 0, false, o.experimentModeChange)
}

// startupModeFor resolves spec.md §3's startup_mode_map[startup_mode][client]
// for reg's client, falling back to the experiment's global startup_mode
// when no per-client override exists (config.ExperimentParameter.StartupModeFor).
func (o *Orchestrator) startupModeFor(reg *registration) uint8 {
	return o.cfg.Experiment.StartupModeFor(uint32(o.cfg.Experiment.StartupMode), uint32(reg.ClientID))
}

// slotOffsetForStartup looks up a service's slot offset in its resolved
// startup mode, defaulting to 0 when no configuration entry is found.
func (o *Orchestrator) slotOffsetForStartup(reg *registration, startupMode uint8) int {
	svc, ok := o.cfg.ServiceByID(uint64(reg.ServiceID))
	if !ok {
		return 0
	}
	offset, err := svc.SlotOffsetInMode(startupMode)
	if err != nil {
		return 0
	}
	return offset
}

// experimentModeChange is the core loop (spec.md §4.3): for each iteration
// and each configured network mode, compute and distribute the next
// reconfiguration round, then pace by a random inter-mc gap.
func (o *Orchestrator) experimentModeChange() {
	for iter := 0; iter < o.cfg.Experiment.ExperimentIterations; iter++ {
		for _, networkMode := range o.cfg.Experiment.ReconfigurationOrder {
			o.runModeChangeRound(networkMode)
			time.Sleep(o.randomInterMCGap())
		}
	}

	endAt := o.clock().Add(ms(o.cfg.Experiment.ExperimentEndOffsetMS))
	o.timers.Register(uuid.New(), endAt, 0, false, o.stoppingExperiment)
}

// runModeChangeRound distributes one reconfiguration round for networkMode
// across every registered service, choosing the synchronous, asynchronous,
// or hybrid variant per spec.md §4.3.
func (o *Orchestrator) runModeChangeRound(networkMode uint8) {
	now := o.clock()

	asynchronous := !o.cfg.Experiment.SynchronousStartMode && !o.cfg.Experiment.HybridReconfiguration
	if asynchronous {
		for _, reg := range o.services.snapshot() {
			configuredMode, ok := o.cfg.Experiment.ConfiguredModeFor(uint32(networkMode), uint32(reg.ClientID))
			if !ok {
				continue
			}
			o.send(protocol.RMClientReconfigureHW, reg, protocol.Mode(configuredMode), nil)
		}
		return
	}

	var mcBegin protocol.Timestamp
	if o.cfg.Experiment.HybridReconfiguration {
		mcBegin = protocol.NewTimestamp(now.Add(ms(o.cfg.Experiment.MCDistributionPhaseMS)))
	} else {
		ref, ok := o.services.first()
		if !ok {
			log.Warningf("rm: no registered services, skipping mode change round for mode %d", networkMode)
			return
		}
		mcBegin = o.computeHyperperiodAlignedBegin(now, networkMode, ref)
	}

	var tsStop, tsRecon, tsStart protocol.Timestamp
	if o.cfg.Experiment.HybridReconfiguration {
		tsStop = mcBegin.Add(ms(o.cfg.Experiment.MCClientStopOffsetMS))
		tsRecon = tsStop.Add(ms(o.cfg.Experiment.MCClientReconfigOffsetMS))
		tsStart = tsRecon.Add(ms(o.cfg.Experiment.MCClientStartOffsetMS))
	} else {
		tsStop = mcBegin.Add(ms(o.cfg.Experiment.MCClientStopOffsetMS))
		tsRecon = mcBegin.Add(ms(o.cfg.Experiment.MCClientReconfigOffsetMS))
		tsStart = mcBegin.Add(ms(o.cfg.Experiment.MCClientStartOffsetMS))
	}

	for _, reg := range o.services.snapshot() {
		configuredMode, ok := o.cfg.Experiment.ConfiguredModeFor(uint32(networkMode), uint32(reg.ClientID))
		if !ok {
			continue
		}
		payload, err := protocol.RMPayload{
			TimestampStop:  tsStop,
			TimestampRecon: tsRecon,
			TimestampStart: tsStart,
			Command:        protocol.CommandSyncTimestampReconfigure,
		}.Serialize()
		if err != nil {
			log.Errorf("rm: encoding reconfigure payload for service %d: %v", reg.ServiceID, err)
			continue
		}
		o.send(protocol.RMClientSyncTimestampReconfigure, reg, protocol.Mode(configuredMode), payload)
	}

	if !o.cfg.Experiment.HybridReconfiguration {
		o.activeTimestampLast = mcBegin
	}
}

// computeHyperperiodAlignedBegin implements spec.md §4.3 step 1: the next
// hyperperiod boundary at or beyond the orchestrator's last committed
// timestamp, offset into the slot chosen for networkMode.
func (o *Orchestrator) computeHyperperiodAlignedBegin(now time.Time, networkMode uint8, ref *registration) protocol.Timestamp {
	hyperperiod := ms(o.cfg.Experiment.HyperperiodDurationMS)
	mcDist := ms(o.cfg.Experiment.MCDistributionPhaseMS)
	scale := ms(o.cfg.Experiment.HyperperiodScaleMS)

	diff := protocol.NewTimestamp(now).Sub(o.activeTimestampLast)
	if diff < 0 {
		diff = 0
	}

	k1 := int64(diff/hyperperiod) + 1
	k2 := int64(mcDist/hyperperiod) + 1
	targetHyperperiod := o.activeTimestampLast.Add(time.Duration(k1+k2) * scale)

	slot := chooseServiceSlot(o.cfg, networkMode, ref)
	slotOffset := slotOffsetFromSlot(o.cfg, slot)

	return targetHyperperiod.Add(slotOffset)
}

// stoppingExperiment distributes the global shutdown round (spec.md §4.3):
// mode=10 (ModeShutdown) in every case.
func (o *Orchestrator) stoppingExperiment() {
	now := o.clock()

	if o.cfg.Experiment.SynchronousStartMode {
		mcBegin := protocol.NewTimestamp(protocol.RoundUpToNextSecond(now)).Add(ms(o.cfg.Experiment.MCDistributionPhaseMS))
		tsStop := mcBegin.Add(10 * time.Millisecond)
		tsReconStart := mcBegin.Add(20 * time.Millisecond)

		payload, err := protocol.RMPayload{
			TimestampStop:  tsStop,
			TimestampRecon: tsReconStart,
			TimestampStart: tsReconStart,
			Command:        protocol.CommandSyncTimestampReconfigure,
		}.Serialize()
		if err != nil {
			log.Errorf("rm: encoding shutdown payload: %v", err)
			return
		}
		for _, reg := range o.services.snapshot() {
			o.send(protocol.RMClientSyncTimestampReconfigure, reg, protocol.ModeShutdown, payload)
		}
		return
	}

	for _, reg := range o.services.snapshot() {
		o.send(protocol.RMClientStop, reg, protocol.ModeShutdown, nil)
	}
}

// randomInterMCGap returns a uniform random duration in
// [inter_mc_gap_min, inter_mc_gap_max] (spec.md §4.3 step 4).
func (o *Orchestrator) randomInterMCGap() time.Duration {
	lo := o.cfg.Experiment.InterMCGapMinMS
	hi := o.cfg.Experiment.InterMCGapMaxMS
	if hi <= lo {
		return ms(lo)
	}
	return ms(lo + o.rng.Intn(hi-lo+1))
}
