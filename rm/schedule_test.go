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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ida-tubs/rscmng/config"
	"github.com/ida-tubs/rscmng/protocol"
	"github.com/ida-tubs/rscmng/timer"
)

func configWithService(t *testing.T, mode uint8, slotOffsetMS int) *config.Config {
	t.Helper()
	cfg := baseConfig()
	cfg.Services = map[string]config.ServiceSettings{
		"svc": {
			ServiceID: 42,
			Modes: map[string]config.ModeServiceSettings{
				"0": {SlotOffsetMS: 0},
				"1": {SlotOffsetMS: slotOffsetMS},
			},
		},
	}
	return cfg
}

func TestChooseServiceSlotFindsContainingSlot(t *testing.T) {
	cfg := configWithService(t, 1, 35)
	ref := &registration{ServiceID: 42}

	slot := chooseServiceSlot(cfg, 1, ref)

	require.Equal(t, 4, slot)
}

func TestChooseServiceSlotIsMonotoneInOffset(t *testing.T) {
	// spec.md §8 property 6: larger service_offset implies an equal-or-
	// larger slot index.
	offsets := []int{0, 5, 15, 35, 60, 95}
	prevSlot := 0
	for _, offset := range offsets {
		cfg := configWithService(t, 1, offset)
		ref := &registration{ServiceID: 42}
		slot := chooseServiceSlot(cfg, 1, ref)
		require.GreaterOrEqual(t, slot, prevSlot)
		prevSlot = slot
	}
}

func TestSlotOffsetFromSlotIsSlotTimesDuration(t *testing.T) {
	cfg := configWithService(t, 1, 0)
	require.Equal(t, 10*time.Millisecond, slotOffsetFromSlot(cfg, 1))
	require.Equal(t, 20*time.Millisecond, slotOffsetFromSlot(cfg, 2))
}

func TestSlotOffsetFromSlotWrapsNearHyperperiodEnd(t *testing.T) {
	cfg := configWithService(t, 1, 0)
	// HyperperiodSlots is 10: slot 9 satisfies slot+1 >= hyperperiod_slots,
	// so the offset wraps to the next hyperperiod's start (spec.md §4.6).
	require.Equal(t, 100*time.Millisecond, slotOffsetFromSlot(cfg, 9))
}

func TestInitialStartHandlerSynchronousSendsTimestampedStart(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})

	o.initialStartHandler()

	require.Equal(t, []protocol.Kind{protocol.RMClientSyncTimestampStart}, sender.kinds())
	require.False(t, o.activeTimestampLast.Empty())
	require.Equal(t, 1, o.timers.Pending())
}

func TestInitialStartHandlerAsynchronousSendsBareStart(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	cfg.Experiment.SynchronousStartMode = false
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})

	o.initialStartHandler()

	require.Equal(t, []protocol.Kind{protocol.RMClientStart}, sender.kinds())
	require.True(t, o.activeTimestampLast.Empty())
}

func TestRunModeChangeRoundSynchronousSendsThreeTimestamps(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})
	o.activeTimestampLast = protocol.NewTimestamp(time.Now())

	o.runModeChangeRound(1)

	require.Equal(t, []protocol.Kind{protocol.RMClientSyncTimestampReconfigure}, sender.kinds())
}

func TestRunModeChangeRoundSkipsClientsWithoutConfiguredMode(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(99), addr(7000), protocol.ControlMessage{})
	o.activeTimestampLast = protocol.NewTimestamp(time.Now())

	o.runModeChangeRound(1)

	require.Empty(t, sender.kinds())
}

func TestRunModeChangeRoundAsynchronousSendsBareReconfigureHW(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	cfg.Experiment.SynchronousStartMode = false
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})

	o.runModeChangeRound(1)

	require.Equal(t, []protocol.Kind{protocol.RMClientReconfigureHW}, sender.kinds())
}

func TestStoppingExperimentSynchronousSendsShutdownMode(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})

	o.stoppingExperiment()

	require.Equal(t, []protocol.Kind{protocol.RMClientSyncTimestampReconfigure}, sender.kinds())
	require.Equal(t, protocol.ModeShutdown, sender.sent[0].mode)
}

func TestStoppingExperimentAsynchronousSendsBareStop(t *testing.T) {
	sender := &fakeSender{}
	cfg := baseConfig()
	cfg.Experiment.SynchronousStartMode = false
	o := New(cfg, sender, timer.NewManager(), nil, nil)
	o.services.register(protocol.ServiceID(1), protocol.ClientID(1), addr(7000), protocol.ControlMessage{})

	o.stoppingExperiment()

	require.Equal(t, []protocol.Kind{protocol.RMClientStop}, sender.kinds())
	require.Equal(t, protocol.ModeShutdown, sender.sent[0].mode)
}

func TestRandomInterMCGapRespectsBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.Experiment.InterMCGapMinMS = 5
	cfg.Experiment.InterMCGapMaxMS = 10
	o := New(cfg, &fakeSender{}, timer.NewManager(), nil, nil)

	for i := 0; i < 50; i++ {
		gap := o.randomInterMCGap()
		require.GreaterOrEqual(t, gap, 5*time.Millisecond)
		require.LessOrEqual(t, gap, 10*time.Millisecond)
	}
}
