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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ida-tubs/rscmng/protocol"
)

type fakeSender struct {
	mu  sync.Mutex
	out []protocol.ControlMessage
}

func (f *fakeSender) Send(msg protocol.ControlMessage, _ *net.UDPAddr) error {
	f.mu.Lock()
	f.out = append(f.out, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) kinds() []protocol.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	ks := make([]protocol.Kind, len(f.out))
	for i, m := range f.out {
		ks[i] = m.Kind
	}
	return ks
}

type fakeTarget struct {
	mu     sync.Mutex
	events []Effect
	modes  []protocol.Mode
}

func (f *fakeTarget) Notify(effect Effect, mode protocol.Mode) {
	f.mu.Lock()
	f.events = append(f.events, effect)
	f.modes = append(f.modes, mode)
	f.mu.Unlock()
}

func (f *fakeTarget) effects() []Effect {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Effect, len(f.events))
	copy(out, f.events)
	return out
}

func rmAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
}

func TestDispatchStartNotifiesTransmission(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	a.Dispatch(protocol.ControlMessage{Kind: protocol.RMClientStart}, nil)

	require.Equal(t, []Effect{EffectTransmission}, target.effects())
	require.Equal(t, StateRunning, a.State())
	require.Empty(t, sender.kinds())
}

func TestDispatchStopAcksSyncReceive(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	a.Dispatch(protocol.ControlMessage{Kind: protocol.RMClientStop}, nil)

	require.Equal(t, []Effect{EffectStop}, target.effects())
	require.Equal(t, []protocol.Kind{protocol.RMClientSyncReceive}, sender.kinds())
	require.Equal(t, StateStopping, a.State())
}

func TestDispatchImmediateReconfigureSendsBothAcks(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	a.Dispatch(protocol.ControlMessage{Kind: protocol.RMClientReconfigure, Mode: protocol.ModeOne}, nil)

	require.Equal(t, []Effect{EffectReconfigure}, target.effects())
	require.Equal(t, []protocol.Mode{protocol.ModeOne}, target.modes)
	require.Equal(t, []protocol.Kind{protocol.RMClientSyncReceive, protocol.RMClientSyncReconfigureDone}, sender.kinds())
}

func buildSyncTimestampReconfigure(t *testing.T, stop, recon, start time.Time, mode protocol.Mode) protocol.ControlMessage {
	t.Helper()
	payload, err := protocol.RMPayload{
		TimestampStop:  protocol.NewTimestamp(stop),
		TimestampRecon: protocol.NewTimestamp(recon),
		TimestampStart: protocol.NewTimestamp(start),
	}.Serialize()
	require.NoError(t, err)
	return protocol.ControlMessage{
		Kind:    protocol.RMClientSyncTimestampReconfigure,
		Mode:    mode,
		Payload: payload,
	}
}

func TestThreePhaseWaitOrdersPausedReconfigureTransmission(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	base := time.Now().Add(50 * time.Millisecond)
	msg := buildSyncTimestampReconfigure(t, base, base.Add(20*time.Millisecond), base.Add(40*time.Millisecond), protocol.ModeOne)

	a.Dispatch(msg, nil)

	require.Equal(t, []Effect{EffectPaused, EffectReconfigure, EffectTransmission}, target.effects())
	require.Equal(t, []protocol.Kind{protocol.RMClientSyncReceive, protocol.RMClientSyncReconfigureDone}, sender.kinds())
	require.Equal(t, StateRunning, a.State())
}

func TestThreePhaseWaitAbortsOnStaleTimestamp(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)
	a.clock = func() time.Time { return time.Now().Add(time.Hour) }

	base := time.Now()
	msg := buildSyncTimestampReconfigure(t, base, base.Add(20*time.Millisecond), base.Add(40*time.Millisecond), protocol.ModeOne)

	a.Dispatch(msg, nil)

	require.Empty(t, target.effects())
	require.Equal(t, []protocol.Kind{protocol.RMClientSyncReceive, protocol.RMClientSyncReconfigureDone}, sender.kinds())
}

func TestSoftReconfigureIsAckOnly(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	recon := time.Now().Add(30 * time.Millisecond)
	payload, err := protocol.RMPayload{TimestampRecon: protocol.NewTimestamp(recon)}.Serialize()
	require.NoError(t, err)
	msg := protocol.ControlMessage{Kind: protocol.RMClientSyncTimestampReconfigureSoft, Mode: protocol.ModeOne, Payload: payload}

	a.Dispatch(msg, nil)

	require.Empty(t, target.effects())
	require.Equal(t, []protocol.Kind{protocol.RMClientSyncReceive, protocol.RMClientSyncReconfigureDone}, sender.kinds())
}

func TestDispatchUnknownKindIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	a.Dispatch(protocol.ControlMessage{Kind: protocol.NOOP}, nil)

	require.Empty(t, target.effects())
	require.Empty(t, sender.kinds())
}

func TestRequestStopAbortsInProgressBusyWait(t *testing.T) {
	sender := &fakeSender{}
	target := &fakeTarget{}
	a := New(protocol.ClientID(1), rmAddr(), sender, target, nil)

	far := time.Now().Add(time.Hour)
	payload, err := protocol.RMPayload{TimestampStart: protocol.NewTimestamp(far)}.Serialize()
	require.NoError(t, err)
	msg := protocol.ControlMessage{Kind: protocol.RMClientSyncTimestampStart, Payload: payload}

	done := make(chan struct{})
	go func() {
		a.Dispatch(msg, nil)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	a.RequestStop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not abort after RequestStop")
	}
	require.Empty(t, target.effects())
}
