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

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControlMessageRoundTrip(t *testing.T) {
	now := NewTimestamp(time.Now().Truncate(time.Second))
	payload, err := RMPayload{
		ObjectSize:     4096,
		Deadline:       250 * time.Millisecond,
		StreamPriority: 3,
		MeasurementID:  7,
		Command:        CommandReconfigure,
		TimestampStop:  now,
		TimestampRecon: now.Add(time.Second),
		TimestampStart: now.Add(2 * time.Second),
		Request: ResourceRequest{
			ClientID:  ClientID(1),
			ServiceID: ServiceID(42),
			Priority:  2,
			Bandwidth: 12.5,
			Deadline:  100 * time.Millisecond,
			DataPath:  []uint32{1, 2, 3},
			Allocated: true,
		},
	}.Serialize()
	require.NoError(t, err)

	msg := ControlMessage{
		Kind:          RMClientSyncTimestampReconfigure,
		Priority:      1,
		SourceID:      ClientID(10),
		DestinationID: ClientID(20),
		ServiceID:     ServiceID(42),
		Mode:          ModeOne,
		SendTimePoint: now,
		ProtocolID:    ProtocolRM,
		Payload:       payload,
	}

	raw, err := msg.Bytes()
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), MaxLength)

	got, err := ControlMessageFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, msg.Kind, got.Kind)
	require.Equal(t, msg.SourceID, got.SourceID)
	require.Equal(t, msg.DestinationID, got.DestinationID)
	require.Equal(t, msg.ServiceID, got.ServiceID)
	require.Equal(t, msg.Mode, got.Mode)
	require.Equal(t, msg.SendTimePoint, got.SendTimePoint)
	require.Equal(t, msg.ProtocolID, got.ProtocolID)
	require.Equal(t, msg.Payload, got.Payload)

	gotPayload, err := DeserializeRMPayload(got.Payload)
	require.NoError(t, err)
	require.Equal(t, RMCommand(CommandReconfigure), gotPayload.Command)
	require.Equal(t, uint32(4096), gotPayload.ObjectSize)
	require.Equal(t, []uint32{1, 2, 3}, gotPayload.Request.DataPath)
	require.True(t, gotPayload.Request.Allocated)
	require.NoError(t, gotPayload.ValidateDeadlines())
}

func TestControlMessagePayloadTooLarge(t *testing.T) {
	msg := ControlMessage{Payload: make([]byte, MaxPayload+1)}
	_, err := msg.Bytes()
	require.Error(t, err)
}

func TestControlMessageFromBytesTooShort(t *testing.T) {
	_, err := ControlMessageFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestWithSourceAndWithServiceAreCopySetters(t *testing.T) {
	orig := ControlMessage{SourceID: ClientID(1), ServiceID: ServiceID(1)}
	relabeled := orig.WithSource(ClientID(99)).WithService(ServiceID(99))

	require.Equal(t, ClientID(1), orig.SourceID)
	require.Equal(t, ServiceID(1), orig.ServiceID)
	require.Equal(t, ClientID(99), relabeled.SourceID)
	require.Equal(t, ServiceID(99), relabeled.ServiceID)
}

func TestValidateDeadlinesOrdering(t *testing.T) {
	base := NewTimestamp(time.Unix(1000, 0))
	ok := RMPayload{
		TimestampStop:  base,
		TimestampRecon: base.Add(time.Second),
		TimestampStart: base.Add(2 * time.Second),
	}
	require.NoError(t, ok.ValidateDeadlines())

	bad := RMPayload{
		TimestampStop:  base.Add(2 * time.Second),
		TimestampRecon: base,
		TimestampStart: base.Add(time.Second),
	}
	require.Error(t, bad.ValidateDeadlines())
}

func TestValidateDeadlinesSoftVariantSkipsUnused(t *testing.T) {
	// Soft-variant messages may leave ts_stop/ts_start empty; only the
	// timestamps actually present are checked for ordering.
	p := RMPayload{
		TimestampRecon: NewTimestamp(time.Unix(2000, 0)),
	}
	require.NoError(t, p.ValidateDeadlines())
}

func TestTimestampAddCarriesNanoseconds(t *testing.T) {
	t0 := Timestamp{Sec: 100, Nsec: 900_000_000}
	t1 := t0.Add(200 * time.Millisecond)
	require.Equal(t, uint64(101), t1.Sec)
	require.Equal(t, uint32(100_000_000), t1.Nsec)
}

func TestTimestampAddHandlesNegativeDuration(t *testing.T) {
	t0 := Timestamp{Sec: 100, Nsec: 100_000_000}
	t1 := t0.Add(-200 * time.Millisecond)
	require.Equal(t, uint64(99), t1.Sec)
	require.Equal(t, uint32(900_000_000), t1.Nsec)
}

func TestTimestampEmpty(t *testing.T) {
	require.True(t, Timestamp{}.Empty())
	require.False(t, NewTimestamp(time.Unix(1, 0)).Empty())
}

func TestDataMessageRoundTrip(t *testing.T) {
	now := NewTimestamp(time.Now().Truncate(time.Second))
	msg := DataMessage{
		Priority:       2,
		SourceID:       ClientID(5),
		ServiceID:      ServiceID(9),
		ObjectNumber:   3,
		FragmentNumber: 1,
		TotalFragments: 4,
		Timestamp:      now,
		SendTimePoint:  now.Add(500 * time.Millisecond),
		Payload:        FillerPayload(MaxProtocolMsgLen),
	}
	raw, err := msg.Bytes()
	require.NoError(t, err)

	got, err := DataMessageFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, msg.SourceID, got.SourceID)
	require.Equal(t, msg.ServiceID, got.ServiceID)
	require.Equal(t, msg.ObjectNumber, got.ObjectNumber)
	require.Equal(t, msg.FragmentNumber, got.FragmentNumber)
	require.Equal(t, msg.TotalFragments, got.TotalFragments)
	require.Equal(t, msg.Timestamp, got.Timestamp)
	require.Equal(t, msg.SendTimePoint, got.SendTimePoint)
	require.Len(t, got.Payload, MaxProtocolMsgLen)
}

func TestDataMessageFromBytesTooShort(t *testing.T) {
	_, err := DataMessageFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestTotalFragments(t *testing.T) {
	require.Equal(t, uint32(0), TotalFragments(0))
	require.Equal(t, uint32(1), TotalFragments(1))
	require.Equal(t, uint32(1), TotalFragments(MaxProtocolMsgLen))
	require.Equal(t, uint32(2), TotalFragments(MaxProtocolMsgLen+1))
	require.Equal(t, uint32(3), TotalFragments(3*MaxProtocolMsgLen))
}

func TestFragmentPayloadSizeShrinksOnLastFragment(t *testing.T) {
	objectSize := MaxProtocolMsgLen + 100
	require.Equal(t, MaxProtocolMsgLen, FragmentPayloadSize(objectSize, 0))
	require.Equal(t, 100, FragmentPayloadSize(objectSize, 1))
	require.Equal(t, 0, FragmentPayloadSize(objectSize, 2))
}

func TestFragmentPayloadSizeSumsToObjectSize(t *testing.T) {
	objectSize := 5000
	total := int(TotalFragments(objectSize))
	sum := 0
	for i := 0; i < total; i++ {
		sum += FragmentPayloadSize(objectSize, i)
	}
	require.Equal(t, objectSize, sum)
}
