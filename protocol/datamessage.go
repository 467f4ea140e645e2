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
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxProtocolMsgLen is the maximum data-plane payload per fragment
// (spec.md §4.7, §6).
const MaxProtocolMsgLen = 1458

// dataHeaderSize is the fixed DataMessage header size:
// priority(1) | source_id(4) | service_id(8) | object_number(4) |
// fragment_number(4) | total_fragments(4) | timestamp(12) | send_time_point(12)
const dataHeaderSize = 1 + 4 + 8 + 4 + 4 + 4 + 12 + 12

// DataMessage is one fragment of a traffic-generator object (spec.md §4.7).
type DataMessage struct {
	Priority        uint8
	SourceID        ClientID
	ServiceID       ServiceID
	ObjectNumber    uint32
	FragmentNumber  uint32
	TotalFragments  uint32
	Timestamp       Timestamp
	SendTimePoint   Timestamp
	Payload         []byte
}

// Bytes serializes m to its wire form.
func (m DataMessage) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	fields := []any{
		m.Priority,
		uint32(m.SourceID),
		uint64(m.ServiceID),
		m.ObjectNumber,
		m.FragmentNumber,
		m.TotalFragments,
		m.Timestamp.Sec,
		m.Timestamp.Nsec,
		m.SendTimePoint.Sec,
		m.SendTimePoint.Nsec,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encoding data message: %w", err)
		}
	}
	buf.Write(m.Payload)
	return buf.Bytes(), nil
}

// DataMessageFromBytes deserializes a DataMessage from its wire form.
func DataMessageFromBytes(raw []byte) (DataMessage, error) {
	if len(raw) < dataHeaderSize {
		return DataMessage{}, fmt.Errorf("data message too short: %d bytes", len(raw))
	}
	r := bytes.NewReader(raw)
	var (
		priority                     uint8
		source                       uint32
		service                      uint64
		objectNum, fragNum, total    uint32
		tsSec, stpSec                uint64
		tsNsec, stpNsec              uint32
	)
	fields := []any{&priority, &source, &service, &objectNum, &fragNum, &total, &tsSec, &tsNsec, &stpSec, &stpNsec}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return DataMessage{}, fmt.Errorf("decoding data message: %w", err)
		}
	}
	payload := make([]byte, r.Len())
	if r.Len() > 0 {
		if _, err := r.Read(payload); err != nil {
			return DataMessage{}, fmt.Errorf("decoding data message payload: %w", err)
		}
	}
	return DataMessage{
		Priority:       priority,
		SourceID:       ClientID(source),
		ServiceID:      ServiceID(service),
		ObjectNumber:   objectNum,
		FragmentNumber: fragNum,
		TotalFragments: total,
		Timestamp:      Timestamp{Sec: tsSec, Nsec: tsNsec},
		SendTimePoint:  Timestamp{Sec: stpSec, Nsec: stpNsec},
		Payload:        payload,
	}, nil
}

// TotalFragments computes ceil(objectSizeBytes / MaxProtocolMsgLen), the
// fragmentation law from spec.md §8.
func TotalFragments(objectSizeBytes int) uint32 {
	if objectSizeBytes <= 0 {
		return 0
	}
	return uint32((objectSizeBytes + MaxProtocolMsgLen - 1) / MaxProtocolMsgLen)
}

// FragmentPayloadSize returns the payload size of fragment index (0-based)
// out of total fragments covering an object of objectSizeBytes, per
// spec.md §8's boundary rule: the last fragment shrinks to the remaining
// bytes when remaining_bytes < MAX_PROTOCOL_MSG_LEN.
func FragmentPayloadSize(objectSizeBytes int, fragmentIndex int) int {
	remaining := objectSizeBytes - fragmentIndex*MaxProtocolMsgLen
	if remaining <= 0 {
		return 0
	}
	if remaining < MaxProtocolMsgLen {
		return remaining
	}
	return MaxProtocolMsgLen
}

// FillerPayload returns a payload of n bytes of the fixed filler byte 'A',
// matching spec.md §4.7's synthetic object content.
func FillerPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'A'
	}
	return b
}
