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

// Package protocol implements the rscmng wire formats: the control-plane
// ControlMessage envelope and its RMPayload body, and the data-plane
// DataMessage used by the traffic generator. Framing is field-by-field,
// little-endian, tightly packed, as fixed by spec.md §4.1 and frozen for
// compatibility across the deployment (spec.md §9).
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ClientID identifies a participating device.
type ClientID uint32

// ServiceID identifies a single data flow owned by a client.
type ServiceID uint64

// MaxLength is the maximum UDP datagram length for control messages
// (spec.md §6): fits a standard Ethernet MTU with IPv4+UDP headers.
const MaxLength = 1472

// MaxPayload is the maximum protocol payload length (spec.md §6).
const MaxPayload = 1024

// controlHeaderSize is the size, in bytes, of the fixed ControlMessage
// header preceding the opaque payload:
// kind(4) | priority(1) | source_id(4) | destination_id(4) | service_id(8) |
// mode(1) | send_time_point(12) | protocol_id(4)
const controlHeaderSize = 4 + 1 + 4 + 4 + 8 + 1 + 12 + 4

// ControlMessage is the control-plane wire record (spec.md §3).
type ControlMessage struct {
	Kind           Kind
	Priority       uint8
	SourceID       ClientID
	DestinationID  ClientID
	ServiceID      ServiceID
	Mode           Mode
	SendTimePoint  Timestamp
	ProtocolID     ProtocolID
	Payload        []byte
}

// WithSource returns a copy of m with SourceID replaced. Grounded on the
// original implementation's RMMessage::change_id, used there to relabel a
// forwarded message's source when crossing a gateway segment; no gateway
// exists in this deployment, so this helper exists for API symmetry and is
// exercised only by tests (see SPEC_FULL.md §4).
func (m ControlMessage) WithSource(id ClientID) ControlMessage {
	m.SourceID = id
	return m
}

// WithService returns a copy of m with ServiceID replaced, the
// change_service analogue of WithSource.
func (m ControlMessage) WithService(id ServiceID) ControlMessage {
	m.ServiceID = id
	return m
}

// Bytes serializes m to its wire form.
func (m ControlMessage) Bytes() ([]byte, error) {
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("payload too large: %d > %d", len(m.Payload), MaxPayload)
	}
	buf := &bytes.Buffer{}
	fields := []any{
		uint32(m.Kind),
		m.Priority,
		uint32(m.SourceID),
		uint32(m.DestinationID),
		uint64(m.ServiceID),
		uint8(m.Mode),
		m.SendTimePoint.Sec,
		m.SendTimePoint.Nsec,
		uint32(m.ProtocolID),
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encoding control message: %w", err)
		}
	}
	buf.Write(m.Payload)
	if buf.Len() > MaxLength {
		return nil, fmt.Errorf("control message too large: %d > %d", buf.Len(), MaxLength)
	}
	return buf.Bytes(), nil
}

// ControlMessageFromBytes deserializes a ControlMessage from its wire form.
func ControlMessageFromBytes(raw []byte) (ControlMessage, error) {
	if len(raw) < controlHeaderSize {
		return ControlMessage{}, fmt.Errorf("control message too short: %d bytes", len(raw))
	}
	r := bytes.NewReader(raw)
	var (
		kind, source, dest, protoID uint32
		priority, mode              uint8
		service                     uint64
		sec                         uint64
		nsec                        uint32
	)
	fields := []any{&kind, &priority, &source, &dest, &service, &mode, &sec, &nsec, &protoID}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return ControlMessage{}, fmt.Errorf("decoding control message: %w", err)
		}
	}
	payload := make([]byte, r.Len())
	if _, err := r.Read(payload); err != nil && r.Len() > 0 {
		return ControlMessage{}, fmt.Errorf("decoding control message payload: %w", err)
	}
	return ControlMessage{
		Kind:          Kind(kind),
		Priority:      priority,
		SourceID:      ClientID(source),
		DestinationID: ClientID(dest),
		ServiceID:     ServiceID(service),
		Mode:          Mode(mode),
		SendTimePoint: Timestamp{Sec: sec, Nsec: nsec},
		ProtocolID:    ProtocolID(protoID),
		Payload:       payload,
	}, nil
}
