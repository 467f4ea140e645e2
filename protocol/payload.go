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
	"time"
)

// ResourceRequest is the sub-record a RECONFIGURE/REQUEST RMPayload may
// carry, grounded on the original's network_resource_request struct.
type ResourceRequest struct {
	ClientID  ClientID
	ServiceID ServiceID
	Priority  uint32
	Bandwidth float64
	Deadline  time.Duration
	DataPath  []uint32
	Allocated bool
}

// RMPayload is the concrete payload carried by a ControlMessage whose
// ProtocolID is ProtocolRM (spec.md §3).
type RMPayload struct {
	ObjectSize      uint32
	Deadline        time.Duration
	StreamPriority  uint32
	MeasurementID   uint32
	Command         RMCommand
	TimestampStop   Timestamp
	TimestampRecon  Timestamp
	TimestampStart  Timestamp
	Request         ResourceRequest
}

// Serialize encodes p into its wire form.
func (p RMPayload) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}
	scalars := []any{
		p.ObjectSize,
		uint32(p.Deadline.Milliseconds()),
		p.StreamPriority,
		p.MeasurementID,
		uint8(p.Command),
		p.TimestampStop.Sec,
		p.TimestampStop.Nsec,
		p.TimestampRecon.Sec,
		p.TimestampRecon.Nsec,
		p.TimestampStart.Sec,
		p.TimestampStart.Nsec,
		uint32(p.Request.ClientID),
		uint64(p.Request.ServiceID),
		p.Request.Priority,
		p.Request.Bandwidth,
		uint32(p.Request.Deadline.Milliseconds()),
		uint32(len(p.Request.DataPath)),
	}
	for _, f := range scalars {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("encoding RMPayload: %w", err)
		}
	}
	for _, hop := range p.Request.DataPath {
		if err := binary.Write(buf, binary.LittleEndian, hop); err != nil {
			return nil, fmt.Errorf("encoding RMPayload data path: %w", err)
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, boolToByte(p.Request.Allocated)); err != nil {
		return nil, fmt.Errorf("encoding RMPayload allocated flag: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeRMPayload decodes an RMPayload from its wire form.
func DeserializeRMPayload(raw []byte) (RMPayload, error) {
	r := bytes.NewReader(raw)
	var (
		objectSize                      uint32
		deadlineMs                      uint32
		streamPriority, measurementID   uint32
		command                         uint8
		stopSec, reconSec, startSec     uint64
		stopNsec, reconNsec, startNsec  uint32
		reqClient                       uint32
		reqService                      uint64
		reqPriority                     uint32
		reqBandwidth                    float64
		reqDeadlineMs                   uint32
		pathLen                         uint32
	)
	fields := []any{
		&objectSize, &deadlineMs, &streamPriority, &measurementID, &command,
		&stopSec, &stopNsec, &reconSec, &reconNsec, &startSec, &startNsec,
		&reqClient, &reqService, &reqPriority, &reqBandwidth, &reqDeadlineMs, &pathLen,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return RMPayload{}, fmt.Errorf("decoding RMPayload: %w", err)
		}
	}
	path := make([]uint32, pathLen)
	for i := range path {
		if err := binary.Read(r, binary.LittleEndian, &path[i]); err != nil {
			return RMPayload{}, fmt.Errorf("decoding RMPayload data path: %w", err)
		}
	}
	var allocated byte
	if err := binary.Read(r, binary.LittleEndian, &allocated); err != nil {
		return RMPayload{}, fmt.Errorf("decoding RMPayload allocated flag: %w", err)
	}
	return RMPayload{
		ObjectSize:     objectSize,
		Deadline:       time.Duration(deadlineMs) * time.Millisecond,
		StreamPriority: streamPriority,
		MeasurementID:  measurementID,
		Command:        RMCommand(command),
		TimestampStop:  Timestamp{Sec: stopSec, Nsec: stopNsec},
		TimestampRecon: Timestamp{Sec: reconSec, Nsec: reconNsec},
		TimestampStart: Timestamp{Sec: startSec, Nsec: startNsec},
		Request: ResourceRequest{
			ClientID:  ClientID(reqClient),
			ServiceID: ServiceID(reqService),
			Priority:  reqPriority,
			Bandwidth: reqBandwidth,
			Deadline:  time.Duration(reqDeadlineMs) * time.Millisecond,
			DataPath:  path,
			Allocated: allocated != 0,
		},
	}, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ValidateDeadlines enforces spec.md §3's invariant: any control message
// carrying all three timestamps must satisfy ts_stop <= ts_reconfig <=
// ts_start. Soft-variant messages may leave ts_stop/ts_start zero ("unused").
func (p RMPayload) ValidateDeadlines() error {
	if !p.TimestampStop.Empty() && !p.TimestampRecon.Empty() && p.TimestampRecon.Before(p.TimestampStop) {
		return fmt.Errorf("ts_reconfig before ts_stop")
	}
	if !p.TimestampRecon.Empty() && !p.TimestampStart.Empty() && p.TimestampStart.Before(p.TimestampRecon) {
		return fmt.Errorf("ts_start before ts_reconfig")
	}
	if !p.TimestampStop.Empty() && !p.TimestampStart.Empty() && p.TimestampStart.Before(p.TimestampStop) {
		return fmt.Errorf("ts_start before ts_stop")
	}
	return nil
}
