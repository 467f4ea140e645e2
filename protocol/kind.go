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

import "fmt"

// Kind identifies the on-wire type of a ControlMessage. Values are frozen
// across the deployment: every party parses them as a little-endian uint32.
type Kind uint32

// Message kinds, in the order spec.md §6 lists them. Numeric values are
// on-wire identity and must never be renumbered.
const (
	NOOP Kind = iota
	SyncTimestamp
	RMClientStart
	RMClientStop
	RMClientPause
	RMClientReconfigure
	RMClientSyncTimestampStart
	RMClientSyncTimestampStop
	RMClientSyncTimestampPause
	RMClientSyncTimestampReconfigure
	RMClientSyncTimestampReconfigureSoft
	RMClientSyncRequest
	RMClientSyncReceive
	RMClientSyncReconfigureDone
	RMClientRequest
	RMClientRelease
	ACK
	NACK
	// Switch-variant and termination extensions.
	RMClientReconfigureHW
	RMClientSyncTimestampReconfigureHW
	RMClientSyncTimestampReconfigureSyncObjectHW
	RMClientSyncTimestampExit
	RMClientExit
)

var kindNames = map[Kind]string{
	NOOP:                                 "NOOP",
	SyncTimestamp:                        "SYNC_TIMESTAMP",
	RMClientStart:                        "RM_CLIENT_START",
	RMClientStop:                         "RM_CLIENT_STOP",
	RMClientPause:                        "RM_CLIENT_PAUSE",
	RMClientReconfigure:                  "RM_CLIENT_RECONFIGURE",
	RMClientSyncTimestampStart:           "RM_CLIENT_SYNC_TIMESTAMP_START",
	RMClientSyncTimestampStop:            "RM_CLIENT_SYNC_TIMESTAMP_STOP",
	RMClientSyncTimestampPause:           "RM_CLIENT_SYNC_TIMESTAMP_PAUSE",
	RMClientSyncTimestampReconfigure:     "RM_CLIENT_SYNC_TIMESTAMP_RECONFIGURE",
	RMClientSyncTimestampReconfigureSoft: "RM_CLIENT_SYNC_TIMESTAMP_RECONFIGURE_SOFT",
	RMClientSyncRequest:                  "RM_CLIENT_SYNC_REQUEST",
	RMClientSyncReceive:                  "RM_CLIENT_SYNC_RECEIVE",
	RMClientSyncReconfigureDone:          "RM_CLIENT_SYNC_RECONFIGURE_DONE",
	RMClientRequest:                      "RM_CLIENT_REQUEST",
	RMClientRelease:                      "RM_CLIENT_RELEASE",
	ACK:                                  "ACK",
	NACK:                                 "NACK",
	RMClientReconfigureHW:                "RM_CLIENT_RECONFIGURE_HW",
	RMClientSyncTimestampReconfigureHW:   "RM_CLIENT_SYNC_TIMESTAMP_RECONFIGURE_HW",
	RMClientSyncTimestampReconfigureSyncObjectHW: "RM_CLIENT_SYNC_TIMESTAMP_RECONFIGURE_SYNC_OBJECT_HW",
	RMClientSyncTimestampExit:                    "RM_CLIENT_SYNC_TIMESTAMP_EXIT",
	RMClientExit:                                  "RM_CLIENT_EXIT",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// RMCommand is the command enum embedded inside an RMPayload. The mapping
// between Kind and RMCommand is not bijective: some commands are expressed by
// Kind alone (e.g. RMClientStart carries no payload at all in the
// asynchronous variants), some carry both.
type RMCommand uint8

// RMCommand values, per spec.md §6.
const (
	CommandIdle RMCommand = iota
	CommandStart
	CommandStop
	CommandPause
	CommandReconfigure
	CommandSyncTimestampStart
	CommandSyncTimestampStop
	CommandSyncTimestampPaused
	CommandSyncTimestampReconfigure
	CommandSyncTimestampReconfigureSoft
)

var commandNames = map[RMCommand]string{
	CommandIdle:                         "IDLE",
	CommandStart:                        "START",
	CommandStop:                         "STOP",
	CommandPause:                        "PAUSE",
	CommandReconfigure:                  "RECONFIGURE",
	CommandSyncTimestampStart:           "SYNC_TIMESTAMP_START",
	CommandSyncTimestampStop:            "SYNC_TIMESTAMP_STOP",
	CommandSyncTimestampPaused:          "SYNC_TIMESTAMP_PAUSED",
	CommandSyncTimestampReconfigure:     "SYNC_TIMESTAMP_RECONFIGURE",
	CommandSyncTimestampReconfigureSoft: "SYNC_TIMESTAMP_RECONFIGURE_SOFT",
}

// String implements fmt.Stringer.
func (c RMCommand) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("RMCommand(%d)", uint8(c))
}

// Mode selects a destination endpoint and traffic profile. ModeShutdown is
// the shutdown pseudo-mode (spec.md §3).
type Mode uint8

// Recognized modes.
const (
	ModeZero     Mode = 0
	ModeOne      Mode = 1
	ModeShutdown Mode = 10
)

// ProtocolID identifies the payload codec carried by a ControlMessage.
type ProtocolID uint32

// ProtocolRM is the core RMPayload codec.
const ProtocolRM ProtocolID = 1
