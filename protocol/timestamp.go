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
	"fmt"
	"time"
)

// Timestamp is the wire representation of a CLOCK_REALTIME instant: a
// (seconds, nanoseconds) pair, frozen little-endian on the wire per
// spec.md §4.1 and §9. It is used for send_time_point and for the three
// mode-change deadlines (ts_stop / ts_reconfig / ts_start).
type Timestamp struct {
	Sec  uint64
	Nsec uint32
}

// NewTimestamp converts a time.Time into the wire Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Sec: uint64(t.Unix()), Nsec: uint32(t.Nanosecond())}
}

// Time converts the wire Timestamp back into a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Sec), int64(t.Nsec))
}

// Empty reports whether this is the zero timestamp, spec.md's "unused" value
// for ts_stop/ts_start in soft-variant messages.
func (t Timestamp) Empty() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	if t.Sec != other.Sec {
		return t.Sec < other.Sec
	}
	return t.Nsec < other.Nsec
}

// After reports whether t is strictly later than other.
func (t Timestamp) After(other Timestamp) bool {
	return other.Before(t)
}

// Add returns t advanced by d, carrying nanoseconds into seconds as needed.
func (t Timestamp) Add(d time.Duration) Timestamp {
	total := int64(t.Nsec) + d.Nanoseconds()
	sec := int64(t.Sec) + total/int64(time.Second)
	nsec := total % int64(time.Second)
	if nsec < 0 {
		nsec += int64(time.Second)
		sec--
	}
	return Timestamp{Sec: uint64(sec), Nsec: uint32(nsec)}
}

// Sub returns the duration t-other.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return t.Time().Sub(other.Time())
}

// String implements fmt.Stringer.
func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(unused)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time().UTC().Format(time.RFC3339Nano))
}

// PrepareTimestamp implements the round-trip law from spec.md §8:
// prepare_timestamp(t, d) is t + d modulo 1e9 ns carry.
func PrepareTimestamp(t Timestamp, d time.Duration) Timestamp {
	return t.Add(d)
}

// RoundUpToNextSecond returns the first whole second at or after t, matching
// the orchestrator's round_up_to_next_second used for synchronous start and
// stop (spec.md §4.3).
func RoundUpToNextSecond(t time.Time) time.Time {
	if t.Nanosecond() == 0 {
		return t
	}
	return time.Unix(t.Unix()+1, 0)
}
