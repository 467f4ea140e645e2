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
	"runtime"
	"time"

	"github.com/ida-tubs/rscmng/protocol"
)

// BusyWaitUntil polls clock() in a tight loop until it is no longer before
// target, or until stop reports true. It never calls time.Sleep: the
// reference implementation's sleep_for(1ms) fallback measurably skews
// sub-millisecond shaping and is explicitly excluded from the contract
// (spec.md §4.7). runtime.Gosched yields the P between reads so a
// single-core GOMAXPROCS=1 build still lets other goroutines run.
func BusyWaitUntil(target time.Time, clock func() time.Time, stop func() bool) {
	for {
		if clock().After(target) || clock().Equal(target) {
			return
		}
		if stop != nil && stop() {
			return
		}
		runtime.Gosched()
	}
}

// BusyWaitFor busy-waits for the given duration, the precise-wait primitive
// used between data-plane fragments and objects (spec.md §4.7).
func BusyWaitFor(d time.Duration, clock func() time.Time) {
	target := clock().Add(d)
	BusyWaitUntil(target, clock, nil)
}

// validTimestamp reports whether ts's seconds field is not earlier than
// now's, the three-phase wait's step-1 validation (spec.md §4.4: "ts.sec >=
// now.sec"); a ts earlier within the current second still passes. An Empty
// timestamp is always considered valid — soft variants
// use Empty to mean "unused" (spec.md §3).
func validTimestamp(ts protocol.Timestamp, now protocol.Timestamp) bool {
	return ts.Empty() || ts.Sec >= now.Sec
}
