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

// Package metrics holds rscmng's counters: a mutex-guarded counter map
// (grounded on sptp/client/stats.go) that Stats.Serve can serve over HTTP as
// JSON (ptp4u/stats/json.go) and PrometheusExporter mirrors into a
// Prometheus registry (ptp/sptp/stats/prom_exporter.go). The rm binary
// serves the Prometheus mirror; the endnode and switch binaries keep no
// Stats.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Stats is a flat, mutex-guarded counter map.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats constructs an empty Stats.
func NewStats() *Stats {
	return &Stats{counters: map[string]int64{}}
}

// Inc increments key by 1.
func (s *Stats) Inc(key string) {
	s.UpdateBy(key, 1)
}

// UpdateBy adds delta to key.
func (s *Stats) UpdateBy(key string, delta int64) {
	s.mu.Lock()
	s.counters[key] += delta
	s.mu.Unlock()
}

// Set assigns key the value val.
func (s *Stats) Set(key string, val int64) {
	s.mu.Lock()
	s.counters[key] = val
	s.mu.Unlock()
}

// Get returns a point-in-time copy of all counters.
func (s *Stats) Get() map[string]int64 {
	ret := make(map[string]int64, len(s.counters))
	s.mu.Lock()
	for k, v := range s.counters {
		ret[k] = v
	}
	s.mu.Unlock()
	return ret
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mu.Unlock()
}

// StartHostSampler periodically samples host CPU and memory utilization
// into the "host.cpu_percent_x100" and "host.mem_used_percent_x100" counters,
// grounded on sptp/client/sysstats.go's periodic self-reporting. Values are
// scaled by 100 and stored as integers since Stats only holds int64s. It
// blocks; run it in a goroutine.
func (s *Stats) StartHostSampler(interval time.Duration) {
	for {
		if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
			s.Set("host.cpu_percent_x100", int64(pct[0]*100))
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			s.Set("host.mem_used_percent_x100", int64(vm.UsedPercent*100))
		}
		time.Sleep(interval)
	}
}

// Serve starts a JSON monitoring HTTP server on monitoringPort, the role's
// spec.md §6 "JSON monitoring endpoint". It blocks; run it in a goroutine.
func (s *Stats) Serve(monitoringPort int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("starting stats json server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Stats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.Get())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("failed to write stats response: %v", err)
	}
}
