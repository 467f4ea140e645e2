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

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter periodically copies a Stats snapshot into a Prometheus
// registry and serves it over /metrics, the orchestrator's analogue of
// ptp/sptp/stats/prom_exporter.go's scrape-and-republish loop.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	stats      *Stats
	listenPort int
	interval   time.Duration
	gauges     map[string]prometheus.Gauge
}

// NewPrometheusExporter constructs an exporter that republishes stats every
// scrapeInterval on listenPort.
func NewPrometheusExporter(stats *Stats, listenPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		stats:      stats,
		listenPort: listenPort,
		interval:   scrapeInterval,
		gauges:     map[string]prometheus.Gauge{},
	}
}

// Start runs the scrape loop and the /metrics HTTP handler. It blocks; run
// it in a goroutine.
func (e *PrometheusExporter) Start() error {
	go func() {
		for {
			e.scrape()
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Infof("starting prometheus exporter on :%d", e.listenPort)
	return http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), mux)
}

func (e *PrometheusExporter) scrape() {
	for key, val := range e.stats.Get() {
		name := flattenKey(key)
		g, ok := e.gauges[name]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: key})
			if err := e.registry.Register(g); err != nil {
				are := &prometheus.AlreadyRegisteredError{}
				if errors.As(err, are) {
					g = are.ExistingCollector.(prometheus.Gauge)
				} else {
					log.Errorf("failed to register metric %s: %v", name, err)
					continue
				}
			}
			e.gauges[name] = g
		}
		g.Set(float64(val))
	}
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
