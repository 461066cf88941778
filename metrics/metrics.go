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

// Package metrics exports engine.Status as Prometheus gauges, grounded on
// ptp/sptp/stats/prom_exporter.go's NewPrometheusExporter/scrapeMetrics
// periodic-Set pattern rather than a pull-time Collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ptpordc/ptpordc/engine"
)

// Snapshot is any function that returns the latest engine status; run.go
// wires this to engine.Engine.Status.
type Snapshot func() engine.Status

// Registry periodically scrapes a Snapshot into a set of Prometheus gauges.
type Registry struct {
	registry *prometheus.Registry

	offset     prometheus.Gauge
	pathDelay  prometheus.Gauge
	steps      prometheus.Gauge
	portState  prometheus.Gauge
}

// NewRegistry builds a Registry and starts its 1-second scrape loop.
func NewRegistry(snapshot Snapshot) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpordc_offset_from_master_ns",
			Help: "Offset from master, in nanoseconds, per CURRENT_DATA_SET",
		}),
		pathDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpordc_mean_path_delay_ns",
			Help: "Mean path delay, in nanoseconds, per CURRENT_DATA_SET",
		}),
		steps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpordc_steps_removed",
			Help: "Number of clocks between this clock and the grandmaster",
		}),
		portState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpordc_port_state",
			Help: "Current PTP port state, as ptp.PortState's numeric value",
		}),
	}
	r.registry.MustRegister(r.offset, r.pathDelay, r.steps, r.portState)
	go r.scrapeLoop(snapshot)
	return r
}

func (r *Registry) scrapeLoop(snapshot Snapshot) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for range t.C {
		s := snapshot()
		r.offset.Set(float64(s.OffsetFromMaster))
		r.pathDelay.Set(float64(s.MeanPathDelay))
		r.steps.Set(float64(s.StepsRemoved))
		r.portState.Set(float64(s.PortState))
	}
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }
