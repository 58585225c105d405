// Copyright (c) 2021 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package module

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the counters of a scan. They are registered on a registry per
// Runner, so several scans in one process do not share counts.
type metrics struct {
	registry *prometheus.Registry

	modules    *prometheus.CounterVec
	artifacts  *prometheus.CounterVec
	records    *prometheus.CounterVec
	detections *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		modules: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilecheck_modules_total",
			Help: "Total number of module runs by final state",
		}, []string{"state"}),
		artifacts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilecheck_artifacts_total",
			Help: "Total number of artifacts by module and status",
		}, []string{"module", "status"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilecheck_records_total",
			Help: "Total number of parsed records",
		}, []string{"module"}),
		detections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilecheck_detections_total",
			Help: "Total number of records that matched an indicator",
		}, []string{"module"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mobilecheck_module_duration_seconds",
			Help:    "Duration of module runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"module"}),
	}
}

func (m *metrics) observe(o *Outcome) {
	m.modules.WithLabelValues(o.State.String()).Inc()
	m.artifacts.WithLabelValues(o.Module, "discovered").Add(float64(o.Discovered))
	m.artifacts.WithLabelValues(o.Module, "parsed").Add(float64(o.Parsed))
	m.artifacts.WithLabelValues(o.Module, "failed").Add(float64(o.Failed))
	m.records.WithLabelValues(o.Module).Add(float64(len(o.Results)))
	m.detections.WithLabelValues(o.Module).Add(float64(len(o.Detected)))
	m.duration.WithLabelValues(o.Module).Observe(o.Duration.Seconds())
}
