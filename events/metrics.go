// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowmesh/core/metrics"
)

// busMetrics holds the Prometheus collectors NewBusWithMetrics registers,
// grounded on the teacher's metrics.Metrics/api/metrics.Registerer pattern
// (a thin wrapper construct-and-register-on-Registerer shape) rather than
// package-level global collectors, so two Bus instances in one process (as
// in tests) never collide on metric names.
type busMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewBusWithMetrics is NewBus plus Prometheus instrumentation: a
// shadowmesh_events_published_total and shadowmesh_events_dropped_total
// counter, both labeled by category, registered through metrics.Metrics
// against reg. Use this constructor when the control plane's C9 wiring has
// a prometheus.Registerer available; NewBus remains the metrics-free
// default for callers (tests, examples) that don't.
func NewBusWithMetrics(bufSize int, logger log.Logger, reg prometheus.Registerer) (*Bus, error) {
	b := NewBus(bufSize, logger)
	reporter := metrics.NewMetrics(reg)

	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shadowmesh",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total events published to the event bus, by category.",
		}, []string{"category"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shadowmesh",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped because a subscriber's buffer was full, by category.",
		}, []string{"category"}),
	}
	if err := reporter.Register(m.published); err != nil {
		return nil, err
	}
	if err := reporter.Register(m.dropped); err != nil {
		return nil, err
	}
	b.metrics = m
	return b, nil
}
