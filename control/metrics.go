// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowmesh/core/metrics"
)

// planeMetrics instruments Plane's request surface: one counter labeled by
// method and outcome (ok/error), the control-plane request metrics
// SPEC_FULL.md's dependency expansion calls for alongside the event sink's
// dropped-count counter (see events.NewBusWithMetrics). Registered through
// metrics.Metrics, the teacher's construct-and-register-on-Registerer
// wrapper.
type planeMetrics struct {
	requests *prometheus.CounterVec
}

func newPlaneMetrics(reg prometheus.Registerer) (*planeMetrics, error) {
	m := &planeMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shadowmesh",
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Total control-plane method calls, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	if err := metrics.NewMetrics(reg).Register(m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *planeMetrics) observe(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}
