// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chain

import "github.com/prometheus/client_golang/prometheus"

var (
	activeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hagate_chain_active",
		Help: "Number of execution contexts currently pre-authorized for chained calls",
	})

	releaseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hagate_chain_release_errors_total",
		Help: "Total number of releases for contexts that were not registered",
	})
)

// RegisterMetrics registers chain guard metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(activeGauge, releaseErrors)
}
