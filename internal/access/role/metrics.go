// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package role

import "github.com/prometheus/client_golang/prometheus"

// FallbacksTotal counts fallback-role substitutions by reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var FallbacksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hagate_role_fallbacks_total",
		Help: "Total number of template roles resolved to their fallback role",
	},
	[]string{"reason"},
)

func recordFallback(outcome Outcome) {
	FallbacksTotal.WithLabelValues(string(outcome)).Inc()
}

// RegisterMetrics registers role resolution metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FallbacksTotal)
}
