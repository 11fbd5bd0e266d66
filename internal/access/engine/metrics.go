// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/hagate/internal/access/policy/types"
)

// Metrics for service-call evaluation.
var (
	// evaluateDuration tracks the latency of Evaluate calls.
	evaluateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hagate_evaluate_duration_seconds",
		Help:    "Histogram of service-call authorization latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisionsTotal counts decisions by effect.
	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hagate_decisions_total",
		Help: "Total number of service-call authorization decisions",
	}, []string{"effect"})

	// policyLastReload records when a policy document was last installed.
	policyLastReload = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hagate_policy_last_reload",
		Help: "Unix timestamp of the last successful policy install",
	})
)

// RecordEvaluationMetrics records metrics for a completed evaluation.
func RecordEvaluationMetrics(duration time.Duration, effect types.Effect) {
	evaluateDuration.Observe(duration.Seconds())
	decisionsTotal.WithLabelValues(effect.String()).Inc()
}

// RegisterMetrics registers engine metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(evaluateDuration, decisionsTotal, policyLastReload)
}
