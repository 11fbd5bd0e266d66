// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package source

import "github.com/prometheus/client_golang/prometheus"

var reloadFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "hagate_policy_reload_failures_total",
	Help: "Total number of policy reloads that failed and kept the previous document",
})

// RegisterMetrics registers loader metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(reloadFailures)
}
