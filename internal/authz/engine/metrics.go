// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_decision_duration_seconds",
		Help:    "Authorization decision latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Total number of authorization decisions by action and outcome",
	}, []string{"action", "outcome"})
)

func recordDecision(action string, allowed bool, elapsed time.Duration) {
	decisionDuration.Observe(elapsed.Seconds())
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisionsTotal.WithLabelValues(action, outcome).Inc()
}
