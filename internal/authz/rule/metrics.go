// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package rule

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// Metrics for rule evaluation.
var (
	// evaluateDuration tracks the latency of individual rule evaluations.
	evaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_rule_evaluate_duration_seconds",
		Help:    "Histogram of rule evaluation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ruleEvaluations counts evaluations by rule type and outcome.
	ruleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_rule_evaluations_total",
		Help: "Total number of rule evaluations",
	}, []string{"rule_type", "outcome"})

	// aggregationDiagnostics counts aggregation conflicts by rule type
	// and resolution.
	aggregationDiagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_rule_aggregation_diagnostics_total",
		Help: "Total number of cross-role aggregation conflicts recorded",
	}, []string{"rule_type", "resolution"})
)

func recordEvaluation(r types.RuleResult) {
	evaluateDuration.Observe(r.Elapsed.Seconds())
	ruleEvaluations.WithLabelValues(r.RuleType, r.Outcome.String()).Inc()
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("evaluator panic: %w", err)
	}
	return fmt.Errorf("evaluator panic: %v", r)
}
