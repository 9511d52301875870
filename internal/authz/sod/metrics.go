// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package sod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loanguard/loanguard/internal/authz/store"
)

var firedRulesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authz_sod_fired_rules_total",
	Help: "Total number of SoD rule fires by enforcement level",
}, []string{"enforcement"})

func recordFiredRule(rule store.SoDRule) {
	firedRulesCounter.WithLabelValues(string(rule.Enforcement)).Inc()
}
