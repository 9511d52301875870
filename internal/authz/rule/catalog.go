// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package rule implements the rule catalog, typed rule evaluators,
// batch evaluation, and cross-role aggregation for the lending
// authorization core.
package rule

import (
	"sync"

	"github.com/samber/oops"
)

// ValueKind classifies how a rule type's raw value is parsed and compared.
type ValueKind int

// ValueKind constants for the supported rule value semantics.
const (
	KindAmount        ValueKind = iota // amount
	KindMonthlyAmount                  // monthly_amount
	KindCount                          // count
	KindPercentage                     // percentage
	KindMinimum                        // minimum
	KindGrade                          // grade
	KindScope                          // scope
	KindTimeRange                      // time_range
	KindLevel                          // level
	KindIPList                         // ip_list
	KindGeoList                        // geo_list
	KindDelay                          // delay
)

var valueKindStrings = [...]string{
	"amount",
	"monthly_amount",
	"count",
	"percentage",
	"minimum",
	"grade",
	"scope",
	"time_range",
	"level",
	"ip_list",
	"geo_list",
	"delay",
}

func (k ValueKind) String() string {
	if k >= 0 && int(k) < len(valueKindStrings) {
		return valueKindStrings[k]
	}
	return "unknown"
}

// Ordered reports whether values of this kind have a total order that
// aggregation strategies can compare.
func (k ValueKind) Ordered() bool {
	switch k {
	case KindAmount, KindMonthlyAmount, KindCount, KindPercentage,
		KindMinimum, KindGrade, KindLevel, KindDelay:
		return true
	default:
		return false
	}
}

// Built-in lending rule type identifiers.
const (
	TypeLoanApprovalLimit     = "loan_approval_limit"
	TypeMonthlyApprovalLimit  = "monthly_approval_limit"
	TypeDailyApprovalCount    = "daily_approval_count"
	TypeMaxExposurePercentage = "max_exposure_percentage"
	TypeMinCreditScore        = "min_credit_score"
	TypeMaxRiskGrade          = "max_risk_grade"
	TypeAllowedChannels       = "allowed_channels"
	TypeWorkingHours          = "working_hours"
	TypeComplianceLevel       = "compliance_level"
	TypeAllowedIPRanges       = "allowed_ip_ranges"
	TypeAllowedCountries      = "allowed_countries"
	TypeApprovalDelayHours    = "approval_delay_hours"
)

// ComplianceLevels is the fixed ordered vocabulary for the
// compliance_level rule type, least to most stringent.
var ComplianceLevels = []string{"basic", "enhanced", "premium"}

// EvaluatorFunc evaluates a raw rule value against an evaluation input.
// It returns errNotApplicable (wrapped) when the input carries no claim
// for the rule, and any other error for malformed rule values.
type EvaluatorFunc func(rawValue string, in Input) (Verdict, error)

// Verdict is the evaluator-level result before outcome classification.
type Verdict struct {
	Allowed bool
	Reason  string
	Details map[string]any
}

type registration struct {
	kind ValueKind
	eval EvaluatorFunc
}

// Registry is the rule catalog: it maps rule-type identifiers to their
// value kind and evaluator. Identifiers are immutable once registered;
// tenants extend the catalog by registering additional types at
// startup, not by editing a central dispatch.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

// NewRegistry creates a Registry pre-populated with the built-in
// lending rule types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]registration)}

	must := func(id string, kind ValueKind, eval EvaluatorFunc) {
		if err := r.Register(id, kind, eval); err != nil {
			panic(err)
		}
	}

	must(TypeLoanApprovalLimit, KindAmount, evalAmount)
	must(TypeMonthlyApprovalLimit, KindMonthlyAmount, evalMonthlyAmount)
	must(TypeDailyApprovalCount, KindCount, evalCount)
	must(TypeMaxExposurePercentage, KindPercentage, evalPercentage)
	must(TypeMinCreditScore, KindMinimum, evalMinimum)
	must(TypeMaxRiskGrade, KindGrade, evalGrade)
	must(TypeAllowedChannels, KindScope, evalScope)
	must(TypeWorkingHours, KindTimeRange, evalTimeRange)
	must(TypeComplianceLevel, KindLevel, evalLevel(ComplianceLevels))
	must(TypeAllowedIPRanges, KindIPList, evalMembership("ip"))
	must(TypeAllowedCountries, KindGeoList, evalMembership("country"))
	must(TypeApprovalDelayHours, KindDelay, evalDelay)

	return r
}

// Register adds a rule type to the catalog. Registering an identifier
// twice is an error: identifiers are immutable once in the catalog.
func (r *Registry) Register(id string, kind ValueKind, eval EvaluatorFunc) error {
	if id == "" {
		return oops.Code("RULE_TYPE_INVALID").Errorf("rule type identifier must not be empty")
	}
	if eval == nil {
		return oops.Code("RULE_TYPE_INVALID").With("rule_type", id).
			Errorf("rule type evaluator must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[id]; exists {
		return oops.Code("RULE_TYPE_EXISTS").With("rule_type", id).
			Errorf("rule type %q already registered", id)
	}
	r.types[id] = registration{kind: kind, eval: eval}
	return nil
}

// Kind returns the value kind for a rule type, and whether the type is
// in the catalog.
func (r *Registry) Kind(id string) (ValueKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[id]
	return reg.kind, ok
}

// lookup returns the registration for a rule type.
func (r *Registry) lookup(id string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.types[id]
	return reg, ok
}

// Types returns the registered rule type identifiers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	return ids
}
