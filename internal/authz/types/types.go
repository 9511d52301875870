// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package types defines the core value types for the authorization
// decision core: outcome kinds, rule evaluation results, permissions,
// risk grades, and the composed authorization decision.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies the result of a single rule evaluation.
type Outcome int

// Outcome constants define the possible rule evaluation outcomes.
const (
	OutcomeApplicable    Outcome = iota // applicable
	OutcomeNotApplicable                // not_applicable
	OutcomeError                        // error
	OutcomeUnknownRule                  // unknown_rule
	OutcomeCancelled                    // cancelled
)

var outcomeStrings = [...]string{
	"applicable",
	"not_applicable",
	"error",
	"unknown_rule",
	"cancelled",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeStrings) {
		return outcomeStrings[o]
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// RuleResult is the outcome of evaluating one rule against one context
// value. Exactly one Outcome kind applies; Allowed is meaningful only
// for OutcomeApplicable.
type RuleResult struct {
	RuleType string
	Allowed  bool
	Outcome  Outcome
	Reason   string
	Details  map[string]any
	Elapsed  time.Duration
}

// Blocks reports whether this result should deny the surrounding
// decision. NotApplicable, UnknownRule, and Error outcomes are
// informational and do not block on their own.
func (r RuleResult) Blocks() bool {
	return r.Outcome == OutcomeApplicable && !r.Allowed
}

// RiskLevel classifies the sensitivity of a permission.
type RiskLevel string

// RiskLevel constants, ordered from least to most sensitive.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Permission is a named capability in "resource:action" form.
// Names compare case-insensitively.
type Permission struct {
	Name     string
	Risk     RiskLevel
	Category string
}

// NormalizePermission canonicalizes a permission name for comparison.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SamePermission reports whether two permission names refer to the same
// permission under case-insensitive comparison.
func SamePermission(a, b string) bool {
	return NormalizePermission(a) == NormalizePermission(b)
}

// EnforcementLevel controls whether a fired SoD rule blocks the action.
type EnforcementLevel string

// Enforcement levels for segregation-of-duties rules.
const (
	EnforcementStrict  EnforcementLevel = "strict"
	EnforcementWarning EnforcementLevel = "warning"
)

// Grade is a credit risk grade on the fixed total order A<B<C<D<F,
// risk increasing.
type Grade int

// Grade constants in increasing risk order.
const (
	GradeA Grade = iota
	GradeB
	GradeC
	GradeD
	GradeF
)

var gradeStrings = [...]string{"A", "B", "C", "D", "F"}

func (g Grade) String() string {
	if g >= 0 && int(g) < len(gradeStrings) {
		return gradeStrings[g]
	}
	return fmt.Sprintf("unknown(%d)", int(g))
}

// ParseGrade parses a single-letter risk grade, case-insensitively.
func ParseGrade(s string) (Grade, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return GradeA, nil
	case "B":
		return GradeB, nil
	case "C":
		return GradeC, nil
	case "D":
		return GradeD, nil
	case "F":
		return GradeF, nil
	default:
		return 0, fmt.Errorf("invalid risk grade %q", s)
	}
}

// RiskierThan reports whether g carries more risk than other.
func (g Grade) RiskierThan(other Grade) bool {
	return g > other
}

// ResolvedRule is one rule type's effective value for a principal after
// cross-role aggregation. Condition, when non-empty, is a condition
// expression gating the rule's applicability per request.
type ResolvedRule struct {
	Value     string
	Condition string
}

// EffectiveRuleSet maps rule-type identifiers to their resolved values
// for a single principal. One value per rule type.
type EffectiveRuleSet map[string]ResolvedRule

// Get returns the resolved rule for a rule type, and whether it exists.
func (s EffectiveRuleSet) Get(ruleType string) (ResolvedRule, bool) {
	r, ok := s[ruleType]
	return r, ok
}

// Decision is the composed result of an authorization check.
// The allowed field is unexported so it cannot drift from the rule
// results that produced it.
type Decision struct {
	allowed            bool
	Reason             string
	RequiredPermission string
	RuleResults        []RuleResult
}

// Allow creates an allowed Decision carrying the full ordered rule
// results for the action.
func Allow(requiredPermission string, results []RuleResult) Decision {
	return Decision{
		allowed:            true,
		Reason:             "allowed",
		RequiredPermission: requiredPermission,
		RuleResults:        results,
	}
}

// Deny creates a denied Decision with the rule results evaluated up to
// the point of denial.
func Deny(reason, requiredPermission string, results []RuleResult) Decision {
	return Decision{
		allowed:            false,
		Reason:             reason,
		RequiredPermission: requiredPermission,
		RuleResults:        results,
	}
}

// IsAllowed returns whether the decision grants access.
func (d Decision) IsAllowed() bool {
	return d.allowed
}

// Validate checks the Decision invariant: an allowed decision must not
// carry any blocking rule result. Called at engine return boundaries.
func (d Decision) Validate() error {
	if !d.allowed {
		return nil
	}
	for _, r := range d.RuleResults {
		if r.Blocks() {
			return fmt.Errorf(
				"decision invariant violated: allowed but rule %s evaluated to not allowed",
				r.RuleType,
			)
		}
	}
	return nil
}
