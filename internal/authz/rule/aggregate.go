// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package rule

import (
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// Strategy selects how disagreeing per-role rule values are resolved
// into a single effective value.
type Strategy int

// Conflict-resolution strategies.
const (
	TakeMaximum        Strategy = iota // take_maximum
	TakeMinimum                        // take_minimum
	TakeFirst                          // take_first
	TakeLast                           // take_last
	RequireConsistency                 // require_consistency
)

var strategyStrings = [...]string{
	"take_maximum",
	"take_minimum",
	"take_first",
	"take_last",
	"require_consistency",
}

func (s Strategy) String() string {
	if s >= 0 && int(s) < len(strategyStrings) {
		return strategyStrings[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ParseStrategy parses a strategy name as found in configuration.
func ParseStrategy(s string) (Strategy, error) {
	for i, name := range strategyStrings {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Strategy(i), nil
		}
	}
	return 0, oops.Code("STRATEGY_INVALID").With("strategy", s).
		Errorf("unknown aggregation strategy %q", s)
}

// RuleValue is one role's raw assignment for a rule type.
type RuleValue struct {
	Raw       string
	Condition string
}

// RoleRules is one role's contribution to aggregation: its rule-type
// to value map, tagged with the contributing role for diagnostics.
type RoleRules struct {
	RoleID string
	Rules  map[string]RuleValue
}

// Contribution records which role contributed which raw value to a
// disagreeing rule type.
type Contribution struct {
	RoleID string
	Raw    string
}

// Diagnostic is recorded for every rule type whose contributing roles
// disagreed, retaining the raw per-role values for later inspection.
type Diagnostic struct {
	RuleType      string
	Strategy      Strategy
	Contributions []Contribution
	Resolution    string // "resolved", "dropped", "kept_first"
	Resolved      string // winning raw value; empty when dropped
}

// Resolve aggregates per-role rule maps into one effective value per
// rule type. It is a pure function: no I/O, no caching. Under
// RequireConsistency a disagreeing rule type is dropped from the
// effective set — absence, not an error. A rule type contributed by
// exactly one role passes through unchanged.
func Resolve(registry *Registry, perRole []RoleRules, strategy Strategy) (types.EffectiveRuleSet, []Diagnostic) {
	effective := make(types.EffectiveRuleSet)
	if len(perRole) == 0 {
		return effective, nil
	}

	// Collect contributions per rule type in role order.
	order := make([]string, 0)
	byType := make(map[string][]contribution)
	for _, role := range perRole {
		for ruleType, value := range role.Rules {
			if _, seen := byType[ruleType]; !seen {
				order = append(order, ruleType)
			}
			byType[ruleType] = append(byType[ruleType], contribution{
				roleID: role.RoleID,
				value:  value,
			})
		}
	}

	var diagnostics []Diagnostic
	for _, ruleType := range order {
		contribs := byType[ruleType]
		if len(contribs) == 1 {
			effective[ruleType] = contribs[0].value.resolved()
			continue
		}

		if agree(contribs) {
			effective[ruleType] = contribs[0].value.resolved()
			continue
		}

		winner, diag := resolveConflict(registry, ruleType, contribs, strategy)
		diagnostics = append(diagnostics, diag)
		aggregationDiagnostics.WithLabelValues(ruleType, diag.Resolution).Inc()
		if winner != nil {
			effective[ruleType] = winner.resolved()
		}
	}
	return effective, diagnostics
}

type contribution struct {
	roleID string
	value  RuleValue
}

func (v RuleValue) resolved() types.ResolvedRule {
	return types.ResolvedRule{Value: v.Raw, Condition: v.Condition}
}

func agree(contribs []contribution) bool {
	first := contribs[0].value.Raw
	for _, c := range contribs[1:] {
		if c.value.Raw != first {
			return false
		}
	}
	return true
}

// resolveConflict picks the winning contribution for a disagreeing rule
// type, or nil when the strategy drops it.
func resolveConflict(registry *Registry, ruleType string, contribs []contribution, strategy Strategy) (*RuleValue, Diagnostic) {
	diag := Diagnostic{
		RuleType: ruleType,
		Strategy: strategy,
	}
	for _, c := range contribs {
		diag.Contributions = append(diag.Contributions, Contribution{
			RoleID: c.roleID,
			Raw:    c.value.Raw,
		})
	}

	switch strategy {
	case RequireConsistency:
		diag.Resolution = "dropped"
		return nil, diag

	case TakeFirst:
		diag.Resolution = "resolved"
		diag.Resolved = contribs[0].value.Raw
		return &contribs[0].value, diag

	case TakeLast:
		last := contribs[len(contribs)-1]
		diag.Resolution = "resolved"
		diag.Resolved = last.value.Raw
		return &last.value, diag

	case TakeMaximum, TakeMinimum:
		kind, known := registry.Kind(ruleType)
		if !known || !kind.Ordered() {
			// Unordered kinds have no largest value; keep the first
			// contribution so the resolution stays deterministic, and
			// leave the disagreement visible in the diagnostic.
			diag.Resolution = "kept_first"
			diag.Resolved = contribs[0].value.Raw
			return &contribs[0].value, diag
		}

		winner := contribs[0]
		for _, c := range contribs[1:] {
			greater, err := orderedGreater(kind, c.value.Raw, winner.value.Raw)
			if err != nil {
				diag.Resolution = "kept_first"
				diag.Resolved = contribs[0].value.Raw
				return &contribs[0].value, diag
			}
			if (strategy == TakeMaximum && greater) || (strategy == TakeMinimum && !greater && c.value.Raw != winner.value.Raw) {
				winner = c
			}
		}
		diag.Resolution = "resolved"
		diag.Resolved = winner.value.Raw
		return &winner.value, diag
	}

	diag.Resolution = "dropped"
	return nil, diag
}

// orderedGreater reports whether a > b under the kind's order. For
// grade kinds "greater" means higher risk: TakeMaximum deliberately
// selects the highest-risk grade among contributing roles, widening
// tolerance to the most senior role's ceiling. This mirrors the
// observed production behavior and must not be "corrected" to the
// strictest grade.
func orderedGreater(kind ValueKind, a, b string) (bool, error) {
	switch kind {
	case KindGrade:
		ga, err := types.ParseGrade(a)
		if err != nil {
			return false, err
		}
		gb, err := types.ParseGrade(b)
		if err != nil {
			return false, err
		}
		return ga.RiskierThan(gb), nil
	case KindLevel:
		ia, err := levelIndex(ComplianceLevels, a)
		if err != nil {
			return false, err
		}
		ib, err := levelIndex(ComplianceLevels, b)
		if err != nil {
			return false, err
		}
		return ia > ib, nil
	default:
		fa, err := parseFloat(a)
		if err != nil {
			return false, err
		}
		fb, err := parseFloat(b)
		if err != nil {
			return false, err
		}
		return fa > fb, nil
	}
}
