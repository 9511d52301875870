// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package engine

import "github.com/loanguard/loanguard/internal/authz/rule"

// ruleBinding binds one rule type to the request context value it
// evaluates. An empty ContextKey means the rule is clock-driven and
// takes no context value. UsageKey feeds the accumulator rule kinds.
type ruleBinding struct {
	RuleType   string
	ContextKey string
	UsageKey   string
}

// actionSpec describes one business action: the permission it requires
// and the rules extracted from the request context, in evaluation
// order. Ordering is part of the contract; denial reports the first
// blocking rule.
type actionSpec struct {
	Permission string
	Rules      []ruleBinding
}

// builtinActions is the static action table for the lending domain.
// Unknown actions deny immediately.
var builtinActions = map[string]actionSpec{
	"loan.approve": {
		Permission: "loans:approve",
		Rules: []ruleBinding{
			{RuleType: rule.TypeLoanApprovalLimit, ContextKey: "amount"},
			{RuleType: rule.TypeMonthlyApprovalLimit, ContextKey: "amount", UsageKey: "monthlyUsage"},
			{RuleType: rule.TypeMaxRiskGrade, ContextKey: "riskGrade"},
			{RuleType: rule.TypeMinCreditScore, ContextKey: "creditScore"},
			{RuleType: rule.TypeWorkingHours},
			{RuleType: rule.TypeComplianceLevel, ContextKey: "complianceLevel"},
		},
	},
	"loan.disburse": {
		Permission: "loans:disburse",
		Rules: []ruleBinding{
			{RuleType: rule.TypeLoanApprovalLimit, ContextKey: "amount"},
			{RuleType: rule.TypeApprovalDelayHours, ContextKey: "approvedAt"},
			{RuleType: rule.TypeAllowedChannels, ContextKey: "channel"},
		},
	},
	"loan.writeoff": {
		Permission: "loans:writeoff",
		Rules: []ruleBinding{
			{RuleType: rule.TypeLoanApprovalLimit, ContextKey: "amount"},
			{RuleType: rule.TypeComplianceLevel, ContextKey: "complianceLevel"},
		},
	},
	"rate.override": {
		Permission: "rates:override",
		Rules: []ruleBinding{
			{RuleType: rule.TypeMaxExposurePercentage, ContextKey: "spreadPercent"},
			{RuleType: rule.TypeWorkingHours},
		},
	},
	"customer.view": {
		Permission: "customers:read",
		Rules: []ruleBinding{
			{RuleType: rule.TypeAllowedCountries, ContextKey: "country"},
			{RuleType: rule.TypeAllowedIPRanges, ContextKey: "sourceIP"},
		},
	},
	"report.export": {
		Permission: "reports:export",
		Rules: []ruleBinding{
			{RuleType: rule.TypeWorkingHours},
			{RuleType: rule.TypeAllowedIPRanges, ContextKey: "sourceIP"},
		},
	},
}

// Actions returns the names of the built-in actions.
func Actions() []string {
	names := make([]string, 0, len(builtinActions))
	for name := range builtinActions {
		names = append(names, name)
	}
	return names
}
