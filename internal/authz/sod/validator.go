// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package sod evaluates segregation-of-duties rules: declared
// mutually-exclusive permission combinations that no principal may
// hold simultaneously, regardless of role structure.
package sod

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/audit"
	"github.com/loanguard/loanguard/internal/authz/resolver"
	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// FiredRule records one SoD rule that fired against a candidate
// permission set. Contributed is the subset of the conflicting
// permissions introduced by the assignment under test; when the
// assignment adds nothing new, it falls back to the full conflicting
// set so the report is never empty.
type FiredRule struct {
	Rule        store.SoDRule
	Contributed []string
}

// Result is the outcome of a SoD validation. Allowed is false iff at
// least one fired rule carries Strict enforcement; Warning-level fires
// are reported but do not block.
type Result struct {
	Allowed bool
	Fired   []FiredRule
}

// Violation is one (principal, fired rule) pair found by a tenant-wide
// scan.
type Violation struct {
	ID          string
	TenantID    string
	PrincipalID string
	Rule        store.SoDRule
	DetectedAt  time.Time
}

// ScanFailure records a principal whose permission lookup failed during
// a scan. Failures are isolated; they never abort the scan.
type ScanFailure struct {
	PrincipalID string
	Err         error
}

// Report is the outcome of a tenant-wide violation scan.
type Report struct {
	Violations []Violation
	Failures   []ScanFailure
}

// Validator evaluates SoD rules against principals' permission sets.
type Validator struct {
	store  store.Store
	source resolver.Source
	audit  *audit.Logger
}

// NewValidator creates a Validator with the given dependencies.
func NewValidator(s store.Store, source resolver.Source, auditLogger *audit.Logger) *Validator {
	return &Validator{
		store:  s,
		source: source,
		audit:  auditLogger,
	}
}

// ValidateRoleAssignment checks whether assigning a role to a principal
// would violate any active SoD rule. The candidate set is the
// principal's current effective permissions union the role's
// permissions. An unknown role is a NOT_FOUND error, not a conflict.
func (v *Validator) ValidateRoleAssignment(ctx context.Context, tenantID, principalID, roleID string) (*Result, error) {
	role, err := v.store.Role(ctx, roleID)
	if err != nil {
		return nil, err
	}

	current, err := v.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		return nil, oops.With("principal_id", principalID).
			Wrapf(err, "validating role assignment")
	}

	rolePerms, err := v.store.RolePermissions(ctx, role.ID)
	if err != nil {
		return nil, oops.With("role_id", role.ID).
			Wrapf(err, "validating role assignment")
	}

	candidate := permissionSet(current)
	added := make(map[string]struct{}, len(rolePerms))
	for _, p := range rolePerms {
		norm := types.NormalizePermission(p.Name)
		if _, held := candidate[norm]; !held {
			added[norm] = struct{}{}
		}
		candidate[norm] = struct{}{}
	}

	return v.evaluate(ctx, tenantID, principalID, candidate, added)
}

// ValidatePermissionConflicts checks a candidate permission set against
// the principal's current permissions without a specific role context.
func (v *Validator) ValidatePermissionConflicts(ctx context.Context, tenantID, principalID string, candidatePermissions []string) (*Result, error) {
	current, err := v.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		return nil, oops.With("principal_id", principalID).
			Wrapf(err, "validating permission conflicts")
	}

	candidate := permissionSet(current)
	added := make(map[string]struct{}, len(candidatePermissions))
	for _, p := range candidatePermissions {
		norm := types.NormalizePermission(p)
		if _, held := candidate[norm]; !held {
			added[norm] = struct{}{}
		}
		candidate[norm] = struct{}{}
	}

	return v.evaluate(ctx, tenantID, principalID, candidate, added)
}

// evaluate runs every active SoD rule against the candidate set and
// audits each fired rule before returning, Strict or Warning alike, so
// soft violations stay discoverable.
func (v *Validator) evaluate(ctx context.Context, tenantID, principalID string, candidate map[string]struct{}, added map[string]struct{}) (*Result, error) {
	rules, err := v.store.ActiveSoDRules(ctx, tenantID)
	if err != nil {
		return nil, oops.With("tenant_id", tenantID).Wrapf(err, "loading sod rules")
	}

	result := &Result{Allowed: true}
	for _, rule := range rules {
		fired, contributed := fires(rule, candidate, added)
		if !fired {
			continue
		}

		result.Fired = append(result.Fired, FiredRule{
			Rule:        rule,
			Contributed: contributed,
		})
		if rule.Enforcement == types.EnforcementStrict {
			result.Allowed = false
		}

		severity := audit.SeverityWarning
		if rule.Enforcement == types.EnforcementStrict {
			severity = audit.SeverityError
		}
		v.audit.Log(ctx, audit.Event{
			Actor:    principalID,
			Action:   "sod.violation",
			Entity:   "sod_rule",
			EntityID: rule.ID,
			TenantID: tenantID,
			Success:  rule.Enforcement != types.EnforcementStrict,
			Severity: severity,
			Details: map[string]any{
				"rule_name":   rule.Name,
				"enforcement": string(rule.Enforcement),
				"contributed": contributed,
			},
		})
		recordFiredRule(rule)
	}
	return result, nil
}

// DetectViolations scans the whole tenant: for every active principal
// it computes the permission set from active role assignments and
// evaluates all rules. One principal's lookup failure is recorded and
// skipped; it never aborts the scan.
func (v *Validator) DetectViolations(ctx context.Context, tenantID string) (*Report, error) {
	principals, err := v.store.ActivePrincipals(ctx, tenantID)
	if err != nil {
		return nil, oops.With("tenant_id", tenantID).Wrapf(err, "listing principals")
	}

	rules, err := v.store.ActiveSoDRules(ctx, tenantID)
	if err != nil {
		return nil, oops.With("tenant_id", tenantID).Wrapf(err, "loading sod rules")
	}

	report := &Report{}
	for _, principalID := range principals {
		if err := ctx.Err(); err != nil {
			return nil, oops.Wrapf(err, "scan cancelled")
		}

		perms, err := v.source.EffectivePermissions(ctx, tenantID, principalID)
		if err != nil {
			report.Failures = append(report.Failures, ScanFailure{
				PrincipalID: principalID,
				Err:         err,
			})
			continue
		}

		held := permissionSet(perms)
		for _, rule := range rules {
			fired, _ := fires(rule, held, nil)
			if !fired {
				continue
			}
			violation := Violation{
				ID:          ulid.Make().String(),
				TenantID:    tenantID,
				PrincipalID: principalID,
				Rule:        rule,
				DetectedAt:  time.Now(),
			}
			report.Violations = append(report.Violations, violation)

			severity := audit.SeverityWarning
			if rule.Enforcement == types.EnforcementStrict {
				severity = audit.SeverityError
			}
			v.audit.Log(ctx, audit.Event{
				Actor:    principalID,
				Action:   "sod.violation_detected",
				Entity:   "sod_rule",
				EntityID: rule.ID,
				TenantID: tenantID,
				Success:  false,
				Severity: severity,
				Details: map[string]any{
					"rule_name":    rule.Name,
					"violation_id": violation.ID,
				},
			})
			recordFiredRule(rule)
		}
	}
	return report, nil
}

// fires reports whether a rule fires against the candidate set: all of
// its conflicting permissions must be present. The returned slice is
// the contributed subset (conflicting ∩ added), falling back to the
// full conflicting set when the intersection is empty.
func fires(rule store.SoDRule, candidate map[string]struct{}, added map[string]struct{}) (bool, []string) {
	for _, p := range rule.ConflictingPermissions {
		if _, held := candidate[types.NormalizePermission(p)]; !held {
			return false, nil
		}
	}

	var contributed []string
	for _, p := range rule.ConflictingPermissions {
		if _, isNew := added[types.NormalizePermission(p)]; isNew {
			contributed = append(contributed, p)
		}
	}
	if len(contributed) == 0 {
		contributed = append(contributed, rule.ConflictingPermissions...)
	}
	return true, contributed
}

func permissionSet(perms []types.Permission) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[types.NormalizePermission(p.Name)] = struct{}{}
	}
	return set
}
