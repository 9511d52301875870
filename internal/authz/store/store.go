// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package store defines the role/permission/SoD store interface
// consumed by the authorization core, and its PostgreSQL
// implementation. Reads return only active, non-revoked records.
package store

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// Role is an active collection of permissions and rule assignments.
type Role struct {
	ID        string
	TenantID  string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment links a principal to a role within a tenant.
type Assignment struct {
	PrincipalID string
	RoleID      string
	TenantID    string
	AssignedAt  time.Time
}

// RoleRule is one data-driven business rule attached to a role. The
// raw value must parse under the rule type's value kind; Condition is
// an optional condition expression.
type RoleRule struct {
	RoleID    string
	RuleType  string
	RawValue  string
	Condition string
	Active    bool
}

// SoDRule declares a mutually-exclusive permission combination. It
// fires iff all conflicting permissions are present in the evaluated
// permission set.
type SoDRule struct {
	ID                     string
	TenantID               string
	Name                   string
	Description            string
	ConflictingPermissions []string
	Enforcement            types.EnforcementLevel
	Active                 bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Store is the role/permission/SoD persistence boundary. All reads
// exclude soft-deleted and inactive records.
type Store interface {
	// ActiveAssignments returns the principal's active, non-revoked
	// role assignments within the tenant.
	ActiveAssignments(ctx context.Context, tenantID, principalID string) ([]Assignment, error)

	// Role returns a role by ID, active or not. A missing role is a
	// NOT_FOUND error.
	Role(ctx context.Context, roleID string) (*Role, error)

	// RolePermissions returns the active permissions granted by a role.
	RolePermissions(ctx context.Context, roleID string) ([]types.Permission, error)

	// RoleRules returns the active rule assignments of a role.
	RoleRules(ctx context.Context, roleID string) ([]RoleRule, error)

	// ActivePrincipals returns the principals holding at least one
	// active role assignment in the tenant.
	ActivePrincipals(ctx context.Context, tenantID string) ([]string, error)

	// ActiveSoDRules returns the tenant's active SoD rules.
	ActiveSoDRules(ctx context.Context, tenantID string) ([]SoDRule, error)

	// CreateSoDRule persists a new SoD rule. The rule is validated at
	// write time; vacuous rules never reach evaluation.
	CreateSoDRule(ctx context.Context, rule *SoDRule) error

	// UpdateSoDRule modifies an existing SoD rule.
	UpdateSoDRule(ctx context.Context, rule *SoDRule) error
}

// ValidateSoDRule enforces write-time constraints on a SoD rule
// definition: at least two distinct conflicting permissions
// (case-insensitive) and a known enforcement level. Evaluation-time
// checks alone would let vacuous rules sit in the store.
func ValidateSoDRule(rule *SoDRule) error {
	if rule.Name == "" {
		return oops.Code("SOD_RULE_INVALID").Errorf("sod rule name must not be empty")
	}

	distinct := make(map[string]struct{}, len(rule.ConflictingPermissions))
	for _, p := range rule.ConflictingPermissions {
		norm := types.NormalizePermission(p)
		if norm == "" {
			return oops.Code("SOD_RULE_INVALID").With("name", rule.Name).
				Errorf("sod rule contains an empty permission")
		}
		distinct[norm] = struct{}{}
	}
	if len(distinct) < 2 {
		return oops.Code("SOD_RULE_INVALID").With("name", rule.Name).
			Errorf("sod rule requires at least two distinct conflicting permissions")
	}

	switch rule.Enforcement {
	case types.EnforcementStrict, types.EnforcementWarning:
	default:
		return oops.Code("SOD_RULE_INVALID").With("name", rule.Name).
			With("enforcement", string(rule.Enforcement)).
			Errorf("unknown enforcement level")
	}
	return nil
}
