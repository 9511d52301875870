// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package resolver computes a principal's effective permission set and
// per-role rule maps from the role/permission store, with an optional
// read-through TTL cache.
package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/rule"
	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// Source resolves permissions and rules for a principal. The store-
// backed Resolver implements it; the caching decorator wraps it.
type Source interface {
	// EffectivePermissions returns the union of permissions from the
	// principal's active, non-revoked role assignments. Names are
	// deduplicated case-insensitively.
	EffectivePermissions(ctx context.Context, tenantID, principalID string) ([]types.Permission, error)

	// PerRoleRules returns the principal's active rule assignments
	// grouped by contributing role, in assignment order, ready for
	// aggregation.
	PerRoleRules(ctx context.Context, tenantID, principalID string) ([]rule.RoleRules, error)
}

// Resolver is the store-backed Source.
type Resolver struct {
	store store.Store
}

// Compile-time check that Resolver implements Source.
var _ Source = (*Resolver)(nil)

// New creates a Resolver over the given store.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// EffectivePermissions returns the union of the principal's role
// permissions, deduplicated case-insensitively and sorted by name.
func (r *Resolver) EffectivePermissions(ctx context.Context, tenantID, principalID string) ([]types.Permission, error) {
	assignments, err := r.store.ActiveAssignments(ctx, tenantID, principalID)
	if err != nil {
		return nil, oops.With("principal_id", principalID).Wrapf(err, "resolving permissions")
	}

	seen := make(map[string]struct{})
	var perms []types.Permission
	for _, a := range assignments {
		rolePerms, err := r.store.RolePermissions(ctx, a.RoleID)
		if err != nil {
			return nil, oops.With("role_id", a.RoleID).Wrapf(err, "resolving permissions")
		}
		for _, p := range rolePerms {
			key := types.NormalizePermission(p.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			perms = append(perms, p)
		}
	}

	sort.Slice(perms, func(i, j int) bool {
		return types.NormalizePermission(perms[i].Name) < types.NormalizePermission(perms[j].Name)
	})
	return perms, nil
}

// PerRoleRules returns the principal's rule assignments grouped by
// role, preserving assignment order for order-sensitive aggregation
// strategies.
func (r *Resolver) PerRoleRules(ctx context.Context, tenantID, principalID string) ([]rule.RoleRules, error) {
	assignments, err := r.store.ActiveAssignments(ctx, tenantID, principalID)
	if err != nil {
		return nil, oops.With("principal_id", principalID).Wrapf(err, "resolving role rules")
	}

	perRole := make([]rule.RoleRules, 0, len(assignments))
	for _, a := range assignments {
		roleRules, err := r.store.RoleRules(ctx, a.RoleID)
		if err != nil {
			return nil, oops.With("role_id", a.RoleID).Wrapf(err, "resolving role rules")
		}
		if len(roleRules) == 0 {
			continue
		}
		rr := rule.RoleRules{
			RoleID: a.RoleID,
			Rules:  make(map[string]rule.RuleValue, len(roleRules)),
		}
		for _, roleRule := range roleRules {
			rr.Rules[roleRule.RuleType] = rule.RuleValue{
				Raw:       roleRule.RawValue,
				Condition: roleRule.Condition,
			}
		}
		perRole = append(perRole, rr)
	}
	return perRole, nil
}

// HasPermission reports whether the permission set grants the required
// permission. Comparison is case-insensitive; grants may carry glob
// patterns ("loans:*" grants loans:approve).
func HasPermission(perms []types.Permission, required string) bool {
	want := types.NormalizePermission(required)
	for _, p := range perms {
		grant := types.NormalizePermission(p.Name)
		if grant == want {
			return true
		}
		if strings.ContainsAny(grant, "*?[") {
			g, err := glob.Compile(grant, ':')
			if err != nil {
				continue
			}
			if g.Match(want) {
				return true
			}
		}
	}
	return false
}

// HasPermissions reports, per required permission in order, whether the
// permission set grants it.
func HasPermissions(perms []types.Permission, required []string) []bool {
	out := make([]bool, len(required))
	for i, r := range required {
		out[i] = HasPermission(perms, r)
	}
	return out
}
