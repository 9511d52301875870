// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// fakeStore implements store.Store from in-memory maps.
type fakeStore struct {
	assignments map[string][]store.Assignment // keyed by tenant:principal
	perms       map[string][]types.Permission // keyed by role ID
	rules       map[string][]store.RoleRule   // keyed by role ID

	assignErr error
	permsErr  error
	rulesErr  error
}

func (f *fakeStore) ActiveAssignments(_ context.Context, tenantID, principalID string) ([]store.Assignment, error) {
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	return f.assignments[tenantID+":"+principalID], nil
}

func (f *fakeStore) Role(_ context.Context, roleID string) (*store.Role, error) {
	if _, ok := f.perms[roleID]; !ok {
		return nil, oops.Code("NOT_FOUND").Errorf("role not found")
	}
	return &store.Role{ID: roleID, Active: true}, nil
}

func (f *fakeStore) RolePermissions(_ context.Context, roleID string) ([]types.Permission, error) {
	if f.permsErr != nil {
		return nil, f.permsErr
	}
	return f.perms[roleID], nil
}

func (f *fakeStore) RoleRules(_ context.Context, roleID string) ([]store.RoleRule, error) {
	if f.rulesErr != nil {
		return nil, f.rulesErr
	}
	return f.rules[roleID], nil
}

func (f *fakeStore) ActivePrincipals(_ context.Context, tenantID string) ([]string, error) {
	var out []string
	for key := range f.assignments {
		if len(key) > len(tenantID) && key[:len(tenantID)] == tenantID {
			out = append(out, key[len(tenantID)+1:])
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveSoDRules(_ context.Context, _ string) ([]store.SoDRule, error) {
	return nil, nil
}

func (f *fakeStore) CreateSoDRule(_ context.Context, _ *store.SoDRule) error { return nil }
func (f *fakeStore) UpdateSoDRule(_ context.Context, _ *store.SoDRule) error { return nil }

func twoRoleStore() *fakeStore {
	return &fakeStore{
		assignments: map[string][]store.Assignment{
			"tenant-1:user-1": {
				{PrincipalID: "user-1", RoleID: "role-officer", TenantID: "tenant-1"},
				{PrincipalID: "user-1", RoleID: "role-manager", TenantID: "tenant-1"},
			},
		},
		perms: map[string][]types.Permission{
			"role-officer": {
				{Name: "loans:read", Risk: types.RiskLow},
				{Name: "loans:approve", Risk: types.RiskHigh},
			},
			"role-manager": {
				{Name: "LOANS:APPROVE", Risk: types.RiskHigh},
				{Name: "rates:override", Risk: types.RiskHigh},
			},
		},
		rules: map[string][]store.RoleRule{
			"role-officer": {
				{RoleID: "role-officer", RuleType: "loan_approval_limit", RawValue: "100000", Active: true},
				{RoleID: "role-officer", RuleType: "working_hours", RawValue: "08:00-17:00", Active: true},
			},
			"role-manager": {
				{RoleID: "role-manager", RuleType: "loan_approval_limit", RawValue: "500000", Active: true},
			},
		},
	}
}

func TestResolver_EffectivePermissions(t *testing.T) {
	r := New(twoRoleStore())

	perms, err := r.EffectivePermissions(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)

	// "loans:approve" and "LOANS:APPROVE" are the same permission; the
	// union has three members, sorted by normalized name.
	require.Len(t, perms, 3)
	assert.Equal(t, "loans:approve", perms[0].Name)
	assert.Equal(t, "loans:read", perms[1].Name)
	assert.Equal(t, "rates:override", perms[2].Name)
}

func TestResolver_EffectivePermissions_NoAssignments(t *testing.T) {
	r := New(&fakeStore{})

	perms, err := r.EffectivePermissions(context.Background(), "tenant-1", "nobody")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestResolver_EffectivePermissions_StoreError(t *testing.T) {
	r := New(&fakeStore{assignErr: errors.New("connection refused")})

	_, err := r.EffectivePermissions(context.Background(), "tenant-1", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResolver_PerRoleRules(t *testing.T) {
	r := New(twoRoleStore())

	perRole, err := r.PerRoleRules(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)

	// Assignment order is preserved for order-sensitive strategies.
	require.Len(t, perRole, 2)
	assert.Equal(t, "role-officer", perRole[0].RoleID)
	assert.Equal(t, "role-manager", perRole[1].RoleID)
	assert.Equal(t, "100000", perRole[0].Rules["loan_approval_limit"].Raw)
	assert.Equal(t, "500000", perRole[1].Rules["loan_approval_limit"].Raw)
	assert.Contains(t, perRole[0].Rules, "working_hours")
}

func TestResolver_PerRoleRules_SkipsRulelessRoles(t *testing.T) {
	s := twoRoleStore()
	s.rules["role-manager"] = nil

	r := New(s)
	perRole, err := r.PerRoleRules(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)

	require.Len(t, perRole, 1)
	assert.Equal(t, "role-officer", perRole[0].RoleID)
}

func TestResolver_PerRoleRules_StoreError(t *testing.T) {
	s := twoRoleStore()
	s.rulesErr = errors.New("timeout")

	r := New(s)
	_, err := r.PerRoleRules(context.Background(), "tenant-1", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestHasPermission(t *testing.T) {
	perms := []types.Permission{
		{Name: "loans:read"},
		{Name: "Reports:Export"},
	}

	assert.True(t, HasPermission(perms, "loans:read"))
	assert.True(t, HasPermission(perms, "LOANS:READ"), "comparison is case-insensitive")
	assert.True(t, HasPermission(perms, "reports:export"))
	assert.False(t, HasPermission(perms, "loans:approve"))
	assert.False(t, HasPermission(nil, "loans:read"))
}

func TestHasPermission_Glob(t *testing.T) {
	perms := []types.Permission{{Name: "loans:*"}}

	assert.True(t, HasPermission(perms, "loans:approve"))
	assert.True(t, HasPermission(perms, "loans:disburse"))

	// The separator keeps wildcards within one segment.
	assert.False(t, HasPermission(perms, "rates:override"))
}

func TestHasPermissions(t *testing.T) {
	perms := []types.Permission{{Name: "loans:read"}, {Name: "loans:approve"}}

	got := HasPermissions(perms, []string{"loans:read", "rates:override", "loans:approve"})
	assert.Equal(t, []bool{true, false, true}, got)

	assert.Empty(t, HasPermissions(perms, nil))
}
