// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanguard/loanguard/internal/authz/audit"
	"github.com/loanguard/loanguard/internal/authz/rule"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// fakeSource implements resolver.Source with fixed data.
type fakeSource struct {
	perms   []types.Permission
	perRole []rule.RoleRules

	permsErr   error
	perRoleErr error
	panics     bool
}

func (f *fakeSource) EffectivePermissions(_ context.Context, _, _ string) ([]types.Permission, error) {
	if f.panics {
		panic("source blew up")
	}
	if f.permsErr != nil {
		return nil, f.permsErr
	}
	return f.perms, nil
}

func (f *fakeSource) PerRoleRules(_ context.Context, _, _ string) ([]rule.RoleRules, error) {
	if f.perRoleErr != nil {
		return nil, f.perRoleErr
	}
	return f.perRole, nil
}

// captureSink records audit events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) WriteSync(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) WriteAsync(event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func officerSource() *fakeSource {
	return &fakeSource{
		perms: []types.Permission{
			{Name: "loans:approve"},
			{Name: "customers:read"},
		},
		perRole: []rule.RoleRules{
			{
				RoleID: "role-officer",
				Rules: map[string]rule.RuleValue{
					rule.TypeLoanApprovalLimit: {Raw: "100000"},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T, src *fakeSource, opts ...Option) (*Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	logger := audit.NewLogger(sink)
	t.Cleanup(func() {
		require.NoError(t, logger.Close())
	})
	return New(rule.NewRegistry(), src, logger, opts...), sink
}

func TestValidateAction_Allowed(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 90000.0})

	assert.True(t, d.IsAllowed())
	assert.NoError(t, d.Validate())
	assert.Equal(t, "loans:approve", d.RequiredPermission)
	require.Len(t, d.RuleResults, 1)
	assert.Equal(t, types.OutcomeApplicable, d.RuleResults[0].Outcome)
}

func TestValidateAction_AmountExceedsLimit(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 150000.0})

	assert.False(t, d.IsAllowed())
	assert.NoError(t, d.Validate())
	assert.NotEmpty(t, d.Reason)
	require.NotEmpty(t, d.RuleResults)
	assert.True(t, d.RuleResults[len(d.RuleResults)-1].Blocks())
}

func TestValidateAction_UnknownAction(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.teleport", nil)

	assert.False(t, d.IsAllowed())
	assert.Equal(t, "unknown action", d.Reason)
}

func TestValidateAction_MissingPermission(t *testing.T) {
	src := officerSource()
	src.perms = []types.Permission{{Name: "customers:read"}}
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 1000.0})

	assert.False(t, d.IsAllowed())
	assert.Equal(t, "missing permission", d.Reason)
	assert.Equal(t, "loans:approve", d.RequiredPermission)
}

func TestValidateAction_GlobGrant(t *testing.T) {
	src := officerSource()
	src.perms = []types.Permission{{Name: "loans:*"}}
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 90000.0})

	assert.True(t, d.IsAllowed())
}

func TestValidateAction_SourceErrorDeniesGenerically(t *testing.T) {
	src := officerSource()
	src.permsErr = errors.New("database on fire: credentials=hunter2")
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve", nil)

	assert.False(t, d.IsAllowed())
	// Internal failure details never leak into the decision.
	assert.Equal(t, "authorization check failed", d.Reason)
}

func TestValidateAction_RuleResolutionErrorDenies(t *testing.T) {
	src := officerSource()
	src.perRoleErr = errors.New("timeout")
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve", nil)

	assert.False(t, d.IsAllowed())
	assert.Equal(t, "authorization check failed", d.Reason)
}

func TestValidateAction_PanicAbsorbed(t *testing.T) {
	src := officerSource()
	src.panics = true
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve", nil)

	assert.False(t, d.IsAllowed())
	assert.Equal(t, "authorization check failed", d.Reason)
}

func TestValidateAction_ShortCircuitsAtFirstBlock(t *testing.T) {
	src := officerSource()
	src.perRole = []rule.RoleRules{
		{
			RoleID: "role-officer",
			Rules: map[string]rule.RuleValue{
				rule.TypeLoanApprovalLimit: {Raw: "100000"},
				rule.TypeMinCreditScore:    {Raw: "650"},
			},
		},
	}
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 150000.0, "creditScore": 700.0})

	assert.False(t, d.IsAllowed())
	// The approval limit blocks first; the credit score rule is never
	// reached.
	require.Len(t, d.RuleResults, 1)
	assert.Equal(t, rule.TypeLoanApprovalLimit, d.RuleResults[0].RuleType)
}

func TestValidateAction_NotApplicableDoesNotBlock(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	// No amount in the request context: the limit rule is not
	// applicable and must not deny.
	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{})

	assert.True(t, d.IsAllowed())
	require.Len(t, d.RuleResults, 1)
	assert.Equal(t, types.OutcomeNotApplicable, d.RuleResults[0].Outcome)
}

func TestValidateAction_SkipsUnboundRuleTypes(t *testing.T) {
	src := officerSource()
	// The principal carries no rule values at all; every binding is
	// skipped and the permission alone decides.
	src.perRole = nil
	e, _ := newTestEngine(t, src)

	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 99999999.0})

	assert.True(t, d.IsAllowed())
	assert.Empty(t, d.RuleResults)
}

func TestValidateAction_ConditionScopesRule(t *testing.T) {
	src := officerSource()
	src.perRole = []rule.RoleRules{
		{
			RoleID: "role-officer",
			Rules: map[string]rule.RuleValue{
				rule.TypeLoanApprovalLimit: {Raw: "100000", Condition: `channel == "online"`},
			},
		},
	}
	e, _ := newTestEngine(t, src)

	t.Run("condition met enforces the limit", func(t *testing.T) {
		d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
			map[string]any{"amount": 150000.0, "channel": "online"})
		assert.False(t, d.IsAllowed())
	})

	t.Run("condition unmet skips the limit", func(t *testing.T) {
		d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
			map[string]any{"amount": 150000.0, "channel": "branch"})
		assert.True(t, d.IsAllowed())
	})
}

func TestValidateAction_CrossRoleAggregation(t *testing.T) {
	src := officerSource()
	src.perRole = []rule.RoleRules{
		{RoleID: "role-officer", Rules: map[string]rule.RuleValue{
			rule.TypeLoanApprovalLimit: {Raw: "100000"},
		}},
		{RoleID: "role-manager", Rules: map[string]rule.RuleValue{
			rule.TypeLoanApprovalLimit: {Raw: "500000"},
		}},
	}
	e, _ := newTestEngine(t, src)

	// TakeMaximum: the branch-manager ceiling applies.
	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 300000.0})
	assert.True(t, d.IsAllowed())
}

func TestValidateAction_RequireConsistencyDropsConflicts(t *testing.T) {
	src := officerSource()
	src.perRole = []rule.RoleRules{
		{RoleID: "role-officer", Rules: map[string]rule.RuleValue{
			rule.TypeLoanApprovalLimit: {Raw: "100000"},
		}},
		{RoleID: "role-manager", Rules: map[string]rule.RuleValue{
			rule.TypeLoanApprovalLimit: {Raw: "500000"},
		}},
	}
	e, _ := newTestEngine(t, src, WithStrategy(rule.RequireConsistency))

	// Disagreeing contributions are dropped; no limit applies.
	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 300000.0})
	assert.True(t, d.IsAllowed())
	assert.Empty(t, d.RuleResults)
}

func TestValidateAction_MonthlyUsage(t *testing.T) {
	src := officerSource()
	src.perRole = []rule.RoleRules{
		{RoleID: "role-officer", Rules: map[string]rule.RuleValue{
			rule.TypeMonthlyApprovalLimit: {Raw: "500000"},
		}},
	}
	e, _ := newTestEngine(t, src)

	t.Run("headroom remains", func(t *testing.T) {
		d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
			map[string]any{"amount": 100000.0, "monthlyUsage": 350000.0})
		assert.True(t, d.IsAllowed())
	})

	t.Run("ceiling exhausted", func(t *testing.T) {
		d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
			map[string]any{"amount": 200000.0, "monthlyUsage": 350000.0})
		assert.False(t, d.IsAllowed())
	})
}

func TestValidateAction_AuditsEveryDecision(t *testing.T) {
	e, sink := newTestEngine(t, officerSource())

	e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 90000.0})
	e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.approve",
		map[string]any{"amount": 150000.0})

	// Denials are written synchronously; drain the async allow too.
	d := e.ValidateAction(context.Background(), "tenant-1", "user-1", "loan.teleport", nil)
	assert.False(t, d.IsAllowed())

	assert.Eventually(t, func() bool {
		return len(sink.all()) == 3
	}, time.Second, 10*time.Millisecond)

	bySuccess := map[bool]int{}
	for _, event := range sink.all() {
		assert.Equal(t, "decision", event.Entity)
		bySuccess[event.Success]++
	}
	assert.Equal(t, 1, bySuccess[true])
	assert.Equal(t, 2, bySuccess[false])
}

func TestEngine_HasPermission(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())
	ctx := context.Background()

	ok, err := e.HasPermission(ctx, "tenant-1", "user-1", "loans:approve")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.HasPermission(ctx, "tenant-1", "user-1", "rates:override")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_HasPermission_Error(t *testing.T) {
	src := officerSource()
	src.permsErr = errors.New("connection refused")
	e, _ := newTestEngine(t, src)

	_, err := e.HasPermission(context.Background(), "tenant-1", "user-1", "loans:approve")
	require.Error(t, err)
}

func TestEngine_HasPermissions(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	got, err := e.HasPermissions(context.Background(), "tenant-1", "user-1",
		[]string{"loans:approve", "rates:override", "customers:read"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, got)
}

func TestEngine_GetEffectiveRules(t *testing.T) {
	e, _ := newTestEngine(t, officerSource())

	ruleSet, err := e.GetEffectiveRules(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)

	resolved, ok := ruleSet.Get(rule.TypeLoanApprovalLimit)
	require.True(t, ok)
	assert.Equal(t, "100000", resolved.Value)
}

func TestActions_CoverBuiltinTable(t *testing.T) {
	actions := Actions()
	for _, name := range []string{
		"loan.approve", "loan.disburse", "loan.writeoff",
		"rate.override", "customer.view", "report.export",
	} {
		assert.Contains(t, actions, name)
	}
}
