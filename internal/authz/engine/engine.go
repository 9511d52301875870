// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package engine orchestrates authorization decisions: it combines the
// permission check, effective-rule resolution, and rule evaluation into
// a single fail-closed entry point that always returns a Decision.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loanguard/loanguard/internal/authz/audit"
	"github.com/loanguard/loanguard/internal/authz/resolver"
	"github.com/loanguard/loanguard/internal/authz/rule"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// Engine is the authorization decision orchestrator.
type Engine struct {
	registry  *rule.Registry
	evaluator *rule.Evaluator
	source    resolver.Source
	strategy  rule.Strategy
	audit     *audit.Logger
	actions   map[string]actionSpec
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the cross-role aggregation strategy. The default
// is TakeMaximum.
func WithStrategy(s rule.Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
	}
}

// New creates an Engine with the given dependencies.
func New(registry *rule.Registry, source resolver.Source, auditLogger *audit.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		evaluator: rule.NewEvaluator(registry),
		source:    source,
		strategy:  rule.TakeMaximum,
		audit:     auditLogger,
		actions:   builtinActions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateAction authorizes a business action for a principal. It
// always returns a Decision: collaborator errors and panics are
// absorbed into a generic denial, never propagated. Every decision is
// audited before return.
//
// Steps: action lookup, permission check, rule extraction, sequential
// short-circuit rule evaluation, allow with full ordered results.
func (e *Engine) ValidateAction(ctx context.Context, tenantID, principalID, action string, reqCtx map[string]any) (decision types.Decision) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "authorization check panicked",
				slog.String("action", action),
				slog.Any("panic", r))
			decision = types.Deny("authorization check failed", "", nil)
		}
		e.finish(ctx, start, tenantID, principalID, action, decision)
	}()

	// Step 1: static action table. Unknown actions deny immediately.
	spec, ok := e.actions[action]
	if !ok {
		return types.Deny("unknown action", "", nil)
	}

	// Step 2: permission check, case-insensitive with glob grants.
	perms, err := e.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		slog.ErrorContext(ctx, "permission resolution failed",
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()))
		return types.Deny("authorization check failed", spec.Permission, nil)
	}
	if !resolver.HasPermission(perms, spec.Permission) {
		return types.Deny("missing permission", spec.Permission, nil)
	}

	// Step 3: effective rule set via cross-role aggregation.
	ruleSet, err := e.effectiveRules(ctx, tenantID, principalID)
	if err != nil {
		slog.ErrorContext(ctx, "rule resolution failed",
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()))
		return types.Deny("authorization check failed", spec.Permission, nil)
	}

	// Steps 4-5: evaluate extracted rules in table order, stopping at
	// the first blocking result. Rule types the principal carries no
	// value for are skipped, not denied.
	results := make([]types.RuleResult, 0, len(spec.Rules))
	for _, binding := range spec.Rules {
		resolved, ok := ruleSet.Get(binding.RuleType)
		if !ok {
			continue
		}
		result := e.evaluator.EvaluateResolved(ctx, binding.RuleType, resolved, buildInput(binding, reqCtx))
		results = append(results, result)
		if result.Blocks() {
			return types.Deny(result.Reason, spec.Permission, results)
		}
	}
	return types.Allow(spec.Permission, results)
}

// EvaluateRule evaluates a single rule type against an input without
// the surrounding action orchestration.
func (e *Engine) EvaluateRule(ctx context.Context, ruleType, rawValue string, in rule.Input) types.RuleResult {
	return e.evaluator.Evaluate(ctx, ruleType, rawValue, in)
}

// EvaluateRules evaluates a batch of rule requests concurrently.
func (e *Engine) EvaluateRules(ctx context.Context, requests []rule.Request) []types.RuleResult {
	return e.evaluator.EvaluateAll(ctx, requests)
}

// ResolveEffectiveRules aggregates per-role rule values into a single
// effective rule set using the engine's strategy. It is pure; callers
// holding per-role values use it without touching the store.
func (e *Engine) ResolveEffectiveRules(perRole []rule.RoleRules) (types.EffectiveRuleSet, []rule.Diagnostic) {
	return rule.Resolve(e.registry, perRole, e.strategy)
}

// GetEffectiveRules resolves and aggregates the principal's effective
// rule set from the store or cache.
func (e *Engine) GetEffectiveRules(ctx context.Context, tenantID, principalID string) (types.EffectiveRuleSet, error) {
	return e.effectiveRules(ctx, tenantID, principalID)
}

// HasPermission reports whether the principal's effective permission
// set grants the required permission.
func (e *Engine) HasPermission(ctx context.Context, tenantID, principalID, required string) (bool, error) {
	perms, err := e.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		return false, oops.With("principal_id", principalID).Wrapf(err, "checking permission")
	}
	return resolver.HasPermission(perms, required), nil
}

// HasPermissions reports, per required permission in order, whether the
// principal's effective permission set grants it.
func (e *Engine) HasPermissions(ctx context.Context, tenantID, principalID string, required []string) ([]bool, error) {
	perms, err := e.source.EffectivePermissions(ctx, tenantID, principalID)
	if err != nil {
		return nil, oops.With("principal_id", principalID).Wrapf(err, "checking permissions")
	}
	return resolver.HasPermissions(perms, required), nil
}

func (e *Engine) effectiveRules(ctx context.Context, tenantID, principalID string) (types.EffectiveRuleSet, error) {
	perRole, err := e.source.PerRoleRules(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	ruleSet, diagnostics := rule.Resolve(e.registry, perRole, e.strategy)
	for _, d := range diagnostics {
		slog.DebugContext(ctx, "rule aggregation conflict",
			slog.String("rule_type", d.RuleType),
			slog.String("strategy", d.Strategy.String()),
			slog.String("resolution", d.Resolution))
	}
	return ruleSet, nil
}

// finish validates the decision invariant, audits, records metrics, and
// attaches a trace event. Runs on every return path.
func (e *Engine) finish(ctx context.Context, start time.Time, tenantID, principalID, action string, decision types.Decision) {
	if err := decision.Validate(); err != nil {
		slog.ErrorContext(ctx, "decision invariant violated",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)
	recordDecision(action, decision.IsAllowed(), elapsed)

	trace.SpanFromContext(ctx).AddEvent("authz.decision",
		trace.WithAttributes(
			attribute.String("authz.action", action),
			attribute.Bool("authz.allowed", decision.IsAllowed()),
			attribute.String("authz.reason", decision.Reason),
		))

	severity := audit.SeverityInfo
	if !decision.IsAllowed() {
		severity = audit.SeverityWarning
	}
	e.audit.Log(ctx, audit.Event{
		Actor:    principalID,
		Action:   action,
		Entity:   "decision",
		TenantID: tenantID,
		Success:  decision.IsAllowed(),
		Severity: severity,
		Details: map[string]any{
			"reason":              decision.Reason,
			"required_permission": decision.RequiredPermission,
			"rules_evaluated":     len(decision.RuleResults),
			"duration_us":         elapsed.Microseconds(),
		},
	})
}

// buildInput maps a rule binding onto the request context. A missing
// or non-numeric usage value counts as zero usage.
func buildInput(binding ruleBinding, reqCtx map[string]any) rule.Input {
	in := rule.Input{Context: reqCtx}
	if binding.ContextKey != "" {
		in.Value = reqCtx[binding.ContextKey]
	}
	if binding.UsageKey != "" {
		in.Usage = numeric(reqCtx[binding.UsageKey])
	}
	return in
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
