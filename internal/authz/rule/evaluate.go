// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package rule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// Evaluator evaluates typed rules against request context. It is pure
// beyond timing instrumentation and safe for concurrent use.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator creates an Evaluator over the given catalog.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Evaluate evaluates a single rule. It never panics and never returns
// a Go error: every failure mode is an outcome kind on the result.
func (e *Evaluator) Evaluate(ctx context.Context, ruleType, rawValue string, in Input) types.RuleResult {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return finish(types.RuleResult{
			RuleType: ruleType,
			Outcome:  types.OutcomeCancelled,
			Reason:   "evaluation cancelled",
		}, start)
	}

	reg, ok := e.registry.lookup(ruleType)
	if !ok {
		return finish(types.RuleResult{
			RuleType: ruleType,
			Outcome:  types.OutcomeUnknownRule,
			Reason:   "rule type not in catalog",
		}, start)
	}

	verdict, err := safeEval(reg.eval, rawValue, in)
	switch {
	case errors.Is(err, errNotApplicable):
		return finish(types.RuleResult{
			RuleType: ruleType,
			Outcome:  types.OutcomeNotApplicable,
			Reason:   "no claim for rule",
		}, start)
	case err != nil:
		return finish(types.RuleResult{
			RuleType: ruleType,
			Outcome:  types.OutcomeError,
			Reason:   err.Error(),
		}, start)
	}

	return finish(types.RuleResult{
		RuleType: ruleType,
		Allowed:  verdict.Allowed,
		Outcome:  types.OutcomeApplicable,
		Reason:   verdict.Reason,
		Details:  verdict.Details,
	}, start)
}

// EvaluateResolved evaluates a resolved rule from an effective rule
// set, honoring its condition expression: a rule whose conditions do
// not hold for this request is NotApplicable.
func (e *Evaluator) EvaluateResolved(ctx context.Context, ruleType string, resolved types.ResolvedRule, in Input) types.RuleResult {
	if resolved.Condition != "" {
		start := time.Now()
		met, err := EvaluateCondition(resolved.Condition, in.Context)
		if err != nil {
			return finish(types.RuleResult{
				RuleType: ruleType,
				Outcome:  types.OutcomeError,
				Reason:   err.Error(),
			}, start)
		}
		if !met {
			return finish(types.RuleResult{
				RuleType: ruleType,
				Outcome:  types.OutcomeNotApplicable,
				Reason:   "rule conditions not met",
			}, start)
		}
	}
	return e.Evaluate(ctx, ruleType, resolved.Value, in)
}

// Request pairs a rule type with the input to evaluate it against.
type Request struct {
	RuleType string
	Resolved types.ResolvedRule
	Input    Input
}

// EvaluateAll evaluates the requests concurrently. There is no shared
// mutable state between evaluations and no ordering guarantee on the
// returned results; each result carries its own elapsed time.
func (e *Evaluator) EvaluateAll(ctx context.Context, requests []Request) []types.RuleResult {
	if len(requests) == 0 {
		return nil
	}

	out := make(chan types.RuleResult, len(requests))
	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			out <- e.EvaluateResolved(ctx, req.RuleType, req.Resolved, req.Input)
		}(req)
	}
	wg.Wait()
	close(out)

	results := make([]types.RuleResult, 0, len(requests))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// safeEval absorbs evaluator panics into errors so a misbehaving
// registered evaluator cannot crash the caller.
func safeEval(eval EvaluatorFunc, rawValue string, in Input) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{}
			err = errorFromPanic(r)
		}
	}()
	return eval(rawValue, in)
}

func finish(r types.RuleResult, start time.Time) types.RuleResult {
	r.Elapsed = time.Since(start)
	recordEvaluation(r)
	return r
}
