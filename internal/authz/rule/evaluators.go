// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package rule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/loanguard/loanguard/internal/authz/types"
)

// errNotApplicable signals that the input carries no claim for the rule
// under evaluation. It is classified as OutcomeNotApplicable, never as
// a denial.
var errNotApplicable = errors.New("rule not applicable")

// Input carries the per-request context a single rule evaluation needs.
// Value is the context value under test; Usage and Reference feed the
// accumulator and delay kinds. A zero Now means the evaluation clock is
// time.Now().
type Input struct {
	Value     any
	Usage     float64
	Reference time.Time
	Now       time.Time

	// Context is the full request context, consulted by rule condition
	// expressions rather than by the evaluators themselves.
	Context map[string]any
}

func (in Input) clock() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// evalAmount: decimal ceiling; allowed iff context <= ceiling.
func evalAmount(rawValue string, in Input) (Verdict, error) {
	ceiling, err := parseFloat(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	amount, ok, err := contextFloat(in.Value)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{}, errNotApplicable
	}
	if amount > ceiling {
		return Verdict{
			Reason:  fmt.Sprintf("amount %.2f exceeds limit %.2f", amount, ceiling),
			Details: map[string]any{"limit": ceiling, "amount": amount},
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("amount %.2f within limit %.2f", amount, ceiling),
		Details: map[string]any{"limit": ceiling, "amount": amount},
	}, nil
}

// evalMonthlyAmount: ceiling against current-period usage plus the
// requested amount. Remaining headroom is returned as additional data.
func evalMonthlyAmount(rawValue string, in Input) (Verdict, error) {
	ceiling, err := parseFloat(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	requested, ok, err := contextFloat(in.Value)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{}, errNotApplicable
	}

	projected := in.Usage + requested
	remaining := ceiling - projected
	details := map[string]any{
		"limit":     ceiling,
		"usage":     in.Usage,
		"requested": requested,
		"remaining": remaining,
	}
	if projected > ceiling {
		return Verdict{
			Reason: fmt.Sprintf("monthly total %.2f would exceed limit %.2f",
				projected, ceiling),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("monthly total %.2f within limit %.2f", projected, ceiling),
		Details: details,
	}, nil
}

// evalCount: integer ceiling; allowed iff count <= ceiling.
func evalCount(rawValue string, in Input) (Verdict, error) {
	ceiling, err := parseInt(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	count, ok, err := contextInt(in.Value)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{}, errNotApplicable
	}
	details := map[string]any{"limit": ceiling, "count": count}
	if count > ceiling {
		return Verdict{
			Reason:  fmt.Sprintf("count %d exceeds limit %d", count, ceiling),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("count %d within limit %d", count, ceiling),
		Details: details,
	}, nil
}

// evalPercentage: decimal ceiling; allowed iff percent <= ceiling.
func evalPercentage(rawValue string, in Input) (Verdict, error) {
	ceiling, err := parseFloat(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	percent, ok, err := contextFloat(in.Value)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{}, errNotApplicable
	}
	details := map[string]any{"limit": ceiling, "percent": percent}
	if percent > ceiling {
		return Verdict{
			Reason:  fmt.Sprintf("percentage %.2f exceeds limit %.2f", percent, ceiling),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("percentage %.2f within limit %.2f", percent, ceiling),
		Details: details,
	}, nil
}

// evalMinimum: decimal floor; allowed iff value >= floor.
func evalMinimum(rawValue string, in Input) (Verdict, error) {
	floor, err := parseFloat(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	value, ok, err := contextFloat(in.Value)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return Verdict{}, errNotApplicable
	}
	details := map[string]any{"minimum": floor, "value": value}
	if value < floor {
		return Verdict{
			Reason:  fmt.Sprintf("value %.2f below minimum %.2f", value, floor),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("value %.2f meets minimum %.2f", value, floor),
		Details: details,
	}, nil
}

// evalGrade: the raw value is the maximum permitted risk grade on the
// fixed order A<B<C<D<F; allowed iff the context grade is no riskier.
func evalGrade(rawValue string, in Input) (Verdict, error) {
	ceiling, err := types.ParseGrade(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	s, ok := contextString(in.Value)
	if !ok {
		return Verdict{}, errNotApplicable
	}
	grade, err := types.ParseGrade(s)
	if err != nil {
		return Verdict{}, err
	}
	details := map[string]any{"max_grade": ceiling.String(), "grade": grade.String()}
	if grade.RiskierThan(ceiling) {
		return Verdict{
			Reason:  fmt.Sprintf("risk grade %s exceeds maximum %s", grade, ceiling),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("risk grade %s within maximum %s", grade, ceiling),
		Details: details,
	}, nil
}

// evalScope: the raw value is a comma-separated allow-list; allowed iff
// the context value is a member (case-insensitive).
func evalScope(rawValue string, in Input) (Verdict, error) {
	allowed := splitList(rawValue)
	if len(allowed) == 0 {
		return Verdict{}, fmt.Errorf("empty scope list")
	}
	s, ok := contextString(in.Value)
	if !ok {
		return Verdict{}, errNotApplicable
	}
	details := map[string]any{"allowed": allowed, "value": s}
	for _, a := range allowed {
		if strings.EqualFold(a, s) {
			return Verdict{
				Allowed: true,
				Reason:  fmt.Sprintf("%q is in the allowed scope", s),
				Details: details,
			}, nil
		}
	}
	return Verdict{
		Reason:  fmt.Sprintf("%q is not in the allowed scope", s),
		Details: details,
	}, nil
}

// evalTimeRange: "HH:MM-HH:MM"; allowed iff the evaluation clock's
// time of day falls in the closed interval.
func evalTimeRange(rawValue string, in Input) (Verdict, error) {
	start, end, err := parseTimeRange(rawValue)
	if err != nil {
		return Verdict{}, err
	}

	now := in.clock()
	if s, ok := contextString(in.Value); ok {
		// An explicit HH:MM context value overrides the clock.
		minute, parseErr := parseTimeOfDay(s)
		if parseErr != nil {
			return Verdict{}, parseErr
		}
		return timeRangeVerdict(minute, start, end, rawValue), nil
	}

	minute := now.Hour()*60 + now.Minute()
	return timeRangeVerdict(minute, start, end, rawValue), nil
}

func timeRangeVerdict(minute, start, end int, window string) Verdict {
	details := map[string]any{
		"window": window,
		"time":   fmt.Sprintf("%02d:%02d", minute/60, minute%60),
	}
	if minute < start || minute > end {
		return Verdict{
			Reason:  fmt.Sprintf("time %02d:%02d outside window %s", minute/60, minute%60, window),
			Details: details,
		}
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("time %02d:%02d within window %s", minute/60, minute%60, window),
		Details: details,
	}
}

// evalLevel builds an evaluator over a fixed ordered vocabulary;
// allowed iff the context level's index <= the rule level's index.
func evalLevel(vocabulary []string) EvaluatorFunc {
	return func(rawValue string, in Input) (Verdict, error) {
		ruleIdx, err := levelIndex(vocabulary, rawValue)
		if err != nil {
			return Verdict{}, err
		}
		s, ok := contextString(in.Value)
		if !ok {
			return Verdict{}, errNotApplicable
		}
		ctxIdx, err := levelIndex(vocabulary, s)
		if err != nil {
			return Verdict{}, err
		}
		details := map[string]any{"max_level": vocabulary[ruleIdx], "level": vocabulary[ctxIdx]}
		if ctxIdx > ruleIdx {
			return Verdict{
				Reason:  fmt.Sprintf("level %q exceeds permitted %q", vocabulary[ctxIdx], vocabulary[ruleIdx]),
				Details: details,
			}, nil
		}
		return Verdict{
			Allowed: true,
			Reason:  fmt.Sprintf("level %q within permitted %q", vocabulary[ctxIdx], vocabulary[ruleIdx]),
			Details: details,
		}, nil
	}
}

// evalMembership builds an allow-list evaluator for IP and geo rules.
// A "*" entry in the list matches anything.
func evalMembership(what string) EvaluatorFunc {
	return func(rawValue string, in Input) (Verdict, error) {
		allowed := splitList(rawValue)
		if len(allowed) == 0 {
			return Verdict{}, fmt.Errorf("empty %s allow-list", what)
		}
		s, ok := contextString(in.Value)
		if !ok {
			return Verdict{}, errNotApplicable
		}
		details := map[string]any{"allowed": allowed, what: s}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, s) {
				return Verdict{
					Allowed: true,
					Reason:  fmt.Sprintf("%s %q is allowed", what, s),
					Details: details,
				}, nil
			}
		}
		return Verdict{
			Reason:  fmt.Sprintf("%s %q is not in the allow-list", what, s),
			Details: details,
		}, nil
	}
}

// evalDelay: the raw value is required hours since the reference time;
// allowed iff now >= reference + hours.
func evalDelay(rawValue string, in Input) (Verdict, error) {
	hours, err := parseFloat(rawValue)
	if err != nil {
		return Verdict{}, err
	}
	ref := in.Reference
	if ref.IsZero() {
		if t, ok := contextTime(in.Value); ok {
			ref = t
		} else {
			return Verdict{}, errNotApplicable
		}
	}

	eligible := ref.Add(time.Duration(hours * float64(time.Hour)))
	now := in.clock()
	details := map[string]any{
		"required_hours": hours,
		"reference":      ref,
		"eligible_at":    eligible,
	}
	if now.Before(eligible) {
		return Verdict{
			Reason:  fmt.Sprintf("approval delay of %.0fh not yet elapsed", hours),
			Details: details,
		}, nil
	}
	return Verdict{
		Allowed: true,
		Reason:  fmt.Sprintf("approval delay of %.0fh elapsed", hours),
		Details: details,
	}, nil
}

// Parsing helpers. Rule values arrive as strings from role
// administration; context values arrive as arbitrary JSON-ish values.

func parseFloat(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, oops.Code("RULE_VALUE_INVALID").With("raw", raw).
			Errorf("rule value %q is not numeric", raw)
	}
	return f, nil
}

func parseInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, oops.Code("RULE_VALUE_INVALID").With("raw", raw).
			Errorf("rule value %q is not an integer", raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func levelIndex(vocabulary []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, v := range vocabulary {
		if v == s {
			return i, nil
		}
	}
	return 0, oops.Code("RULE_VALUE_INVALID").With("level", s).
		Errorf("level %q is not in the vocabulary", s)
}

// parseTimeRange parses "HH:MM-HH:MM" into minutes-of-day boundaries.
func parseTimeRange(raw string) (start, end int, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
	if len(parts) != 2 {
		return 0, 0, oops.Code("RULE_VALUE_INVALID").With("raw", raw).
			Errorf("time range %q must be HH:MM-HH:MM", raw)
	}
	start, err = parseTimeOfDay(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err = parseTimeOfDay(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, oops.Code("RULE_VALUE_INVALID").With("raw", raw).
			Errorf("time range %q ends before it starts", raw)
	}
	return start, end, nil
}

func parseTimeOfDay(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, oops.Code("RULE_VALUE_INVALID").With("raw", raw).
			Errorf("time %q must be HH:MM", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// contextFloat extracts a numeric context value. The second return is
// false when no claim is present.
func contextFloat(v any) (float64, bool, error) {
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false, oops.Code("CONTEXT_VALUE_INVALID").With("value", n).
				Errorf("context value %q is not numeric", n)
		}
		return f, true, nil
	default:
		return 0, false, oops.Code("CONTEXT_VALUE_INVALID").
			Errorf("context value of type %T is not numeric", v)
	}
}

func contextInt(v any) (int64, bool, error) {
	f, ok, err := contextFloat(v)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int64(f), true, nil
}

func contextString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func contextTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
