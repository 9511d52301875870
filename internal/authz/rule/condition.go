// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Condition expressions gate the applicability of a role rule per
// request, e.g.:
//
//	channel == "branch" and country in ["DE", "AT"]
//	not (product like "bridge-*")
//
// They are evaluated against the request context map.

// conditionLexer defines the token types for condition expressions.
// Multi-character comparison operators need dedicated rules so the
// default lexer does not split them.
var conditionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "OpNe", Pattern: `!=`},
	{Name: "OpGe", Pattern: `>=`},
	{Name: "OpLe", Pattern: `<=`},
	{Name: "OpGt", Pattern: `>`},
	{Name: "OpLt", Pattern: `<`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[(){}\[\],]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// ConditionExpr is the root of a parsed condition expression.
type ConditionExpr struct {
	Or []*condAnd `parser:"@@ ('or' @@)*"`
}

type condAnd struct {
	Terms []*condTerm `parser:"@@ ('and' @@)*"`
}

type condTerm struct {
	Not           *condTerm      `parser:"  'not' @@"`
	Parenthesized *ConditionExpr `parser:"| '(' @@ ')'"`
	Predicate     *condPredicate `parser:"| @@"`
}

type condPredicate struct {
	Ref  []string    `parser:"@Ident (Dot @Ident)*"`
	Op   string      `parser:"( @(OpEq | OpNe | OpGe | OpLe | OpGt | OpLt)"`
	Val  *condValue  `parser:"  @@"`
	In   []condValue `parser:"| 'in' '[' @@ (',' @@)* ']'"`
	Like *string     `parser:"| 'like' @String )"`
}

type condValue struct {
	Str  *string  `parser:"  @String"`
	Num  *float64 `parser:"| @Number"`
	Bool *string  `parser:"| @('true' | 'false')"`
}

var conditionParser = participle.MustBuild[ConditionExpr](
	participle.Lexer(conditionLexer),
	participle.Unquote("String"),
)

// ParseCondition parses a condition expression into its AST.
func ParseCondition(expr string) (*ConditionExpr, error) {
	parsed, err := conditionParser.ParseString("", expr)
	if err != nil {
		return nil, oops.Code("CONDITION_INVALID").With("expr", expr).
			Wrapf(err, "parsing rule condition")
	}
	return parsed, nil
}

// EvaluateCondition parses and evaluates a condition expression against
// the request context. Missing context keys make the enclosing
// predicate false, not an error.
func EvaluateCondition(expr string, context map[string]any) (bool, error) {
	parsed, err := ParseCondition(expr)
	if err != nil {
		return false, err
	}
	return parsed.Eval(context), nil
}

// Eval evaluates the expression against a context map.
func (e *ConditionExpr) Eval(context map[string]any) bool {
	for _, and := range e.Or {
		if and.eval(context) {
			return true
		}
	}
	return false
}

func (a *condAnd) eval(context map[string]any) bool {
	for _, t := range a.Terms {
		if !t.eval(context) {
			return false
		}
	}
	return true
}

func (t *condTerm) eval(context map[string]any) bool {
	switch {
	case t.Not != nil:
		return !t.Not.eval(context)
	case t.Parenthesized != nil:
		return t.Parenthesized.Eval(context)
	case t.Predicate != nil:
		return t.Predicate.eval(context)
	}
	return false
}

func (p *condPredicate) eval(context map[string]any) bool {
	actual, ok := lookupPath(context, p.Ref)
	if !ok {
		return false
	}

	switch {
	case p.Like != nil:
		s, isStr := actual.(string)
		if !isStr {
			return false
		}
		g, err := glob.Compile(*p.Like)
		if err != nil {
			return false
		}
		return g.Match(s)
	case len(p.In) > 0:
		for i := range p.In {
			if valueEqual(actual, &p.In[i]) {
				return true
			}
		}
		return false
	case p.Val != nil:
		return compare(actual, p.Op, p.Val)
	}
	return false
}

// lookupPath resolves a dotted reference against nested context maps.
func lookupPath(context map[string]any, path []string) (any, bool) {
	var current any = context
	for _, part := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valueEqual(actual any, v *condValue) bool {
	switch {
	case v.Str != nil:
		s, ok := actual.(string)
		return ok && strings.EqualFold(s, *v.Str)
	case v.Num != nil:
		f, ok, err := contextFloat(actual)
		return err == nil && ok && f == *v.Num
	case v.Bool != nil:
		b, ok := actual.(bool)
		return ok && strconv.FormatBool(b) == *v.Bool
	}
	return false
}

func compare(actual any, op string, v *condValue) bool {
	if op == "==" || op == "!=" {
		eq := valueEqual(actual, v)
		if op == "!=" {
			return !eq
		}
		return eq
	}

	// Ordering operators require numeric operands.
	if v.Num == nil {
		return false
	}
	f, ok, err := contextFloat(actual)
	if err != nil || !ok {
		return false
	}
	switch op {
	case ">":
		return f > *v.Num
	case ">=":
		return f >= *v.Num
	case "<":
		return f < *v.Num
	case "<=":
		return f <= *v.Num
	}
	return false
}

// String renders the expression back to a canonical-ish form, used in
// diagnostics.
func (p *condPredicate) String() string {
	return fmt.Sprintf("%s %s ...", strings.Join(p.Ref, "."), p.Op)
}
