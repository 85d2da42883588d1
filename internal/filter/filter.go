// Package filter implements the small boolean language used to select
// journey events, e.g.
//
//	isDivine == true OR userType == "divine-warrior"
//	NOT (eventType == "page_view") AND metadata.campaign != "test"
//
// A bare field path is true when the value is true, a non-empty string or a
// non-zero number. Fields that do not resolve compare as absent: == is
// false and != is true.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver looks up a dotted field path.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Expr is a parsed expression.
type Expr interface {
	eval(r Resolver) bool
	String() string
}

type orExpr struct{ left, right Expr }
type andExpr struct{ left, right Expr }
type notExpr struct{ inner Expr }

type cmpExpr struct {
	path []string
	op   string // "==", "!=" or "" for a truthiness test
	lit  any
}

func (e *orExpr) eval(r Resolver) bool  { return e.left.eval(r) || e.right.eval(r) }
func (e *andExpr) eval(r Resolver) bool { return e.left.eval(r) && e.right.eval(r) }
func (e *notExpr) eval(r Resolver) bool { return !e.inner.eval(r) }

func (e *cmpExpr) eval(r Resolver) bool {
	v, ok := r.Resolve(e.path)
	switch e.op {
	case "==":
		return ok && equal(v, e.lit)
	case "!=":
		return !ok || !equal(v, e.lit)
	}
	return ok && truthy(v)
}

func (e *orExpr) String() string  { return "(" + e.left.String() + " OR " + e.right.String() + ")" }
func (e *andExpr) String() string { return "(" + e.left.String() + " AND " + e.right.String() + ")" }
func (e *notExpr) String() string { return "NOT " + e.inner.String() }

func (e *cmpExpr) String() string {
	p := strings.Join(e.path, ".")
	if e.op == "" {
		return p
	}
	if s, ok := e.lit.(string); ok {
		return p + " " + e.op + " " + strconv.Quote(s)
	}
	return fmt.Sprintf("%s %s %v", p, e.op, e.lit)
}

// Match reports whether r satisfies e. A nil Expr matches nothing.
func Match(e Expr, r Resolver) bool {
	if e == nil {
		return false
	}
	return e.eval(r)
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
