// Package matcher implements the boolean expression language that decides
// whether a hook fires for an event.
//
// Grammar, lowest precedence first:
//
//	expr       = or
//	or         = and { "||" and }
//	and        = unary { "&&" unary }
//	unary      = "!" unary | primary
//	primary    = "(" expr ")" | "*" | predicate
//	predicate  = path [ ("==" | "!=" | "matches") literal ]
//
// A path is a dotted identifier sequence resolved against the event context.
// A bare path asserts the field exists. "*" always matches. Literals are
// double-quoted strings, bare words, numbers, or booleans; the "matches"
// operand is compiled as a regular expression when the expression compiles.
//
// Evaluation is total: a missing field makes its comparison false, never an
// error. All errors are reported at compile time.
package matcher

import (
	"fmt"
	"regexp"
)

// Resolver supplies field values from an event context. A false second
// return means the path does not resolve to a scalar.
type Resolver interface {
	Resolve(path string) (string, bool)
}

// Op is a comparison operator.
type Op string

const (
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpMatches Op = "matches"
)

// Expr is an immutable compiled matcher expression.
type Expr interface {
	// Eval evaluates the expression against a context. It never fails.
	Eval(r Resolver) bool

	// String renders the canonical form of the expression. Two compiles
	// of the same source render identically.
	String() string
}

// And is short-circuit conjunction.
type And struct {
	Left, Right Expr
}

func (a *And) Eval(r Resolver) bool {
	return a.Left.Eval(r) && a.Right.Eval(r)
}

func (a *And) String() string {
	return fmt.Sprintf("(%s && %s)", a.Left, a.Right)
}

// Or is short-circuit disjunction.
type Or struct {
	Left, Right Expr
}

func (o *Or) Eval(r Resolver) bool {
	return o.Left.Eval(r) || o.Right.Eval(r)
}

func (o *Or) String() string {
	return fmt.Sprintf("(%s || %s)", o.Left, o.Right)
}

// Not negates its inner expression.
type Not struct {
	Inner Expr
}

func (n *Not) Eval(r Resolver) bool {
	return !n.Inner.Eval(r)
}

func (n *Not) String() string {
	return "!" + n.Inner.String()
}

// Compare tests a context field against a literal. For OpMatches the
// regular expression is compiled once, at parse time.
type Compare struct {
	Path  string
	Op    Op
	Value string

	re *regexp.Regexp
}

func (c *Compare) Eval(r Resolver) bool {
	v, ok := r.Resolve(c.Path)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpMatches:
		return c.re.MatchString(v)
	}
	return false
}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %q", c.Path, c.Op, c.Value)
}

// Exists is a bare-path predicate: true when the field resolves.
type Exists struct {
	Path string
}

func (e *Exists) Eval(r Resolver) bool {
	_, ok := r.Resolve(e.Path)
	return ok
}

func (e *Exists) String() string {
	return e.Path
}

// Literal is a constant expression. "*" compiles to Literal{true}.
type Literal struct {
	Value bool
}

func (l *Literal) Eval(Resolver) bool {
	return l.Value
}

func (l *Literal) String() string {
	if l.Value {
		return "*"
	}
	return "false"
}
