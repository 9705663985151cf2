package constraint

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Var names one solver variable.
type Var string

// Term is Coef * Var.
type Term struct {
	Var  Var
	Coef float64
}

// Expr is a linear expression sum(Terms) + Const.
type Expr struct {
	Terms []Term
	Const float64
}

func V(v Var) Expr { return Expr{Terms: []Term{{Var: v, Coef: 1}}} }

func C(c float64) Expr { return Expr{Const: c} }

func Sum(es ...Expr) Expr {
	var out Expr
	for _, e := range es {
		out = out.Plus(e)
	}
	return out
}

func (e Expr) Plus(o Expr) Expr {
	out := Expr{Terms: make([]Term, 0, len(e.Terms)+len(o.Terms)), Const: e.Const + o.Const}
	out.Terms = append(out.Terms, e.Terms...)
	out.Terms = append(out.Terms, o.Terms...)
	return out.merge()
}

func (e Expr) Minus(o Expr) Expr { return e.Plus(o.Scale(-1)) }

func (e Expr) Scale(c float64) Expr {
	out := Expr{Terms: make([]Term, len(e.Terms)), Const: e.Const * c}
	for i, t := range e.Terms {
		out.Terms[i] = Term{Var: t.Var, Coef: t.Coef * c}
	}
	return out.merge()
}

// merge folds repeated variables, drops zero coefficients and sorts by name.
func (e Expr) merge() Expr {
	if len(e.Terms) == 0 {
		return e
	}
	coef := make(map[Var]float64, len(e.Terms))
	for _, t := range e.Terms {
		coef[t.Var] += t.Coef
	}
	terms := make([]Term, 0, len(coef))
	for v, c := range coef {
		if c != 0 {
			terms = append(terms, Term{Var: v, Coef: c})
		}
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Var < terms[j].Var })
	return Expr{Terms: terms, Const: e.Const}
}

// Eval computes e under values; missing variables count as zero.
func (e Expr) Eval(values map[Var]float64) float64 {
	v := e.Const
	for _, t := range e.Terms {
		v += t.Coef * values[t.Var]
	}
	return v
}

func (e Expr) String() string {
	var sb strings.Builder
	for i, t := range e.Terms {
		if i > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "%g*%s", t.Coef, t.Var)
	}
	if e.Const != 0 || len(e.Terms) == 0 {
		if len(e.Terms) > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "%g", e.Const)
	}
	return sb.String()
}

type Relation int

const (
	LessEq Relation = iota
	Equal
	Less
)

func (r Relation) String() string {
	switch r {
	case LessEq:
		return "<="
	case Equal:
		return "=="
	case Less:
		return "<"
	}
	return "?"
}

// Constraint states Lhs Rel Rhs, with every constant folded into Rhs.
type Constraint struct {
	Name string
	Lhs  Expr
	Rel  Relation
	Rhs  float64
}

func relate(name string, a Expr, rel Relation, b Expr) Constraint {
	d := a.Minus(b)
	return Constraint{Name: name, Lhs: Expr{Terms: d.Terms}, Rel: rel, Rhs: -d.Const}
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s: %s %s %g", c.Name, c.Lhs, c.Rel, c.Rhs)
}

// Holds reports whether c is satisfied under values. Non-strict relations allow
// tol of slack; strict ones must hold exactly.
func (c Constraint) Holds(values map[Var]float64, tol float64) bool {
	lhs := c.Lhs.Eval(values)
	switch c.Rel {
	case LessEq:
		return lhs <= c.Rhs+tol
	case Equal:
		return math.Abs(lhs-c.Rhs) <= tol
	case Less:
		return lhs < c.Rhs
	}
	return false
}
