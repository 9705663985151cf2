// Package constraint turns a domain and a bid ranking into a linear system
// over weight-scaled utility variables.
//
// A discrete issue i contributes issue-i-j = weight-i * u(j) / max(u); an
// integer issue contributes through issue-i-minutil and issue-i-maxutil, the
// weight-scaled utilities at its bounds. Every relation is then linear.
package constraint

import (
	"fmt"
	"math"
)

// Def binds a derived variable to the expression it stands for.
type Def struct {
	Var  Var
	Expr Expr
}

// Choice is satisfied when at least one of its Options holds.
type Choice struct {
	Name    string
	Options []Constraint
}

// Scale lists the weight-scaled variables of one issue.
type Scale struct {
	Weight Var
	Vars   []Var
	// Discrete is set when the largest of Vars must equal Weight. An integer
	// issue only needs its upper utility to stay at or below it.
	Discrete bool
	// Unused are the variables no ranked bid reads.
	Unused []Var
}

// System is the full encoding of one estimate request.
type System struct {
	Vars        []Var
	Defs        []Def
	Constraints []Constraint
	Choices     []Choice

	Scales   []Scale
	Anchored bool
}

// Def returns the expression bound to v.
func (s *System) Def(v Var) (Expr, bool) {
	for _, d := range s.Defs {
		if d.Var == v {
			return d.Expr, true
		}
	}
	return Expr{}, false
}

// Extend returns a copy of values with every definition evaluated.
func (s *System) Extend(values map[Var]float64) map[Var]float64 {
	out := make(map[Var]float64, len(values)+len(s.Defs))
	for v, x := range values {
		out[v] = x
	}
	for _, d := range s.Defs {
		out[d.Var] = d.Expr.Eval(out)
	}
	return out
}

// Check returns the first constraint or choice that values violate.
func (s *System) Check(values map[Var]float64, tol float64) error {
	for _, c := range s.Constraints {
		if !c.Holds(values, tol) {
			return fmt.Errorf("violated %s (lhs %g)", c, c.Lhs.Eval(values))
		}
	}
	for _, ch := range s.Choices {
		if ch.Selected(values, tol) < 0 {
			return fmt.Errorf("no option of %s holds", ch.Name)
		}
	}
	return nil
}

// Selected returns the index of the first option that holds, or -1.
func (ch Choice) Selected(values map[Var]float64, tol float64) int {
	for j, o := range ch.Options {
		if o.Holds(values, tol) {
			return j
		}
	}
	return -1
}

// Normalize turns a point that satisfies the linear constraints but not
// necessarily the choices into one that satisfies both, without a search.
//
// Let peak_i be the largest scaled variable of issue i. Setting every weight
// to its peak makes each discrete maximum reach its weight; what is left is
// making the weights sum to one. Without anchors every relation other than
// the weight sum is homogeneous, so the whole point is divided by the sum of
// the peaks. With anchors the bid utilities are pinned, so the remainder goes
// to a weight that can grow alone: an integer issue's, or a discrete issue's
// together with a value no bid reads. Normalize reports false when neither
// applies.
func (s *System) Normalize(values map[Var]float64, tol float64) (map[Var]float64, bool) {
	if len(s.Scales) == 0 {
		return nil, false
	}
	peaks := make([]float64, len(s.Scales))
	total := 0.0
	for i, sc := range s.Scales {
		peak := math.Inf(-1)
		for _, v := range sc.Vars {
			peak = math.Max(peak, values[v])
		}
		if !(peak > 0) {
			return nil, false
		}
		peaks[i] = peak
		total += peak
	}

	out := make(map[Var]float64, len(values))
	for v, x := range values {
		out[v] = x
	}

	if !s.Anchored {
		for i, sc := range s.Scales {
			for _, v := range sc.Vars {
				out[v] = values[v] / total
			}
			out[sc.Weight] = peaks[i] / total
		}
		return out, true
	}

	rest := 1 - total
	if rest < -tol {
		return nil, false
	}
	for i, sc := range s.Scales {
		out[sc.Weight] = peaks[i]
	}
	if rest <= tol {
		return out, true
	}
	for i, sc := range s.Scales {
		if !sc.Discrete {
			out[sc.Weight] = peaks[i] + rest
			return out, true
		}
	}
	for i, sc := range s.Scales {
		if len(sc.Unused) > 0 {
			out[sc.Unused[0]] = peaks[i] + rest
			out[sc.Weight] = peaks[i] + rest
			return out, true
		}
	}
	return nil, false
}
