package model

import (
	"fmt"
	"math"
)

// Tolerance used when checking the invariants of an estimated space.
const Tolerance = 1e-6

// Evaluator maps one issue's value to its utility contribution in [0,1].
// The only implementations are DiscreteEvaluator and IntegerEvaluator.
type Evaluator interface {
	Kind() IssueKind
	isEvaluator()
}

// DiscreteEvaluator holds one strictly positive utility per value, indexed like
// the issue's values. Evaluations are normalized by the largest utility.
type DiscreteEvaluator struct {
	Utilities []float64
}

func (DiscreteEvaluator) Kind() IssueKind { return KindDiscrete }
func (DiscreteEvaluator) isEvaluator()    {}

func (e DiscreteEvaluator) max() float64 {
	m := 0.0
	for _, u := range e.Utilities {
		if u > m {
			m = u
		}
	}
	return m
}

// Eval returns Utilities[j] / max(Utilities).
func (e DiscreteEvaluator) Eval(j int) float64 {
	m := e.max()
	if m <= 0 || j < 0 || j >= len(e.Utilities) {
		return 0
	}
	return e.Utilities[j] / m
}

// IntegerEvaluator interpolates linearly from MinUtil at the lower bound to
// MaxUtil at the upper bound.
type IntegerEvaluator struct {
	MinUtil float64
	MaxUtil float64
}

func (IntegerEvaluator) Kind() IssueKind { return KindInteger }
func (IntegerEvaluator) isEvaluator()    {}

func (e IntegerEvaluator) Eval(issue Integer, x int64) float64 {
	slope := (e.MaxUtil - e.MinUtil) / issue.Span()
	return e.MinUtil + slope*issue.Offset(x)
}

// UtilitySpace is an additive utility function over a domain.
type UtilitySpace struct {
	Domain     Domain
	Weights    []float64
	Evaluators []Evaluator
}

// Utility returns sum_i Weights[i] * eval_i(b).
func (s *UtilitySpace) Utility(b Bid) (float64, error) {
	if err := s.Domain.CheckBid(b); err != nil {
		return 0, err
	}
	if len(s.Weights) != len(s.Domain.Issues) || len(s.Evaluators) != len(s.Domain.Issues) {
		return 0, fmt.Errorf("utility space does not cover %d issues", len(s.Domain.Issues))
	}
	total := 0.0
	for i, iss := range s.Domain.Issues {
		v := b.Values[i]
		switch is := iss.(type) {
		case Discrete:
			ev, ok := s.Evaluators[i].(DiscreteEvaluator)
			if !ok {
				return 0, fmt.Errorf("issue %d: evaluator kind %s for a discrete issue", i, s.Evaluators[i].Kind())
			}
			total += s.Weights[i] * ev.Eval(is.IndexOf(v.Label))
		case Integer:
			ev, ok := s.Evaluators[i].(IntegerEvaluator)
			if !ok {
				return 0, fmt.Errorf("issue %d: evaluator kind %s for an integer issue", i, s.Evaluators[i].Kind())
			}
			total += s.Weights[i] * ev.Eval(is, v.Int)
		}
	}
	return total, nil
}

// Validate checks weights and evaluators against the domain.
func (s *UtilitySpace) Validate() error {
	n := len(s.Domain.Issues)
	if len(s.Weights) != n || len(s.Evaluators) != n {
		return fmt.Errorf("utility space has %d weights and %d evaluators for %d issues", len(s.Weights), len(s.Evaluators), n)
	}
	sum := 0.0
	for i, w := range s.Weights {
		if math.IsNaN(w) || w <= 0 || w > 1+Tolerance {
			return fmt.Errorf("weight %d = %g outside (0,1]", i, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > Tolerance {
		return fmt.Errorf("weights sum to %g", sum)
	}
	for i, iss := range s.Domain.Issues {
		switch is := iss.(type) {
		case Discrete:
			ev, ok := s.Evaluators[i].(DiscreteEvaluator)
			if !ok {
				return fmt.Errorf("issue %d: expected a discrete evaluator", i)
			}
			if len(ev.Utilities) != len(is.Values) {
				return fmt.Errorf("issue %d: %d utilities for %d values", i, len(ev.Utilities), len(is.Values))
			}
			for j, u := range ev.Utilities {
				if math.IsNaN(u) || math.IsInf(u, 0) || u <= 0 {
					return fmt.Errorf("issue %d value %d: utility %g is not positive", i, j, u)
				}
			}
		case Integer:
			ev, ok := s.Evaluators[i].(IntegerEvaluator)
			if !ok {
				return fmt.Errorf("issue %d: expected an integer evaluator", i)
			}
			if !(ev.MinUtil >= 0 && ev.MinUtil < ev.MaxUtil && ev.MaxUtil <= 1) {
				return fmt.Errorf("issue %d: utilities %g..%g violate 0 <= min < max <= 1", i, ev.MinUtil, ev.MaxUtil)
			}
		}
	}
	return nil
}

// CheckRanking verifies that utilities are non-decreasing along r and that the
// anchors, if any, hold within tol.
func CheckRanking(s *UtilitySpace, r Ranking, tol float64) error {
	utils, err := Utilities(s, r)
	if err != nil {
		return err
	}
	for k := 1; k < len(utils); k++ {
		if utils[k-1] > utils[k]+tol {
			return fmt.Errorf("bid %d utility %g exceeds bid %d utility %g", k-1, utils[k-1], k, utils[k])
		}
	}
	if a := r.Anchors; a != nil && len(utils) > 0 {
		if math.Abs(utils[0]-a.Low) > tol {
			return fmt.Errorf("first bid utility %g, anchor %g", utils[0], a.Low)
		}
		if last := utils[len(utils)-1]; math.Abs(last-a.High) > tol {
			return fmt.Errorf("last bid utility %g, anchor %g", last, a.High)
		}
	}
	return nil
}

// Utilities evaluates every ranked bid under s.
func Utilities(s *UtilitySpace, r Ranking) ([]float64, error) {
	out := make([]float64, len(r.Bids))
	for k, b := range r.Bids {
		u, err := s.Utility(b)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", k, err)
		}
		out[k] = u
	}
	return out, nil
}
