package solver

import (
	"fmt"
	"math"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/constraint"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// Decode reads a utility space over d out of m. Weight-scaled values are
// divided back by their weight, rounding noise is clamped into the valid
// ranges and the weights are renormalized to sum to one.
func Decode(m Model, d model.Domain) (*model.UtilitySpace, error) {
	n := len(d.Issues)
	space := &model.UtilitySpace{
		Domain:     d,
		Weights:    make([]float64, n),
		Evaluators: make([]model.Evaluator, n),
	}

	total := 0.0
	for i, iss := range d.Issues {
		w, err := lookup(m, constraint.WeightVar(i))
		if err != nil {
			return nil, err
		}
		if w <= 0 {
			return nil, fmt.Errorf("%w: weight %d = %g", model.ErrSolverResource, i, w)
		}
		space.Weights[i] = w
		total += w

		switch is := iss.(type) {
		case model.Discrete:
			utils := make([]float64, len(is.Values))
			for j := range is.Values {
				c, err := lookup(m, constraint.ValueVar(i, j))
				if err != nil {
					return nil, err
				}
				utils[j] = math.Min(c/w, 1)
			}
			space.Evaluators[i] = model.DiscreteEvaluator{Utilities: utils}
		case model.Integer:
			lo, err := lookup(m, constraint.MinUtilVar(i))
			if err != nil {
				return nil, err
			}
			hi, err := lookup(m, constraint.MaxUtilVar(i))
			if err != nil {
				return nil, err
			}
			space.Evaluators[i] = model.IntegerEvaluator{
				MinUtil: math.Max(lo/w, 0),
				MaxUtil: math.Min(hi/w, 1),
			}
		}
	}
	for i := range space.Weights {
		space.Weights[i] /= total
	}

	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("%w: decoded model: %v", model.ErrSolverResource, err)
	}
	return space, nil
}

func lookup(m Model, v constraint.Var) (float64, error) {
	x, ok := m[v]
	if !ok {
		return 0, fmt.Errorf("%w: model has no value for %s", model.ErrSolverResource, v)
	}
	return x, nil
}
