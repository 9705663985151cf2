package solver

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/constraint"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// errNoMargin marks a program that is feasible only with every strict
// relation at equality.
var errNoMargin = errors.New("strict constraints hold only with zero margin")

// program is a set of rows G x <= h over nonnegative variables plus the margin
// column delta, which is added to every strict row and maximized.
//
// Standard form adds one slack per row, so A = [G | I] always has full row
// rank. gonum's Phase I is polynomial but steep in the row count, which is
// fine for the domains this service sees.
type program struct {
	vars  []constraint.Var
	index map[constraint.Var]int
	rows  [][]float64
	rhs   []float64
	names []string
}

func newProgram(vars []constraint.Var) *program {
	p := &program{vars: vars, index: make(map[constraint.Var]int, len(vars))}
	for i, v := range vars {
		p.index[v] = i
	}
	return p
}

func (p *program) clone() *program {
	out := &program{
		vars:  p.vars,
		index: p.index,
		rows:  append([][]float64(nil), p.rows...),
		rhs:   append([]float64(nil), p.rhs...),
		names: append([]string(nil), p.names...),
	}
	return out
}

func (p *program) width() int { return len(p.vars) + 1 }

func (p *program) row(name string, e constraint.Expr, scale, delta, rhs float64) error {
	r := make([]float64, p.width())
	for _, t := range e.Terms {
		i, ok := p.index[t.Var]
		if !ok {
			return fmt.Errorf("%s: unknown variable %s", name, t.Var)
		}
		r[i] = scale * t.Coef
	}
	r[len(p.vars)] = delta
	p.rows = append(p.rows, r)
	p.rhs = append(p.rhs, rhs)
	p.names = append(p.names, name)
	return nil
}

func (p *program) add(c constraint.Constraint) error {
	switch c.Rel {
	case constraint.LessEq:
		return p.row(c.Name, c.Lhs, 1, 0, c.Rhs)
	case constraint.Less:
		return p.row(c.Name, c.Lhs, 1, 1, c.Rhs)
	case constraint.Equal:
		if err := p.row(c.Name, c.Lhs, 1, 0, c.Rhs); err != nil {
			return err
		}
		return p.row(c.Name, c.Lhs, -1, 0, -c.Rhs)
	}
	return fmt.Errorf("%s: unknown relation %d", c.Name, c.Rel)
}

// solution is an optimal point of a program.
type solution struct {
	values map[constraint.Var]float64
	margin float64
	// objective is the optimum of the maximized expression.
	objective float64
}

// objective returns the column vector of sum(es); constants are dropped.
func (p *program) objective(es []constraint.Expr) ([]float64, error) {
	obj := make([]float64, p.width())
	for _, e := range es {
		for _, t := range e.Terms {
			i, ok := p.index[t.Var]
			if !ok {
				return nil, fmt.Errorf("objective: unknown variable %s", t.Var)
			}
			obj[i] += t.Coef
		}
	}
	return obj, nil
}

// optimize maximizes obj subject to the rows and delta <= 1. obj has one
// entry per column, the margin last.
func (p *program) optimize(obj []float64, tol float64) (solution, error) {
	nv := p.width()
	m := len(p.rows) + 1
	n := nv + m

	a := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	for i, r := range p.rows {
		for j, x := range r {
			a.Set(i, j, x)
		}
		b[i] = p.rhs[i]
	}
	// delta <= 1
	a.Set(m-1, nv-1, 1)
	b[m-1] = 1
	for i := 0; i < m; i++ {
		a.Set(i, nv+i, 1)
	}
	c := make([]float64, n)
	for j, x := range obj {
		c[j] = -x
	}

	opt, x, err := lp.Simplex(c, a, b, tol, nil)
	if err != nil {
		return solution{}, err
	}
	sol := solution{
		values:    make(map[constraint.Var]float64, len(p.vars)),
		margin:    x[nv-1],
		objective: -opt,
	}
	for i, v := range p.vars {
		sol.values[v] = x[i]
	}
	return sol, nil
}

// solve maximizes the margin and rejects points where it is not above margin.
func (p *program) solve(tol, margin float64) (solution, error) {
	obj := make([]float64, p.width())
	obj[len(obj)-1] = 1
	sol, err := p.optimize(obj, tol)
	if err != nil {
		return solution{}, err
	}
	if sol.margin <= margin {
		return sol, errNoMargin
	}
	return sol, nil
}

// runLP maximizes the margin of p. See runSimplex.
func runLP(ctx context.Context, p *program, tol, margin float64) (solution, error) {
	return runSimplex(ctx, func() (solution, error) { return p.solve(tol, margin) })
}

// runObjective maximizes obj over p with strict rows relaxed to non-strict.
func runObjective(ctx context.Context, p *program, obj []float64, tol float64) (solution, error) {
	return runSimplex(ctx, func() (solution, error) { return p.optimize(obj, tol) })
}

// runSimplex runs one simplex on the caller's goroutine. gonum's simplex
// cannot be stopped part way, so ctx is checked before it starts and a started
// solve runs to the end; no work outlives the call. Infeasibility maps to
// ErrModelInfeasible; anything else the simplex reports is a solver fault.
func runSimplex(ctx context.Context, solve func() (solution, error)) (sol solution, err error) {
	if ctx.Err() != nil {
		return solution{}, interrupted(ctx)
	}
	defer func() {
		if r := recover(); r != nil {
			sol, err = solution{}, fmt.Errorf("%w: simplex panic: %v", model.ErrSolverResource, r)
		}
	}()

	sol, err = solve()
	switch {
	case err == nil:
		return sol, nil
	case errors.Is(err, lp.ErrInfeasible), errors.Is(err, errNoMargin):
		return solution{}, fmt.Errorf("%w: %v", model.ErrModelInfeasible, err)
	default:
		return solution{}, fmt.Errorf("%w: %v", model.ErrSolverResource, err)
	}
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: solve interrupted: %w", model.ErrSolverResource, ctx.Err())
}
