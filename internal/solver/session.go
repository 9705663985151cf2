// Package solver finds a satisfying assignment for a constraint.System.
//
// Linear rows go to a simplex (gonum) that maximizes a common margin on the
// strict rows. Choices are settled by normalizing the simplex point when the
// system allows it, and otherwise by an incremental SAT solver (gini) that
// proposes one option per choice and learns a blocking clause for every
// conflict the simplex finds.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/constraint"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

type Config struct {
	// Tolerance is the simplex optimality tolerance.
	Tolerance float64
	// Margin is the smallest slack accepted for a strict relation.
	Margin float64
	// MaxRounds caps SAT proposals per solve.
	MaxRounds int
	// PollInterval is how often a running SAT search checks for cancellation.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tolerance:    1e-10,
		Margin:       1e-9,
		MaxRounds:    4096,
		PollInterval: time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.Margin <= 0 {
		c.Margin = d.Margin
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Model maps every variable and definition of a system to its value.
type Model map[constraint.Var]float64

// Session owns the solver state for one request. It is not safe for
// concurrent use; Close may be called from any goroutine and stops a Solve in
// flight.
type Session struct {
	cfg Config

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// Open starts a session. Zero fields of cfg take their defaults.
func Open(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Margin >= 1 || math.IsNaN(cfg.Tolerance) || math.IsNaN(cfg.Margin) {
		return nil, fmt.Errorf("%w: invalid solver config %+v", model.ErrSolverResource, cfg)
	}
	return &Session{cfg: cfg}, nil
}

// Close releases the session. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// begin ties a solve to the session so that Close can interrupt it.
func (s *Session) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, fmt.Errorf("%w: session closed", model.ErrSolverResource)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return ctx, func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}, nil
}

// Solve returns a model of sys. Errors wrap ErrModelInfeasible when sys has
// no model and ErrSolverResource when the search was interrupted or gave up.
//
// The linear rows are solved first without the choices. Most systems are
// then finished by System.Normalize. The rest go through a local search over
// selections and, failing that, a SAT search that learns a minimal conflict
// from every selection the simplex rejects.
func (s *Session) Solve(ctx context.Context, sys *constraint.System) (Model, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if ctx.Err() != nil {
		return nil, interrupted(ctx)
	}

	base := newProgram(sys.Vars)
	for _, c := range sys.Constraints {
		if err := base.add(c); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSolverResource, err)
		}
	}
	relaxed, err := runLP(ctx, base, s.cfg.Tolerance, s.cfg.Margin)
	if err != nil {
		return nil, err
	}
	if satisfiesChoices(sys, relaxed.values, s.cfg.Margin) {
		return Model(sys.Extend(relaxed.values)), nil
	}
	if values, ok := sys.Normalize(relaxed.values, s.cfg.Margin); ok && satisfiesChoices(sys, values, s.cfg.Margin) {
		return Model(sys.Extend(values)), nil
	}

	sel, sol, err := s.ascend(ctx, sys, base, closestOptions(sys.Choices, relaxed.values))
	if err != nil {
		return nil, err
	}
	if sol != nil {
		return Model(sys.Extend(sol.values)), nil
	}
	return s.search(ctx, sys, base, sel)
}

// maxAscent bounds the improving steps of ascend.
const maxAscent = 32

// ascend is a local search over selections. Each step maximizes the summed
// gap terms of the selected options over the linear rows, then moves every
// choice to the option closest to holding at that optimum, which never
// lowers the next step's optimum. A step whose gaps all close is confirmed
// with the strict margin. ascend returns the last selection when it stalls.
func (s *Session) ascend(ctx context.Context, sys *constraint.System, base *program, sel []int) ([]int, *solution, error) {
	best := math.Inf(-1)
	for step := 0; step < maxAscent; step++ {
		var terms []constraint.Expr
		rhs := 0.0
		for c, j := range sel {
			o := sys.Choices[c].Options[j]
			terms = append(terms, o.Lhs)
			rhs += o.Rhs
		}
		obj, err := base.objective(terms)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrSolverResource, err)
		}
		x, err := runObjective(ctx, base, obj, s.cfg.Tolerance)
		if err != nil {
			return nil, nil, err
		}
		gap := x.objective - rhs
		if gap >= -s.cfg.Margin {
			sol, err := s.confirm(ctx, sys, base, sel)
			switch {
			case err == nil:
				return sel, &sol, nil
			case errors.Is(err, model.ErrModelInfeasible):
				return sel, nil, nil
			default:
				return nil, nil, err
			}
		}
		if gap <= best+s.cfg.Margin {
			return sel, nil, nil
		}
		best = gap
		next := closestOptions(sys.Choices, x.values)
		if slices.Equal(next, sel) {
			return sel, nil, nil
		}
		sel = next
	}
	return sel, nil, nil
}

// search enumerates selections with the SAT skeleton, starting from hint.
func (s *Session) search(ctx context.Context, sys *constraint.System, base *program, hint []int) (Model, error) {
	sk := newSkeleton(sys.Choices)
	for round := 0; round < s.cfg.MaxRounds; round++ {
		sel, err := sk.propose(ctx, hint, s.cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		hint = nil

		sol, err := s.confirm(ctx, sys, base, sel)
		switch {
		case err == nil:
			return Model(sys.Extend(sol.values)), nil
		case !errors.Is(err, model.ErrModelInfeasible):
			return nil, err
		}
		core, err := s.shrink(ctx, sys, base, sel)
		if err != nil {
			return nil, err
		}
		sk.block(core)
	}
	return nil, fmt.Errorf("%w: no model after %d rounds", model.ErrSolverResource, s.cfg.MaxRounds)
}

// confirm solves the linear rows with the selected options enforced. Choices
// set to -1 are left free.
func (s *Session) confirm(ctx context.Context, sys *constraint.System, base *program, sel []int) (solution, error) {
	p := base.clone()
	for c, j := range sel {
		if j < 0 {
			continue
		}
		if err := p.add(sys.Choices[c].Options[j]); err != nil {
			return solution{}, fmt.Errorf("%w: %v", model.ErrSolverResource, err)
		}
	}
	return runLP(ctx, p, s.cfg.Tolerance, s.cfg.Margin)
}

// shrink drops options from a rejected selection for as long as the rest
// still cannot hold together, so one blocking clause rules out every
// selection sharing the conflict.
func (s *Session) shrink(ctx context.Context, sys *constraint.System, base *program, sel []int) ([]int, error) {
	core := append([]int(nil), sel...)
	left := len(core)
	for c := range core {
		if left == 1 {
			break
		}
		j := core[c]
		core[c] = -1
		_, err := s.confirm(ctx, sys, base, core)
		switch {
		case errors.Is(err, model.ErrModelInfeasible):
			left--
		case err != nil:
			return nil, err
		default:
			core[c] = j
		}
	}
	return core, nil
}

func satisfiesChoices(sys *constraint.System, values map[constraint.Var]float64, tol float64) bool {
	for _, ch := range sys.Choices {
		if ch.Selected(values, tol) < 0 {
			return false
		}
	}
	return true
}

// closestOptions picks, per choice, the option nearest to holding at values.
func closestOptions(choices []constraint.Choice, values map[constraint.Var]float64) []int {
	hint := make([]int, len(choices))
	for c, ch := range choices {
		best := math.Inf(1)
		for j, o := range ch.Options {
			if gap := math.Abs(o.Lhs.Eval(values) - o.Rhs); gap < best {
				best, hint[c] = gap, j
			}
		}
	}
	return hint
}

// Estimate solves sys in a fresh session and decodes the model over d. The
// session is closed on every path.
func Estimate(ctx context.Context, cfg Config, sys *constraint.System, d model.Domain) (*model.UtilitySpace, error) {
	sess, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	m, err := sess.Solve(ctx, sys)
	if err != nil {
		return nil, err
	}
	return Decode(m, d)
}

// Probe checks that a session can be opened and solve a one-issue system.
func Probe(ctx context.Context, cfg Config) error {
	d := model.NewDomain(model.Discrete{Values: []string{"a", "b"}})
	r := model.Ranking{Bids: []model.Bid{
		model.NewBid(model.LabelValue("a")),
		model.NewBid(model.LabelValue("b")),
	}}
	sys, err := constraint.NewBuilder(d, r).Build()
	if err != nil {
		return err
	}
	space, err := Estimate(ctx, cfg, sys, d)
	if err != nil {
		return fmt.Errorf("solver probe: %w", err)
	}
	return model.CheckRanking(space, r, model.Tolerance)
}
