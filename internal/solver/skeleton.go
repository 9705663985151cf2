package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/constraint"
	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// skeleton is the boolean abstraction of a system's choices: one literal per
// option, exactly one true per choice. Arithmetic stays in the LP; the SAT
// side only proposes which option of each choice to enforce.
type skeleton struct {
	g    *gini.Gini
	lits [][]z.Lit
}

func newSkeleton(choices []constraint.Choice) *skeleton {
	k := &skeleton{g: gini.New(), lits: make([][]z.Lit, len(choices))}
	next := z.Var(1)
	for c, ch := range choices {
		ls := make([]z.Lit, len(ch.Options))
		for j := range ls {
			ls[j] = next.Pos()
			next++
		}
		k.lits[c] = ls

		for _, m := range ls {
			k.g.Add(m)
		}
		k.g.Add(z.LitNull)
		for a := 0; a < len(ls); a++ {
			for b := a + 1; b < len(ls); b++ {
				k.g.Add(ls[a].Not())
				k.g.Add(ls[b].Not())
				k.g.Add(z.LitNull)
			}
		}
	}
	return k
}

// propose returns one option index per choice. hint, if given, is tried as
// assumptions first and dropped if it contradicts learned blocks.
func (k *skeleton) propose(ctx context.Context, hint []int, poll time.Duration) ([]int, error) {
	if hint != nil {
		for c, j := range hint {
			k.g.Assume(k.lits[c][j])
		}
		res, err := k.solve(ctx, poll)
		if err != nil {
			return nil, err
		}
		if res == 1 {
			return k.selection(), nil
		}
	}
	res, err := k.solve(ctx, poll)
	if err != nil {
		return nil, err
	}
	if res != 1 {
		return nil, fmt.Errorf("%w: no combination of choices is consistent", model.ErrModelInfeasible)
	}
	return k.selection(), nil
}

// solve runs gini in the background and polls it so that ctx can stop it.
func (k *skeleton) solve(ctx context.Context, poll time.Duration) (int, error) {
	run := k.g.GoSolve()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if res, done := run.Test(); done {
			if res == 0 {
				return 0, fmt.Errorf("%w: sat search stopped without a result", model.ErrSolverResource)
			}
			return res, nil
		}
		select {
		case <-ctx.Done():
			run.Stop()
			return 0, interrupted(ctx)
		case <-ticker.C:
		}
	}
}

func (k *skeleton) selection() []int {
	sel := make([]int, len(k.lits))
	for c, ls := range k.lits {
		for j, m := range ls {
			if k.g.Value(m) {
				sel[c] = j
				break
			}
		}
	}
	return sel
}

// block forbids every selection that agrees with core. Choices set to -1 in
// core are unconstrained.
func (k *skeleton) block(core []int) {
	for c, j := range core {
		if j >= 0 {
			k.g.Add(k.lits[c][j].Not())
		}
	}
	k.g.Add(z.LitNull)
}
