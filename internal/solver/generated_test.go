package solver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

// groundTruth draws an additive utility space with the given shape. Every
// discrete issue has one value at utility 1.
func groundTruth(rng *rand.Rand, discrete, values, integers int) *model.UtilitySpace {
	var issues []model.Issue
	var evals []model.Evaluator
	for i := 0; i < discrete; i++ {
		labels := make([]string, values)
		utils := make([]float64, values)
		for j := range labels {
			labels[j] = fmt.Sprintf("v%d-%d", i, j)
			utils[j] = 0.05 + 0.9*rng.Float64()
		}
		utils[rng.IntN(values)] = 1
		issues = append(issues, model.Discrete{Values: labels})
		evals = append(evals, model.DiscreteEvaluator{Utilities: utils})
	}
	for i := 0; i < integers; i++ {
		lo := 0.5 * rng.Float64()
		issues = append(issues, model.Integer{Lower: 0, Upper: 100})
		evals = append(evals, model.IntegerEvaluator{MinUtil: lo, MaxUtil: lo + 0.1 + 0.4*rng.Float64()})
	}

	weights := make([]float64, len(issues))
	total := 0.0
	for i := range weights {
		weights[i] = 0.2 + rng.Float64()
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return &model.UtilitySpace{Domain: model.NewDomain(issues...), Weights: weights, Evaluators: evals}
}

// sampleRanking draws n bids and orders them by their true utility.
func sampleRanking(t *testing.T, rng *rand.Rand, truth *model.UtilitySpace, n int, anchored bool) model.Ranking {
	t.Helper()
	type scored struct {
		bid model.Bid
		u   float64
	}
	bids := make([]scored, n)
	for k := range bids {
		vals := make([]model.Value, len(truth.Domain.Issues))
		for i, iss := range truth.Domain.Issues {
			switch is := iss.(type) {
			case model.Discrete:
				vals[i] = model.LabelValue(is.Values[rng.IntN(len(is.Values))])
			case model.Integer:
				vals[i] = model.IntValue(is.Lower + rng.Int64N(is.Upper-is.Lower+1))
			}
		}
		b := model.NewBid(vals...)
		u, err := truth.Utility(b)
		if err != nil {
			t.Fatal(err)
		}
		bids[k] = scored{bid: b, u: u}
	}
	sort.SliceStable(bids, func(a, b int) bool { return bids[a].u < bids[b].u })

	r := model.Ranking{Bids: make([]model.Bid, n)}
	for k, s := range bids {
		r.Bids[k] = s.bid
	}
	if anchored {
		r.Anchors = &model.Anchors{Low: bids[0].u, High: bids[n-1].u}
	}
	return r
}

func TestEstimateGeneratedRankings(t *testing.T) {
	const limit = 30 * time.Second
	tests := []struct {
		name     string
		discrete int
		values   int
		integers int
		bids     int
	}{
		{name: "5x5 discrete, 2 integer, 40 bids", discrete: 5, values: 5, integers: 2, bids: 40},
		{name: "6x6 discrete, 1 integer, 80 bids", discrete: 6, values: 6, integers: 1, bids: 80},
		{name: "6x6 discrete, 60 bids", discrete: 6, values: 6, bids: 60},
		{name: "4x4 discrete, 30 bids", discrete: 4, values: 4, bids: 30},
	}
	for seed, tt := range tests {
		for _, anchored := range []bool{false, true} {
			name := tt.name
			if anchored {
				name += ", anchored"
			}
			t.Run(name, func(t *testing.T) {
				if testing.Short() && tt.bids > 40 {
					t.Skip("large ranking")
				}
				rng := rand.New(rand.NewPCG(uint64(seed), 7))
				truth := groundTruth(rng, tt.discrete, tt.values, tt.integers)
				r := sampleRanking(t, rng, truth, tt.bids, anchored)
				d := truth.Domain

				ctx, cancel := context.WithTimeout(context.Background(), limit)
				defer cancel()
				start := time.Now()
				space, err := Estimate(ctx, DefaultConfig(), build(t, d, r), d)
				elapsed := time.Since(start)
				if err != nil {
					t.Fatalf("Estimate() = %v after %v", err, elapsed)
				}
				if elapsed > limit {
					t.Errorf("Estimate() took %v, want under %v", elapsed, limit)
				}
				if err := space.Validate(); err != nil {
					t.Fatalf("invalid space: %v", err)
				}
				if err := model.CheckRanking(space, r, model.Tolerance); err != nil {
					t.Errorf("ranking not reproduced: %v", err)
				}
			})
		}
	}
}

// A best bid that beats every bid differing from it in one issue holds the
// maximum of every issue, so its utility is 1 and cannot be anchored lower.
func TestEstimateDominatedTopAnchoredLow(t *testing.T) {
	const issues, values = 3, 17
	var dom []model.Issue
	for i := 0; i < issues; i++ {
		labels := make([]string, values)
		for j := range labels {
			labels[j] = fmt.Sprintf("v%d-%d", i, j)
		}
		dom = append(dom, model.Discrete{Values: labels})
	}
	d := model.NewDomain(dom...)

	top := func() []model.Value {
		vals := make([]model.Value, issues)
		for i := range vals {
			vals[i] = model.LabelValue(fmt.Sprintf("v%d-0", i))
		}
		return vals
	}
	var bids []model.Bid
	for i := 0; i < issues; i++ {
		for j := 1; j < values; j++ {
			vals := top()
			vals[i] = model.LabelValue(fmt.Sprintf("v%d-%d", i, j))
			bids = append(bids, model.NewBid(vals...))
		}
	}
	bids = append(bids, model.NewBid(top()...))
	r := model.Ranking{Bids: bids, Anchors: &model.Anchors{Low: 0.1, High: 0.5}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	start := time.Now()
	_, err := Estimate(ctx, DefaultConfig(), build(t, d, r), d)
	if !errors.Is(err, model.ErrModelInfeasible) {
		t.Fatalf("Estimate() error = %v after %v, want ErrModelInfeasible", err, time.Since(start))
	}
}
