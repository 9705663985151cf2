package constraint

import (
	"testing"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

func TestNormalize(t *testing.T) {
	unanchored := func() (model.Domain, model.Ranking) {
		d, r := scenario()
		r.Anchors = nil
		return d, r
	}
	allUsed := func() (model.Domain, model.Ranking) {
		d := model.NewDomain(model.Discrete{Values: []string{"x", "y"}})
		return d, model.Ranking{
			Bids:    []model.Bid{model.NewBid(model.LabelValue("x")), model.NewBid(model.LabelValue("y"))},
			Anchors: &model.Anchors{Low: 0.2, High: 0.8},
		}
	}
	oneUnused := func() (model.Domain, model.Ranking) {
		d := model.NewDomain(model.Discrete{Values: []string{"x", "y", "z"}})
		return d, model.Ranking{
			Bids:    []model.Bid{model.NewBid(model.LabelValue("x")), model.NewBid(model.LabelValue("y"))},
			Anchors: &model.Anchors{Low: 0.2, High: 0.8},
		}
	}

	tests := []struct {
		name   string
		system func() (model.Domain, model.Ranking)
		point  map[Var]float64
		wantOK bool
	}{
		{
			name:   "unanchored point is rescaled",
			system: unanchored,
			point: map[Var]float64{
				WeightVar(0): 0.5, WeightVar(1): 0.5,
				MinUtilVar(0): 0.045, MaxUtilVar(0): 0.095,
				ValueVar(1, 0): 0.2, ValueVar(1, 1): 0.03, ValueVar(1, 2): 0.1,
			},
			wantOK: true,
		},
		{
			name:   "anchored remainder goes to the integer issue",
			system: scenario,
			point: map[Var]float64{
				WeightVar(0): 0.05, WeightVar(1): 0.95,
				MinUtilVar(0): 0.04, MaxUtilVar(0): 0.05,
				ValueVar(1, 0): 0.909, ValueVar(1, 1): 0.055, ValueVar(1, 2): 0.5,
			},
			wantOK: true,
		},
		{
			name:   "anchored remainder goes to an unused value",
			system: oneUnused,
			point: map[Var]float64{
				WeightVar(0): 1, ValueVar(0, 0): 0.2, ValueVar(0, 1): 0.8, ValueVar(0, 2): 0.1,
			},
			wantOK: true,
		},
		{
			name:   "anchored with nowhere to put the remainder",
			system: allUsed,
			point: map[Var]float64{
				WeightVar(0): 1, ValueVar(0, 0): 0.2, ValueVar(0, 1): 0.8,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r := tt.system()
			sys, err := NewBuilder(d, r).Build()
			if err != nil {
				t.Fatal(err)
			}
			if sys.Check(sys.Extend(tt.point), 1e-9) == nil {
				t.Fatal("starting point already satisfies every choice")
			}

			out, ok := sys.Normalize(tt.point, 1e-9)
			if ok != tt.wantOK {
				t.Fatalf("Normalize() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if err := sys.Check(sys.Extend(out), 1e-9); err != nil {
				t.Errorf("normalized point: %v", err)
			}
		})
	}
}
