package constraint

import (
	"fmt"
	"strings"

	"github.com/parlakisik/agent-exchange/aex-preference-estimator/internal/model"
)

func WeightVar(i int) Var { return Var(fmt.Sprintf("weight-%d", i)) }
func ValueVar(i, j int) Var { return Var(fmt.Sprintf("issue-%d-%d", i, j)) }
func MinUtilVar(i int) Var { return Var(fmt.Sprintf("issue-%d-minutil", i)) }
func MaxUtilVar(i int) Var { return Var(fmt.Sprintf("issue-%d-maxutil", i)) }
func SlopeVar(i int) Var { return Var(fmt.Sprintf("issue-%d-slope", i)) }
func BidVar(k int) Var { return Var(fmt.Sprintf("bid-%d", k)) }
func argmaxChoice(i int) string { return fmt.Sprintf("issue-%d-argmax", i) }

// Builder accumulates the system for one domain and ranking.
type Builder struct {
	domain  model.Domain
	ranking model.Ranking
	sys     *System
}

func NewBuilder(d model.Domain, r model.Ranking) *Builder {
	return &Builder{domain: d, ranking: r}
}

// Build validates the inputs and emits the system. Each call starts afresh.
func (b *Builder) Build() (*System, error) {
	if err := b.domain.Validate(); err != nil {
		return nil, err
	}
	if err := b.ranking.Validate(b.domain); err != nil {
		return nil, err
	}

	b.sys = &System{Anchored: b.ranking.Anchors != nil}
	b.weights()
	for i, iss := range b.domain.Issues {
		switch is := iss.(type) {
		case model.Discrete:
			b.discrete(i, is)
		case model.Integer:
			b.integer(i, is)
		}
	}
	bids := make([]Expr, len(b.ranking.Bids))
	for k, bid := range b.ranking.Bids {
		bids[k] = b.bid(k, bid)
	}
	for k := 0; k+1 < len(bids); k++ {
		b.add(relate(fmt.Sprintf("order-%d-%d", k, k+1), bids[k], LessEq, bids[k+1]))
	}
	if a := b.ranking.Anchors; a != nil {
		b.add(relate("anchor-low", bids[0], Equal, C(a.Low)))
		b.add(relate("anchor-high", bids[len(bids)-1], Equal, C(a.High)))
	}
	return b.sys, nil
}

func (b *Builder) add(c Constraint) { b.sys.Constraints = append(b.sys.Constraints, c) }

func (b *Builder) weights() {
	total := make([]Expr, len(b.domain.Issues))
	for i := range b.domain.Issues {
		w := WeightVar(i)
		b.sys.Vars = append(b.sys.Vars, w)
		b.add(relate(fmt.Sprintf("weight-%d-positive", i), C(0), Less, V(w)))
		b.add(relate(fmt.Sprintf("weight-%d-max", i), V(w), LessEq, C(1)))
		total[i] = V(w)
	}
	b.add(relate("weights-sum", Sum(total...), Equal, C(1)))
}

// discrete bounds every scaled utility by the weight and requires one value to
// reach it. Only values the ranking does not dominate are offered as the
// maximum.
func (b *Builder) discrete(i int, is model.Discrete) {
	w := V(WeightVar(i))
	candidate := b.argmaxCandidates(i, is)
	used := make([]bool, len(is.Values))
	for _, bid := range b.ranking.Bids {
		used[is.IndexOf(bid.Values[i].Label)] = true
	}
	choice := Choice{Name: argmaxChoice(i)}
	sc := Scale{Weight: WeightVar(i), Discrete: true}
	for j := range is.Values {
		c := ValueVar(i, j)
		b.sys.Vars = append(b.sys.Vars, c)
		b.add(relate(fmt.Sprintf("issue-%d-%d-positive", i, j), C(0), Less, V(c)))
		b.add(relate(fmt.Sprintf("issue-%d-%d-max", i, j), V(c), LessEq, w))
		if candidate[j] {
			choice.Options = append(choice.Options, relate(fmt.Sprintf("issue-%d-%d-is-max", i, j), V(c), Equal, w))
		}
		sc.Vars = append(sc.Vars, c)
		if !used[j] {
			sc.Unused = append(sc.Unused, c)
		}
	}
	b.sys.Choices = append(b.sys.Choices, choice)
	b.sys.Scales = append(b.sys.Scales, sc)
}

// argmaxCandidates marks the values of issue i that may be the only maximum.
//
// Two ranked bids that differ in issue i alone order its values: the better
// bid's value is worth at least the other's. If a dominated value reaches the
// weight, so does every value above it, so the maximal values (the lowest
// index among equals) are enough.
func (b *Builder) argmaxCandidates(i int, is model.Discrete) []bool {
	m := len(is.Values)
	ge := make([][]bool, m)
	for a := range ge {
		ge[a] = make([]bool, m)
		ge[a][a] = true
	}

	// Group bids by their values on every other issue.
	groups := make(map[string][]int)
	var keys []string
	for k, bid := range b.ranking.Bids {
		var sb strings.Builder
		for x, v := range bid.Values {
			switch other := b.domain.Issues[x].(type) {
			case model.Discrete:
				if x != i {
					fmt.Fprintf(&sb, "%d,", other.IndexOf(v.Label))
				}
			case model.Integer:
				fmt.Fprintf(&sb, "%d,", v.Int)
			}
		}
		key := sb.String()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], k)
	}
	for _, key := range keys {
		ks := groups[key]
		for x := 0; x < len(ks); x++ {
			lo := is.IndexOf(b.ranking.Bids[ks[x]].Values[i].Label)
			for y := x + 1; y < len(ks); y++ {
				hi := is.IndexOf(b.ranking.Bids[ks[y]].Values[i].Label)
				ge[hi][lo] = true
			}
		}
	}

	for k := 0; k < m; k++ {
		for a := 0; a < m; a++ {
			if !ge[a][k] {
				continue
			}
			for c := 0; c < m; c++ {
				if ge[k][c] {
					ge[a][c] = true
				}
			}
		}
	}

	out := make([]bool, m)
	for v := range out {
		out[v] = true
		for a := 0; a < m; a++ {
			if a != v && ge[a][v] && (!ge[v][a] || a < v) {
				out[v] = false
				break
			}
		}
	}
	return out
}

func (b *Builder) integer(i int, is model.Integer) {
	lo, hi := MinUtilVar(i), MaxUtilVar(i)
	b.sys.Vars = append(b.sys.Vars, lo, hi)
	b.add(relate(fmt.Sprintf("issue-%d-min-nonneg", i), C(0), LessEq, V(lo)))
	b.add(relate(fmt.Sprintf("issue-%d-range", i), V(lo), Less, V(hi)))
	b.add(relate(fmt.Sprintf("issue-%d-max-le-weight", i), V(hi), LessEq, V(WeightVar(i))))
	b.sys.Defs = append(b.sys.Defs, Def{
		Var:  SlopeVar(i),
		Expr: V(hi).Minus(V(lo)).Scale(1 / is.Span()),
	})
	b.sys.Scales = append(b.sys.Scales, Scale{Weight: WeightVar(i), Vars: []Var{lo, hi}})
}

// contribution is the scaled utility issue i adds for value v.
func (b *Builder) contribution(i int, v model.Value) Expr {
	switch is := b.domain.Issues[i].(type) {
	case model.Discrete:
		return V(ValueVar(i, is.IndexOf(v.Label)))
	case model.Integer:
		slope, _ := b.sys.Def(SlopeVar(i))
		return V(MinUtilVar(i)).Plus(slope.Scale(is.Offset(v.Int)))
	}
	return Expr{}
}

func (b *Builder) bid(k int, bid model.Bid) Expr {
	parts := make([]Expr, len(bid.Values))
	for i, v := range bid.Values {
		parts[i] = b.contribution(i, v)
	}
	e := Sum(parts...)
	b.sys.Defs = append(b.sys.Defs, Def{Var: BidVar(k), Expr: e})
	return e
}
