package model

import "sort"

// RankCorrelation returns Spearman's coefficient between the order of r and the
// order induced by s. Bids with equal utility keep their ranking order, so a
// space that satisfies the ranking scores exactly 1.
func RankCorrelation(s *UtilitySpace, r Ranking) (float64, error) {
	utils, err := Utilities(s, r)
	if err != nil {
		return 0, err
	}
	n := len(utils)
	if n < 2 {
		return 1, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return utils[order[a]] < utils[order[b]] })

	d2 := 0.0
	for pos, k := range order {
		d := float64(pos - k)
		d2 += d * d
	}
	nf := float64(n)
	return 1 - (6*d2)/(nf*(nf*nf-1)), nil
}
