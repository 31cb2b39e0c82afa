package warmup

import "math/rand/v2"

// weightedIndex picks an index with probability proportional to its weight.
// Non-positive weights are treated as zero; if every weight is zero the pick
// is uniform.
func weightedIndex(rnd *rand.Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return rnd.IntN(len(weights))
	}

	target := rnd.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		target -= w
		if target < 0 {
			return i
		}
	}
	return len(weights) - 1
}
