package rules

import (
	"math"
	"slices"
)

// summarize reduces values to their statistics. The values are sorted
// first, so every permutation of the same multiset yields bit-identical
// results.
func summarize(values []float64) ParamStats {
	if len(values) == 0 {
		return ParamStats{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := float64(len(sorted))
	mean := sortedSum(sorted) / n
	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	return ParamStats{
		Count:  len(sorted),
		Mean:   mean,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		StdDev: math.Sqrt(sq / n),
	}
}

// combine merges two summaries with the pairwise (Chan et al.) update for
// mean and population variance.
func combine(a, b ParamStats) ParamStats {
	switch {
	case a.Count == 0:
		return b
	case b.Count == 0:
		return a
	}
	na, nb := float64(a.Count), float64(b.Count)
	n := na + nb
	delta := b.Mean - a.Mean
	m2 := a.StdDev*a.StdDev*na + b.StdDev*b.StdDev*nb + delta*delta*na*nb/n
	return ParamStats{
		Count:  a.Count + b.Count,
		Mean:   a.Mean + delta*nb/n,
		Min:    math.Min(a.Min, b.Min),
		Max:    math.Max(a.Max, b.Max),
		StdDev: math.Sqrt(m2 / n),
	}
}

func sortedSum(sorted []float64) float64 {
	var s float64
	for _, v := range sorted {
		s += v
	}
	return s
}

// mean of values, order independent.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sortedSum(sorted) / float64(len(sorted))
}
