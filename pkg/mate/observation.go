package mate

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/chazu/matelearn/pkg/feature"
)

// Observation is the result of classifying one feature pair.
type Observation struct {
	Kind        Kind               `json:"kind"`
	PartA       string             `json:"part_a"`
	PartB       string             `json:"part_b"`
	FeatureA    string             `json:"feature_a"`
	FeatureB    string             `json:"feature_b"`
	FeaturePair [2]feature.Kind    `json:"feature_pair"`
	Params      map[string]float64 `json:"params"`
	Confidence  float64            `json:"confidence"`
	Reasoning   string             `json:"reasoning"`
}

// PairOf returns the canonical (sorted) feature type pair for two kinds.
func PairOf(a, b feature.Kind) [2]feature.Kind {
	if b < a {
		a, b = b, a
	}
	return [2]feature.Kind{a, b}
}

// Swap returns the observation with the A and B sides exchanged. Parameters
// suffixed _a and _b trade places; FeaturePair is already canonical.
func (o Observation) Swap() Observation {
	o.PartA, o.PartB = o.PartB, o.PartA
	o.FeatureA, o.FeatureB = o.FeatureB, o.FeatureA
	if o.Params != nil {
		swapped := make(map[string]float64, len(o.Params))
		for k, v := range o.Params {
			swapped[swapSuffix(k)] = v
		}
		o.Params = swapped
	}
	return o
}

// Clone returns a copy that shares no mutable state with o.
func (o Observation) Clone() Observation {
	o.Params = maps.Clone(o.Params)
	return o
}

// Compare is the canonical observation order: confidence descending, then
// part and feature ids, kind, feature pair, reasoning and finally the
// parameters by sorted name. Observations compare equal only when every
// field matches. It suits slices.SortFunc.
func Compare(a, b Observation) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(a.PartA, b.PartA); c != 0 {
		return c
	}
	if c := cmp.Compare(a.PartB, b.PartB); c != 0 {
		return c
	}
	if c := cmp.Compare(a.FeatureA, b.FeatureA); c != 0 {
		return c
	}
	if c := cmp.Compare(a.FeatureB, b.FeatureB); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := slices.Compare(a.FeaturePair[:], b.FeaturePair[:]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Reasoning, b.Reasoning); c != 0 {
		return c
	}
	return compareParams(a.Params, b.Params)
}

// compareParams orders parameter maps by their sorted names, then by the
// values in name order.
func compareParams(a, b map[string]float64) int {
	ka, kb := slices.Sorted(maps.Keys(a)), slices.Sorted(maps.Keys(b))
	if c := slices.Compare(ka, kb); c != 0 {
		return c
	}
	for _, k := range ka {
		if c := cmp.Compare(a[k], b[k]); c != 0 {
			return c
		}
	}
	return 0
}

func swapSuffix(k string) string {
	switch {
	case strings.HasSuffix(k, "_a"):
		return strings.TrimSuffix(k, "_a") + "_b"
	case strings.HasSuffix(k, "_b"):
		return strings.TrimSuffix(k, "_b") + "_a"
	default:
		return k
	}
}
