package mate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/matelearn/pkg/feature"
)

func TestKindStrings(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "hole_spacing", HoleSpacing.String())
	assert.False(t, Kind(0).Valid())

	_, err := ParseKind("weld")
	assert.Error(t, err)
}

func TestKindPriorityOrder(t *testing.T) {
	order := []Kind{Concentric, Perpendicular, Coincident, Parallel, Screw, Tangent, HoleSpacing}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i-1].Priority(), order[i].Priority(), "%s vs %s", order[i-1], order[i])
	}
}

func TestObservationSwap(t *testing.T) {
	obs := Observation{
		Kind:     Concentric,
		PartA:    "a",
		PartB:    "b",
		FeatureA: "fa",
		FeatureB: "fb",
		Params:   map[string]float64{"radius_a": 1, "radius_b": 2, "angle": 3},
	}
	s := obs.Swap()
	assert.Equal(t, "b", s.PartA)
	assert.Equal(t, "fa", s.FeatureB)
	assert.Equal(t, map[string]float64{"radius_a": 2, "radius_b": 1, "angle": 3}, s.Params)
	// The original is untouched.
	assert.Equal(t, 1.0, obs.Params["radius_a"])
	assert.Equal(t, obs, s.Swap())
}

func TestPairOf(t *testing.T) {
	assert.Equal(t, PairOf(feature.KindCone, feature.KindCylinder), PairOf(feature.KindCylinder, feature.KindCone))
}

func TestCompareOrdersByConfidenceThenIDs(t *testing.T) {
	hi := Observation{Confidence: 0.9, PartA: "z"}
	lo := Observation{Confidence: 0.5, PartA: "a"}
	assert.Negative(t, Compare(hi, lo))
	assert.Positive(t, Compare(lo, hi))

	a := Observation{Confidence: 0.5, PartA: "a", FeatureA: "1"}
	b := Observation{Confidence: 0.5, PartA: "a", FeatureA: "2"}
	assert.Negative(t, Compare(a, b))
	assert.Zero(t, Compare(a, a))
}

func TestCompareBreaksTiesOnParams(t *testing.T) {
	base := Observation{Kind: Concentric, Confidence: 0.8, PartA: "housing", PartB: "bolt", FeatureA: "bore", FeatureB: "shank"}
	near, far := base.Clone(), base.Clone()
	near.Params = map[string]float64{"axis_distance": 0.1}
	far.Params = map[string]float64{"axis_distance": 0.4}
	assert.Negative(t, Compare(near, far))
	assert.Positive(t, Compare(far, near))

	extra := near.Clone()
	extra.Params["angle"] = 0
	assert.NotZero(t, Compare(near, extra))
	assert.Equal(t, -Compare(near, extra), Compare(extra, near))

	why := near.Clone()
	why.Reasoning = "axes coincide"
	assert.NotZero(t, Compare(near, why))
	assert.Zero(t, Compare(near, near.Clone()))
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	tests := []struct {
		name      string
		mutate    func(*Thresholds)
		wantField string
	}{
		{"negative axis distance", func(t *Thresholds) { t.ConcentricAxisDist = -0.1 }, "concentric_axis_dist"},
		{"negative coincident distance", func(t *Thresholds) { t.CoincidentDist = -1 }, "coincident_dist"},
		{"nan association distance", func(t *Thresholds) { t.MaxAssociationDist = math.NaN() }, "max_association_dist"},
		{"min above max", func(t *Thresholds) { t.PerpendicularAngleMin = 93 }, "perpendicular_angle_min"},
		{"confidence above one", func(t *Thresholds) { t.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"zero min samples", func(t *Thresholds) { t.MinSamplesForRule = 0 }, "min_samples_for_rule"},
		{"zero rules per type", func(t *Thresholds) { t.MaxRulesPerType = 0 }, "max_rules_per_type"},
		{"angle above 180", func(t *Thresholds) { t.ParallelAngleDeg = 181 }, "parallel_angle_deg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.mutate(&th)

			_, err := NewThresholds(th)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))

			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantField, ce.Field)
		})
	}
}

func TestValidateWeight(t *testing.T) {
	assert.NoError(t, ValidateWeight("rule_weight", 0))
	assert.NoError(t, ValidateWeight("rule_weight", 1))
	assert.ErrorIs(t, ValidateWeight("rule_weight", -0.1), ErrConfiguration)
	assert.ErrorIs(t, ValidateWeight("rule_weight", math.NaN()), ErrConfiguration)
}

func TestClassifyHoleSpacing(t *testing.T) {
	th := DefaultThresholds()
	h1 := cyl("plate", "h1", zAxis, vec(0, 0, 0), 3)
	h2 := cyl("plate", "h2", zAxis, vec(30, 0, 0), 3)

	obs, ok, err := ClassifyHoleSpacing(h1, h2, th)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HoleSpacing, obs.Kind)
	assert.Equal(t, 30.0, obs.Params["distance"])
	assert.Equal(t, 0.80, obs.Confidence)
	assert.Equal(t, "plate", obs.PartA)
	assert.Equal(t, "plate", obs.PartB)

	tests := []struct {
		name string
		a, b Subject
	}{
		{"different parts", h1, cyl("other", "h2", zAxis, vec(30, 0, 0), 3)},
		{"large bore", h1, cyl("plate", "h2", zAxis, vec(30, 0, 0), 60)},
		{"too far", h1, cyl("plate", "h2", zAxis, vec(250, 0, 0), 3)},
		{"same center", h1, cyl("plate", "h2", zAxis, vec(0, 0, 0), 3)},
		{"not parallel", h1, cyl("plate", "h2", xAxis, vec(30, 0, 0), 3)},
		{"plane", h1, plane("plate", "p", zAxis, vec(0, 0, 0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ClassifyHoleSpacing(tt.a, tt.b, th)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	_, _, err = ClassifyHoleSpacing(h1, cyl("plate", "bad", vec(1, 1, 0), vec(0, 0, 0), 3), th)
	assert.ErrorIs(t, err, feature.ErrInvalidFeature)
}
