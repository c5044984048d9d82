package rules

import (
	"context"
	"errors"
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/matelearn/pkg/aggregate"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/metrics"
)

func cylinder(id string, axis, center v3.Vec, r float64) feature.Entry {
	return feature.Entry{ID: id, Feature: feature.Cylinder{Axis: axis, Center: center, Radius: r}}
}

func mustPart(t *testing.T, id string, entries ...feature.Entry) feature.Part {
	t.Helper()
	p, err := feature.NewPart(id, entries...)
	require.NoError(t, err)
	return p
}

func newProposer(t *testing.T, opts ...ProposerOption) *Proposer {
	t.Helper()
	p, err := NewProposer(mate.DefaultThresholds(), append([]ProposerOption{WithProposerWorkers(2)}, opts...)...)
	require.NoError(t, err)
	return p
}

// crossedPins returns two parts whose cylinders meet at right angles, well
// away from the origin.
func crossedPins(t *testing.T) []feature.Part {
	return []feature.Part{
		mustPart(t, "upright", cylinder("pin", v3.Vec{Z: 1}, v3.Vec{X: 500}, 5)),
		mustPart(t, "crossbar", cylinder("rod", v3.Vec{X: 1}, v3.Vec{X: 500, Z: 50}, 5)),
	}
}

func TestProposeWithoutLibrary(t *testing.T) {
	for name, lib := range map[string]*Library{
		"nil":   nil,
		"empty": NewLibrary(mate.DefaultThresholds()),
	} {
		t.Run(name, func(t *testing.T) {
			props, err := newProposer(t).Propose(context.Background(), crossedPins(t), lib)
			require.NoError(t, err)
			require.Len(t, props, 1)

			p := props[0]
			assert.Equal(t, mate.Perpendicular, p.Observation.Kind)
			assert.Equal(t, 1.0, p.ClassifierConfidence)
			assert.Equal(t, p.ClassifierConfidence, p.FinalConfidence)
			assert.False(t, p.Blended)
			assert.Empty(t, p.RuleID)
		})
	}
}

// seated returns a housing bore and a shaft offset by 0.2mm, which
// classifies as concentric with confidence 0.80.
func seated(t *testing.T) []feature.Part {
	return []feature.Part{
		mustPart(t, "housing", cylinder("bore", v3.Vec{Z: 1}, v3.Vec{}, 10)),
		mustPart(t, "shaft", cylinder("pin", v3.Vec{Z: 1}, v3.Vec{X: 0.2}, 10)),
	}
}

func learned(t *testing.T, obs ...mate.Observation) *Library {
	t.Helper()
	lib, err := newLearner(t, mate.DefaultThresholds()).Learn(obs, nil)
	require.NoError(t, err)
	return lib
}

func TestProposeBlendsMatchingRule(t *testing.T) {
	lib := learned(t, concentric(0, 0.1, 0.6), concentric(1, 0.3, 0.6))

	props, err := newProposer(t).Propose(context.Background(), seated(t), lib)
	require.NoError(t, err)
	require.Len(t, props, 1)

	p := props[0]
	assert.Equal(t, mate.Concentric, p.Observation.Kind)
	assert.Equal(t, 0.8, p.ClassifierConfidence)
	assert.InDelta(t, 0.7, p.FinalConfidence, 1e-12)
	assert.True(t, p.Blended)
	assert.Equal(t, RuleID(Key{Kind: mate.Concentric, Pair: cylCyl}), p.RuleID)
}

func TestProposeRuleWeight(t *testing.T) {
	lib := learned(t, concentric(0, 0.1, 0.6), concentric(1, 0.3, 0.6))

	full := newProposer(t, WithRuleWeight(1))
	props, err := full.Propose(context.Background(), seated(t), lib)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.InDelta(t, 0.6, props[0].FinalConfidence, 1e-12)

	none := newProposer(t, WithRuleWeight(0))
	props, err = none.Propose(context.Background(), seated(t), lib)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.InDelta(t, 0.8, props[0].FinalConfidence, 1e-12)
	assert.True(t, props[0].Blended)
}

func TestProposeFallsBackToKindRule(t *testing.T) {
	planeCyl := [2]feature.Kind{feature.KindPlane, feature.KindCylinder}
	a, b := concentric(0, 0.1, 0.4), concentric(1, 0.1, 0.4)
	a.FeaturePair, b.FeaturePair = planeCyl, planeCyl
	lib := learned(t, a, b)

	props, err := newProposer(t).Propose(context.Background(), seated(t), lib)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, RuleID(Key{Kind: mate.Concentric, Pair: planeCyl}), props[0].RuleID)
	assert.InDelta(t, 0.6, props[0].FinalConfidence, 1e-12)
}

func TestProposeDropsBelowThreshold(t *testing.T) {
	lib := learned(t, concentric(0, 0.1, 0), concentric(1, 0.1, 0))

	props, err := newProposer(t, WithRuleWeight(0.9)).Propose(context.Background(), seated(t), lib)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestProposeOnePerPartPair(t *testing.T) {
	// bore/pin is concentric at 1.0 and cross/pin perpendicular at 1.0;
	// concentric wins on priority.
	parts := []feature.Part{
		mustPart(t, "block",
			cylinder("bore", v3.Vec{Z: 1}, v3.Vec{}, 10),
			cylinder("cross", v3.Vec{X: 1}, v3.Vec{}, 5)),
		mustPart(t, "pin", cylinder("pin", v3.Vec{Z: 1}, v3.Vec{}, 9.9)),
	}

	props, err := newProposer(t).Propose(context.Background(), parts, nil)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, mate.Concentric, props[0].Observation.Kind)
	assert.Equal(t, "bore", props[0].Observation.FeatureA)
	assert.Equal(t, 1.0, props[0].FinalConfidence)
}

func TestProposeOrdering(t *testing.T) {
	parts := append(seated(t), crossedPins(t)...)
	m := metrics.New(nil)

	props, err := newProposer(t, WithProposerMetrics(m)).Propose(context.Background(), parts, nil)
	require.NoError(t, err)

	require.Len(t, props, 2)
	assert.Equal(t, mate.Perpendicular, props[0].Observation.Kind)
	assert.Equal(t, "housing", props[1].Observation.PartA)
	for i := 1; i < len(props); i++ {
		assert.GreaterOrEqual(t, props[i-1].FinalConfidence, props[i].FinalConfidence)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Proposals.WithLabelValues("concentric")))

	again, err := newProposer(t, WithProposerWorkers(1)).Propose(context.Background(), parts, nil)
	require.NoError(t, err)
	assert.Equal(t, props, again)
}

func TestProposeErrors(t *testing.T) {
	p := newProposer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Propose(ctx, seated(t), nil)
	assert.ErrorIs(t, err, context.Canceled)

	bad := []feature.Part{{ID: "bent", Features: []feature.Entry{
		cylinder("bore", v3.Vec{}, v3.Vec{}, 10),
	}}}
	_, err = p.Propose(context.Background(), bad, nil)
	assert.ErrorIs(t, err, feature.ErrInvalidFeature)
}

type fixedPairs []aggregate.Pair

func (f fixedPairs) Candidates([]feature.Part) []aggregate.Pair { return f }

func TestProposeRejectsInvalidPairs(t *testing.T) {
	for name, pairs := range map[string]fixedPairs{
		"out of range": {{A: 0, B: 2}},
		"same part":    {{A: 0, B: 0}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newProposer(t, WithProposerFilter(pairs)).Propose(context.Background(), seated(t), nil)
			assert.ErrorIs(t, err, aggregate.ErrInvalidPair)
		})
	}
}

func TestNewProposerRejectsBadOptions(t *testing.T) {
	for name, opt := range map[string]ProposerOption{
		"weight above one": WithRuleWeight(1.5),
		"negative weight":  WithRuleWeight(-0.1),
		"no workers":       WithProposerWorkers(0),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewProposer(mate.DefaultThresholds(), opt)
			assert.True(t, errors.Is(err, mate.ErrConfiguration), "%v", err)
		})
	}
}
