package mate

import (
	"fmt"

	"github.com/chazu/matelearn/pkg/feature"
)

// ClassifyHoleSpacing relates two holes on the same part: small parallel
// cylinders whose centers are apart by less than HoleSpacingMax. It
// complements Classify, which only looks across parts, and reports ok=false
// for features on different parts.
func ClassifyHoleSpacing(a, b Subject, t Thresholds) (Observation, bool, error) {
	if err := a.validate(); err != nil {
		return Observation{}, false, err
	}
	if err := b.validate(); err != nil {
		return Observation{}, false, err
	}
	if a.PartID != b.PartID {
		return Observation{}, false, nil
	}
	ca, okA := a.Feature.(feature.Cylinder)
	cb, okB := b.Feature.(feature.Cylinder)
	if !okA || !okB {
		return Observation{}, false, nil
	}
	if ca.Radius >= t.HoleRadiusMax || cb.Radius >= t.HoleRadiusMax {
		return Observation{}, false, nil
	}
	if axisAngle(ca.Axis, cb.Axis) >= t.ParallelAngleDeg {
		return Observation{}, false, nil
	}
	d := distance(ca.Center, cb.Center)
	if !inOpenBand(d, 0, t.HoleSpacingMax) {
		return Observation{}, false, nil
	}
	return Observation{
		Kind:        HoleSpacing,
		PartA:       a.PartID,
		PartB:       b.PartID,
		FeatureA:    a.FeatureID,
		FeatureB:    b.FeatureID,
		FeaturePair: PairOf(feature.KindCylinder, feature.KindCylinder),
		Params: map[string]float64{
			"distance": round(d, 2),
			"radius_a": ca.Radius,
			"radius_b": cb.Radius,
		},
		Confidence: HoleSpacingConfidence,
		Reasoning:  fmt.Sprintf("hole spacing: %.1fmm between centers", d),
	}, true, nil
}
