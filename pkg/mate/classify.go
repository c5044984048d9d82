package mate

import (
	"fmt"
	"math"

	"github.com/chazu/matelearn/pkg/feature"
)

// Fixed bands that are not part of Thresholds.
const (
	ParallelMinAxisDist = 10.0  // mm, exclusive
	ParallelMaxAxisDist = 200.0 // mm, exclusive
	ThreadSemiAngleMin  = 30.0  // degrees, exclusive
	ThreadSemiAngleMax  = 60.0  // degrees, exclusive
	ScrewAxisAngleMax   = 5.0   // degrees, exclusive
	TangentSlack        = 1.05

	ScrewConfidence       = 0.80
	TangentConfidence     = 0.85
	HoleSpacingConfidence = 0.80
)

// Subject is one side of a classification: a feature and where it came from.
type Subject struct {
	PartID    string
	FeatureID string
	Feature   feature.Feature
}

func (s Subject) validate() error {
	err := feature.Validate(s.Feature)
	if ife, ok := err.(*feature.InvalidFeatureError); ok {
		ife.PartID, ife.FeatureID = s.PartID, s.FeatureID
		return ife
	}
	return err
}

// Classify infers the constraint between two features, if any. It is pure
// and symmetric: Classify(b, a, t) yields the same kind and confidence as
// Classify(a, b, t) with the A/B labels swapped. ok is false when no
// geometric relation holds; err is non-nil only for malformed features.
func Classify(a, b Subject, t Thresholds) (obs Observation, ok bool, err error) {
	if err := a.validate(); err != nil {
		return Observation{}, false, err
	}
	if err := b.validate(); err != nil {
		return Observation{}, false, err
	}

	switch fa := a.Feature.(type) {
	case feature.Cylinder:
		switch fb := b.Feature.(type) {
		case feature.Cylinder:
			obs, ok = classifyCylinders(fa, fb, t)
		case feature.Cone:
			obs, ok = classifyThread(fb, fa)
		}
	case feature.Plane:
		if fb, isPlane := b.Feature.(feature.Plane); isPlane {
			obs, ok = classifyPlanes(fa, fb, t)
		}
	case feature.Cone:
		if fb, isCyl := b.Feature.(feature.Cylinder); isCyl {
			obs, ok = classifyThread(fa, fb)
		}
	case feature.Sphere:
		if fb, isSphere := b.Feature.(feature.Sphere); isSphere {
			obs, ok = classifySpheres(fa, fb)
		}
	case feature.Torus:
		// Tori are catalogued but take part in no pair rule.
	}
	if !ok {
		return Observation{}, false, nil
	}

	obs.PartA, obs.PartB = a.PartID, b.PartID
	obs.FeatureA, obs.FeatureB = a.FeatureID, b.FeatureID
	obs.FeaturePair = PairOf(a.Feature.Kind(), b.Feature.Kind())
	return obs, true, nil
}

func classifyCylinders(a, b feature.Cylinder, t Thresholds) (Observation, bool) {
	angle := axisAngle(a.Axis, b.Axis)
	axisDist := axisDistance(a.Center, a.Axis, b.Center, b.Axis)
	centerDist := distance(a.Center, b.Center)

	if angle < t.ConcentricAngleDeg && axisDist < t.ConcentricAxisDist {
		return Observation{
			Kind: Concentric,
			Params: map[string]float64{
				"axis_distance":   round(axisDist, 3),
				"angle":           round(angle, 2),
				"radius_a":        a.Radius,
				"radius_b":        b.Radius,
				"center_distance": round(centerDist, 2),
			},
			Confidence: concentricConfidence(axisDist, angle, t),
			Reasoning:  fmt.Sprintf("concentric: axis offset %.2fmm, axis angle %.1f°", axisDist, angle),
		}, true
	}

	if inOpenBand(angle, t.PerpendicularAngleMin, t.PerpendicularAngleMax) && centerDist < t.MaxAssociationDist {
		return Observation{
			Kind: Perpendicular,
			Params: map[string]float64{
				"angle":    round(angle, 2),
				"distance": round(centerDist, 2),
			},
			Confidence: perpendicularConfidence(angle),
			Reasoning:  fmt.Sprintf("perpendicular: axis angle %.1f°, center distance %.1fmm", angle, centerDist),
		}, true
	}

	if angle < t.ParallelAngleDeg && inOpenBand(axisDist, ParallelMinAxisDist, ParallelMaxAxisDist) {
		return Observation{
			Kind: Parallel,
			Params: map[string]float64{
				"axis_distance": round(axisDist, 2),
				"angle":         round(angle, 2),
			},
			Confidence: round(clamp01(1-angle/t.ParallelAngleDeg), 2),
			Reasoning:  fmt.Sprintf("parallel: axis spacing %.1fmm", axisDist),
		}, true
	}

	return Observation{}, false
}

func classifyPlanes(a, b feature.Plane, t Thresholds) (Observation, bool) {
	angle := axisAngle(a.Normal, b.Normal)
	pointDist := planeDistance(a.Point, a.Normal, b.Point, b.Normal)

	if angle < t.ConcentricAngleDeg && pointDist < t.CoincidentDist {
		return Observation{
			Kind: Coincident,
			Params: map[string]float64{
				"angle":    round(angle, 2),
				"distance": round(pointDist, 3),
			},
			Confidence: round(clamp01(1-pointDist/t.CoincidentDist), 2),
			Reasoning:  fmt.Sprintf("coincident: normal angle %.1f°, gap %.2fmm", angle, pointDist),
		}, true
	}

	if inOpenBand(angle, t.PerpendicularAngleMin, t.PerpendicularAngleMax) {
		return Observation{
			Kind:       Perpendicular,
			Params:     map[string]float64{"angle": round(angle, 2)},
			Confidence: perpendicularConfidence(angle),
			Reasoning:  fmt.Sprintf("perpendicular: normal angle %.1f°", angle),
		}, true
	}

	return Observation{}, false
}

// classifyThread is order-free: the caller always passes the cone first.
func classifyThread(cone feature.Cone, cyl feature.Cylinder) (Observation, bool) {
	if !inOpenBand(cone.SemiAngleDeg, ThreadSemiAngleMin, ThreadSemiAngleMax) {
		return Observation{}, false
	}
	angle := axisAngle(cone.Axis, cyl.Axis)
	if angle >= ScrewAxisAngleMax {
		return Observation{}, false
	}
	thread := cone.SemiAngleDeg * 2
	return Observation{
		Kind: Screw,
		Params: map[string]float64{
			"thread_angle": round(thread, 1),
			"axis_angle":   round(angle, 2),
		},
		Confidence: ScrewConfidence,
		Reasoning:  fmt.Sprintf("screw: thread angle %.1f°", thread),
	}, true
}

func classifySpheres(a, b feature.Sphere) (Observation, bool) {
	d := distance(a.Center, b.Center)
	if d >= TangentSlack*(a.Radius+b.Radius) {
		return Observation{}, false
	}
	return Observation{
		Kind: Tangent,
		Params: map[string]float64{
			"distance": round(d, 2),
			"radius_a": a.Radius,
			"radius_b": b.Radius,
		},
		Confidence: TangentConfidence,
		Reasoning:  fmt.Sprintf("tangent: center distance %.1fmm", d),
	}, true
}

func concentricConfidence(axisDist, angle float64, t Thresholds) float64 {
	distScore := clamp01(1 - axisDist/t.ConcentricAxisDist)
	angleScore := clamp01(1 - angle/t.ConcentricAngleDeg)
	return round((distScore+angleScore)/2, 2)
}

func perpendicularConfidence(angle float64) float64 {
	return round(clamp01(1-math.Abs(angle-90)/2), 2)
}

func inOpenBand(x, lo, hi float64) bool {
	return lo < x && x < hi
}
