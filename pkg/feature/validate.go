package feature

import (
	"errors"
	"fmt"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// UnitTolerance is the allowed deviation of a direction vector's length from 1.
const UnitTolerance = 1e-6

// ErrInvalidFeature is matched by every *InvalidFeatureError.
var ErrInvalidFeature = errors.New("invalid feature")

// InvalidFeatureError reports a feature that violates a catalog invariant.
type InvalidFeatureError struct {
	PartID    string
	FeatureID string
	Reason    string
}

func (e *InvalidFeatureError) Error() string {
	if e.PartID == "" && e.FeatureID == "" {
		return "invalid feature: " + e.Reason
	}
	if e.FeatureID == "" {
		return fmt.Sprintf("invalid feature in part %q: %s", e.PartID, e.Reason)
	}
	return fmt.Sprintf("invalid feature %q in part %q: %s", e.FeatureID, e.PartID, e.Reason)
}

func (e *InvalidFeatureError) Is(target error) bool { return target == ErrInvalidFeature }

// Validate checks a single feature outside of any catalog. The returned
// error, if any, is an *InvalidFeatureError with no part or feature id.
func Validate(f Feature) error {
	if reason, ok := check(f); !ok {
		return &InvalidFeatureError{Reason: reason}
	}
	return nil
}

func check(f Feature) (string, bool) {
	switch f := f.(type) {
	case Plane:
		if r, ok := checkUnit("normal", f.Normal); !ok {
			return r, false
		}
		return checkFinite("point", f.Point)
	case Cylinder:
		if r, ok := checkUnit("axis", f.Axis); !ok {
			return r, false
		}
		if r, ok := checkFinite("center", f.Center); !ok {
			return r, false
		}
		return checkRadius("radius", f.Radius)
	case Cone:
		if r, ok := checkUnit("axis", f.Axis); !ok {
			return r, false
		}
		if r, ok := checkFinite("apex", f.Apex); !ok {
			return r, false
		}
		if math.IsNaN(f.SemiAngleDeg) || f.SemiAngleDeg < 0 || f.SemiAngleDeg >= 90 {
			return fmt.Sprintf("semi angle %v outside [0, 90)", f.SemiAngleDeg), false
		}
		return "", true
	case Sphere:
		if r, ok := checkFinite("center", f.Center); !ok {
			return r, false
		}
		return checkRadius("radius", f.Radius)
	case Torus:
		if r, ok := checkUnit("axis", f.Axis); !ok {
			return r, false
		}
		if r, ok := checkFinite("center", f.Center); !ok {
			return r, false
		}
		if r, ok := checkRadius("major radius", f.MajorRadius); !ok {
			return r, false
		}
		return checkRadius("minor radius", f.MinorRadius)
	case nil:
		return "missing geometry", false
	default:
		return fmt.Sprintf("unsupported feature %T", f), false
	}
}

func checkFinite(name string, v v3.Vec) (string, bool) {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Sprintf("%s has non-finite component", name), false
		}
	}
	return "", true
}

func checkUnit(name string, v v3.Vec) (string, bool) {
	if r, ok := checkFinite(name, v); !ok {
		return r, false
	}
	if l := v.Length(); math.Abs(l-1) > UnitTolerance {
		return fmt.Sprintf("%s is not unit length (|v|=%g)", name, l), false
	}
	return "", true
}

func checkRadius(name string, x float64) (string, bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return fmt.Sprintf("%s must be finite and non-negative, got %v", name, x), false
	}
	return "", true
}
