package feature

import (
	"fmt"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Kind enumerates the primitive surface types.
type Kind int

const (
	KindPlane Kind = iota
	KindCylinder
	KindCone
	KindSphere
	KindTorus
)

func (k Kind) String() string {
	switch k {
	case KindPlane:
		return "plane"
	case KindCylinder:
		return "cylinder"
	case KindCone:
		return "cone"
	case KindSphere:
		return "sphere"
	case KindTorus:
		return "torus"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "plane":
		return KindPlane, nil
	case "cylinder":
		return KindCylinder, nil
	case "cone":
		return KindCone, nil
	case "sphere":
		return KindSphere, nil
	case "torus":
		return KindTorus, nil
	}
	return 0, fmt.Errorf("unknown feature type %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k < KindPlane || k > KindTorus {
		return nil, fmt.Errorf("feature: cannot encode kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Feature is a primitive surface in the world frame. The set of
// implementations is closed; switch on the concrete type.
type Feature interface {
	Kind() Kind
	feature() // marker method restricting implementations to this package
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// Plane is an infinite plane through Point with unit Normal.
type Plane struct {
	Normal v3.Vec
	Point  v3.Vec
}

func (Plane) Kind() Kind { return KindPlane }
func (Plane) feature()   {}

// Cylinder is a cylindrical surface around a unit Axis through Center.
type Cylinder struct {
	Axis   v3.Vec
	Center v3.Vec
	Radius float64 // mm
}

func (Cylinder) Kind() Kind { return KindCylinder }
func (Cylinder) feature()   {}

// Cone is a conical surface with its tip at Apex, opening along Axis.
type Cone struct {
	Axis         v3.Vec
	Apex         v3.Vec
	SemiAngleDeg float64
}

func (Cone) Kind() Kind { return KindCone }
func (Cone) feature()   {}

// Sphere is a spherical surface.
type Sphere struct {
	Center v3.Vec
	Radius float64 // mm
}

func (Sphere) Kind() Kind { return KindSphere }
func (Sphere) feature()   {}

// Torus is a toroidal surface (fillets, O-ring grooves).
type Torus struct {
	Axis        v3.Vec
	Center      v3.Vec
	MajorRadius float64 // mm
	MinorRadius float64 // mm
}

func (Torus) Kind() Kind { return KindTorus }
func (Torus) feature()   {}

// Anchor returns the point that locates a feature in space: the plane's
// reference point, the cone's apex, or the center of the other primitives.
func Anchor(f Feature) v3.Vec {
	switch f := f.(type) {
	case Plane:
		return f.Point
	case Cylinder:
		return f.Center
	case Cone:
		return f.Apex
	case Sphere:
		return f.Center
	case Torus:
		return f.Center
	default:
		return v3.Vec{}
	}
}
