package feature

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Entry is one identified feature within a part.
type Entry struct {
	ID      string
	Feature Feature
}

// Part is a named rigid body and its feature catalog.
type Part struct {
	ID       string
	Features []Entry
}

// NewPart builds a part and validates it.
func NewPart(id string, entries ...Entry) (Part, error) {
	p := Part{ID: id, Features: entries}
	if err := p.Validate(); err != nil {
		return Part{}, err
	}
	return p, nil
}

// Validate checks that the part has an id, that feature ids are unique and
// non-empty, and that every feature is geometrically well formed.
func (p Part) Validate() error {
	if p.ID == "" {
		return &InvalidFeatureError{Reason: "part id is empty"}
	}
	seen := make(map[string]struct{}, len(p.Features))
	for _, e := range p.Features {
		if e.ID == "" {
			return &InvalidFeatureError{PartID: p.ID, Reason: "feature id is empty"}
		}
		if _, dup := seen[e.ID]; dup {
			return &InvalidFeatureError{PartID: p.ID, FeatureID: e.ID, Reason: "duplicate feature id"}
		}
		seen[e.ID] = struct{}{}
		if reason, ok := check(e.Feature); !ok {
			return &InvalidFeatureError{PartID: p.ID, FeatureID: e.ID, Reason: reason}
		}
	}
	return nil
}

// Feature looks up an entry by id.
func (p Part) Feature(id string) (Entry, bool) {
	for _, e := range p.Features {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Bounds returns the axis-aligned box around every feature's anchor point
// and radial extent, grown by margin on every side. A part with no features
// yields a zero box at the origin grown by margin.
func (p Part) Bounds(margin float64) sdf.Box3 {
	if len(p.Features) == 0 {
		m := v3.Vec{X: margin, Y: margin, Z: margin}
		return sdf.Box3{Min: v3.Vec{}.Sub(m), Max: m}
	}
	lo := v3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := v3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, e := range p.Features {
		c := Anchor(e.Feature)
		r := extent(e.Feature) + margin
		pad := v3.Vec{X: r, Y: r, Z: r}
		lo = lo.Min(c.Sub(pad))
		hi = hi.Max(c.Add(pad))
	}
	return sdf.Box3{Min: lo, Max: hi}
}

// extent is the radial size of a feature around its anchor. Planes and
// cones are unbounded and contribute only their anchor point.
func extent(f Feature) float64 {
	switch f := f.(type) {
	case Cylinder:
		return f.Radius
	case Sphere:
		return f.Radius
	case Torus:
		return f.MajorRadius + f.MinorRadius
	default:
		return 0
	}
}

// ValidateParts validates every part and rejects duplicate part ids.
func ValidateParts(parts []Part) error {
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return &InvalidFeatureError{PartID: p.ID, Reason: fmt.Sprintf("duplicate part id %q", p.ID)}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
