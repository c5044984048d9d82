package feature

import (
	"fmt"
	"io"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/ugorji/go/codec"
)

// CatalogDoc is the wire form of an assembly sample as produced by the
// geometry extraction step.
type CatalogDoc struct {
	Parts []PartDoc `json:"parts"`
}

// PartDoc is the wire form of one part's catalog.
type PartDoc struct {
	PartID   string       `json:"part_id"`
	Features []FeatureDoc `json:"features"`
}

// FeatureDoc is the loosely typed wire form of a feature. Type selects
// which of the remaining fields are meaningful.
type FeatureDoc struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Normal       []float64 `json:"normal,omitempty"`
	Point        []float64 `json:"point,omitempty"`
	Axis         []float64 `json:"axis,omitempty"`
	Center       []float64 `json:"center,omitempty"`
	Apex         []float64 `json:"apex,omitempty"`
	Radius       float64   `json:"radius,omitempty"`
	SemiAngleDeg float64   `json:"semi_angle_deg,omitempty"`
	MajorRadius  float64   `json:"major_radius,omitempty"`
	MinorRadius  float64   `json:"minor_radius,omitempty"`
}

var catalogHandle = func() *codec.JsonHandle {
	h := &codec.JsonHandle{}
	h.Indent = 2
	h.Canonical = true
	return h
}()

// DecodeCatalog reads a JSON catalog and returns validated parts.
func DecodeCatalog(r io.Reader) ([]Part, error) {
	var doc CatalogDoc
	if err := codec.NewDecoder(r, catalogHandle).Decode(&doc); err != nil {
		return nil, fmt.Errorf("feature: decode catalog: %w", err)
	}
	return doc.ToParts()
}

// EncodeCatalog writes parts in the JSON catalog form.
func EncodeCatalog(w io.Writer, parts []Part) error {
	doc := NewCatalogDoc(parts)
	if err := codec.NewEncoder(w, catalogHandle).Encode(&doc); err != nil {
		return fmt.Errorf("feature: encode catalog: %w", err)
	}
	return nil
}

// NewCatalogDoc converts parts to their wire form.
func NewCatalogDoc(parts []Part) CatalogDoc {
	doc := CatalogDoc{Parts: make([]PartDoc, 0, len(parts))}
	for _, p := range parts {
		pd := PartDoc{PartID: p.ID, Features: make([]FeatureDoc, 0, len(p.Features))}
		for _, e := range p.Features {
			pd.Features = append(pd.Features, toDoc(e))
		}
		doc.Parts = append(doc.Parts, pd)
	}
	return doc
}

// ToParts converts the wire form back into validated parts. The feature type
// string is resolved to a concrete variant here and nowhere else.
func (d CatalogDoc) ToParts() ([]Part, error) {
	parts := make([]Part, 0, len(d.Parts))
	for _, pd := range d.Parts {
		p := Part{ID: pd.PartID, Features: make([]Entry, 0, len(pd.Features))}
		for _, fd := range pd.Features {
			f, err := fromDoc(fd)
			if err != nil {
				return nil, &InvalidFeatureError{PartID: pd.PartID, FeatureID: fd.ID, Reason: err.Error()}
			}
			p.Features = append(p.Features, Entry{ID: fd.ID, Feature: f})
		}
		parts = append(parts, p)
	}
	if err := ValidateParts(parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func toDoc(e Entry) FeatureDoc {
	fd := FeatureDoc{ID: e.ID}
	switch f := e.Feature.(type) {
	case Plane:
		fd.Type = KindPlane.String()
		fd.Normal, fd.Point = vecSlice(f.Normal), vecSlice(f.Point)
	case Cylinder:
		fd.Type = KindCylinder.String()
		fd.Axis, fd.Center, fd.Radius = vecSlice(f.Axis), vecSlice(f.Center), f.Radius
	case Cone:
		fd.Type = KindCone.String()
		fd.Axis, fd.Apex, fd.SemiAngleDeg = vecSlice(f.Axis), vecSlice(f.Apex), f.SemiAngleDeg
	case Sphere:
		fd.Type = KindSphere.String()
		fd.Center, fd.Radius = vecSlice(f.Center), f.Radius
	case Torus:
		fd.Type = KindTorus.String()
		fd.Axis, fd.Center = vecSlice(f.Axis), vecSlice(f.Center)
		fd.MajorRadius, fd.MinorRadius = f.MajorRadius, f.MinorRadius
	}
	return fd
}

func fromDoc(fd FeatureDoc) (Feature, error) {
	kind, err := ParseKind(fd.Type)
	if err != nil {
		return nil, err
	}
	var vecErr error
	vec := func(name string, s []float64) v3.Vec {
		if vecErr != nil {
			return v3.Vec{}
		}
		if len(s) != 3 {
			vecErr = fmt.Errorf("%s must have 3 components, got %d", name, len(s))
			return v3.Vec{}
		}
		return v3.Vec{X: s[0], Y: s[1], Z: s[2]}
	}
	var f Feature
	switch kind {
	case KindPlane:
		f = Plane{Normal: vec("normal", fd.Normal), Point: vec("point", fd.Point)}
	case KindCylinder:
		f = Cylinder{Axis: vec("axis", fd.Axis), Center: vec("center", fd.Center), Radius: fd.Radius}
	case KindCone:
		f = Cone{Axis: vec("axis", fd.Axis), Apex: vec("apex", fd.Apex), SemiAngleDeg: fd.SemiAngleDeg}
	case KindSphere:
		f = Sphere{Center: vec("center", fd.Center), Radius: fd.Radius}
	case KindTorus:
		f = Torus{
			Axis:        vec("axis", fd.Axis),
			Center:      vec("center", fd.Center),
			MajorRadius: fd.MajorRadius,
			MinorRadius: fd.MinorRadius,
		}
	}
	if vecErr != nil {
		return nil, vecErr
	}
	return f, nil
}

func vecSlice(v v3.Vec) []float64 { return []float64{v.X, v.Y, v.Z} }
