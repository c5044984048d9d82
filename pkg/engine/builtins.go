package engine

import (
	"fmt"
	"slices"
	"strings"

	v3 "github.com/deadsy/sdfx/vec/v3"
	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/matelearn/pkg/feature"
)

// catalog collects the parts declared during one evaluation.
type catalog struct {
	parts []feature.Part
}

func (c *catalog) has(id string) bool {
	for _, p := range c.parts {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Sexp wrappers for Go values passed between builtins
// ---------------------------------------------------------------------------

type sexpVec3 struct {
	vec v3.Vec
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// sexpFeature is a feature awaiting its part. id may be empty; the part
// builtin names anonymous features.
type sexpFeature struct {
	id string
	f  feature.Feature
}

func (s *sexpFeature) SexpString(ps *zygo.PrintState) string {
	if s.id == "" {
		return fmt.Sprintf("(%s)", s.f.Kind())
	}
	return fmt.Sprintf("(%s :id %q)", s.f.Kind(), s.id)
}
func (s *sexpFeature) Type() *zygo.RegisteredType { return nil }

type sexpPartRef struct {
	id string
}

func (p *sexpPartRef) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(part %q)", p.id)
}
func (p *sexpPartRef) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Argument parsing
// ---------------------------------------------------------------------------

func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs is a mixed positional and keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			continue
		}
		if i+1 < len(args) {
			result.kw[name] = args[i+1]
			i++
		} else {
			result.kw[name] = zygo.SexpNull
		}
	}
	return result
}

// unknown reports the first keyword not in allowed, in sorted order.
func (a kwArgs) unknown(allowed ...string) error {
	var extra []string
	for name := range a.kw {
		if !slices.Contains(allowed, name) {
			extra = append(extra, name)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return fmt.Errorf("unknown keyword :%s", slices.Min(extra))
}

func (a kwArgs) float(name string) (float64, error) {
	v, ok := a.kw[name]
	if !ok {
		return 0, fmt.Errorf(":%s is required", name)
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf(":%s: %w", name, err)
	}
	return f, nil
}

func (a kwArgs) vec(name string) (v3.Vec, error) {
	v, ok := a.kw[name]
	if !ok {
		return v3.Vec{}, fmt.Errorf(":%s is required", name)
	}
	vec, err := toVec3(v)
	if err != nil {
		return v3.Vec{}, fmt.Errorf(":%s: %w", name, err)
	}
	return vec, nil
}

func (a kwArgs) id() (string, error) {
	v, ok := a.kw["id"]
	if !ok {
		return "", nil
	}
	s, err := toString(v)
	if err != nil {
		return "", fmt.Errorf(":id: %w", err)
	}
	return s, nil
}

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

func toVec3(s zygo.Sexp) (v3.Vec, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return v3.Vec{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a list or array to a Go slice; nil is empty.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// collectFeatures flattens part body arguments: features directly, or
// lists and arrays of features.
func collectFeatures(args []zygo.Sexp) ([]*sexpFeature, error) {
	var out []*sexpFeature
	for i, arg := range args {
		switch v := arg.(type) {
		case *sexpFeature:
			out = append(out, v)
		case *zygo.SexpPair, *zygo.SexpArray, *zygo.SexpSentinel:
			items, err := sexpListToSlice(v)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			nested, err := collectFeatures(items)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("argument %d: expected feature, got %T (%s)", i+1, arg, arg.SexpString(nil))
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

type featureBuilder func(a kwArgs) (feature.Feature, error)

// featureBuiltins maps each feature builtin to its keywords and builder.
var featureBuiltins = []struct {
	name     string
	keywords []string
	build    featureBuilder
}{
	{
		// (plane :id "top" :normal (vec3 0 0 1) :point (vec3 0 0 20))
		name:     "plane",
		keywords: []string{"id", "normal", "point"},
		build: func(a kwArgs) (feature.Feature, error) {
			n, err := a.vec("normal")
			if err != nil {
				return nil, err
			}
			p, err := a.vec("point")
			if err != nil {
				return nil, err
			}
			return feature.Plane{Normal: n, Point: p}, nil
		},
	},
	{
		// (cylinder :id "bore" :axis (vec3 0 0 1) :center (vec3 0 0 0) :radius 10)
		name:     "cylinder",
		keywords: []string{"id", "axis", "center", "radius"},
		build: func(a kwArgs) (feature.Feature, error) {
			axis, err := a.vec("axis")
			if err != nil {
				return nil, err
			}
			c, err := a.vec("center")
			if err != nil {
				return nil, err
			}
			r, err := a.float("radius")
			if err != nil {
				return nil, err
			}
			return feature.Cylinder{Axis: axis, Center: c, Radius: r}, nil
		},
	},
	{
		// (cone :id "thread" :axis (vec3 0 0 1) :apex (vec3 0 0 30) :semi-angle 30)
		name:     "cone",
		keywords: []string{"id", "axis", "apex", "semi-angle"},
		build: func(a kwArgs) (feature.Feature, error) {
			axis, err := a.vec("axis")
			if err != nil {
				return nil, err
			}
			apex, err := a.vec("apex")
			if err != nil {
				return nil, err
			}
			semi, err := a.float("semi-angle")
			if err != nil {
				return nil, err
			}
			return feature.Cone{Axis: axis, Apex: apex, SemiAngleDeg: semi}, nil
		},
	},
	{
		// (sphere :id "ball" :center (vec3 0 0 0) :radius 6)
		name:     "sphere",
		keywords: []string{"id", "center", "radius"},
		build: func(a kwArgs) (feature.Feature, error) {
			c, err := a.vec("center")
			if err != nil {
				return nil, err
			}
			r, err := a.float("radius")
			if err != nil {
				return nil, err
			}
			return feature.Sphere{Center: c, Radius: r}, nil
		},
	},
	{
		// (torus :id "groove" :axis (vec3 0 0 1) :center (vec3 0 0 5) :major-radius 12 :minor-radius 1.5)
		name:     "torus",
		keywords: []string{"id", "axis", "center", "major-radius", "minor-radius"},
		build: func(a kwArgs) (feature.Feature, error) {
			axis, err := a.vec("axis")
			if err != nil {
				return nil, err
			}
			c, err := a.vec("center")
			if err != nil {
				return nil, err
			}
			major, err := a.float("major-radius")
			if err != nil {
				return nil, err
			}
			minor, err := a.float("minor-radius")
			if err != nil {
				return nil, err
			}
			return feature.Torus{Axis: axis, Center: c, MajorRadius: major, MinorRadius: minor}, nil
		},
	},
}

// registerBuiltins installs the catalog builtins into env. Declared parts
// are appended to cat. Source must go through preprocessSource first so
// keywords are recognizable.
func registerBuiltins(env *zygo.Zlisp, cat *catalog) {
	// (vec3 1 2 3)
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var xyz [3]float64
		for i, arg := range args {
			f, err := toFloat64(arg)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %c: %w", "xyz"[i], err)
			}
			xyz[i] = f
		}
		return &sexpVec3{vec: v3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}}, nil
	})

	for _, fb := range featureBuiltins {
		env.AddFunction(fb.name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			pa := parseArgs(args)
			if len(pa.positional) > 0 {
				return zygo.SexpNull, fmt.Errorf("%s: unexpected positional argument %s", fb.name, pa.positional[0].SexpString(nil))
			}
			if err := pa.unknown(fb.keywords...); err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fb.name, err)
			}
			id, err := pa.id()
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fb.name, err)
			}
			f, err := fb.build(pa)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fb.name, err)
			}
			return &sexpFeature{id: id, f: f}, nil
		})
	}

	// (part "name" feature...)
	env.AddFunction("part", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("part requires a name argument")
		}
		partID, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("part: name: %w", err)
		}
		if partID == "" {
			return zygo.SexpNull, fmt.Errorf("part: name is empty")
		}
		if cat.has(partID) {
			return zygo.SexpNull, fmt.Errorf("part: %q declared twice", partID)
		}
		feats, err := collectFeatures(args[1:])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("part %q: %w", partID, err)
		}

		// Anonymous features are numbered per kind within the part:
		// cylinder_1, cylinder_2, ...
		seen := make(map[feature.Kind]int)
		entries := make([]feature.Entry, 0, len(feats))
		for _, sf := range feats {
			id := sf.id
			if id == "" {
				seen[sf.f.Kind()]++
				id = fmt.Sprintf("%s_%d", sf.f.Kind(), seen[sf.f.Kind()])
			}
			entries = append(entries, feature.Entry{ID: id, Feature: sf.f})
		}
		cat.parts = append(cat.parts, feature.Part{ID: partID, Features: entries})
		return &sexpPartRef{id: partID}, nil
	})
}
