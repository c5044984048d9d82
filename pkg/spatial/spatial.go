// Package spatial provides a bounding-volume pre-filter that keeps the
// aggregator from classifying parts that are nowhere near each other.
package spatial

import (
	"fmt"
	"math"
	"slices"

	"github.com/deadsy/sdfx/sdf"
	"github.com/dhconnelly/rtreego"

	"github.com/chazu/matelearn/pkg/aggregate"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
)

// DefaultMargin is the per-axis gap (mm) under which two parts are
// considered close enough to mate.
const DefaultMargin = 10.0

// RTreeFilter proposes part pairs whose feature bounds come within Margin
// of each other on every axis. Parts are indexed in an R-tree, so the cost
// is roughly O(P log P) instead of O(P²).
type RTreeFilter struct {
	margin float64
}

var _ aggregate.PairFilter = (*RTreeFilter)(nil)

// NewRTreeFilter returns a filter with the given margin, which must be
// positive and finite.
func NewRTreeFilter(margin float64) (*RTreeFilter, error) {
	if math.IsNaN(margin) || math.IsInf(margin, 0) || margin <= 0 {
		return nil, &mate.ConfigurationError{
			Field:  "prefilter_margin",
			Reason: fmt.Sprintf("must be positive and finite, got %v", margin),
		}
	}
	return &RTreeFilter{margin: margin}, nil
}

// Margin returns the configured gap.
func (f *RTreeFilter) Margin() float64 { return f.margin }

type partBox struct {
	index int
	rect  rtreego.Rect
}

func (b *partBox) Bounds() rtreego.Rect { return b.rect }

// Candidates returns the pairs (i<j) of parts whose padded bounds overlap,
// sorted by index.
func (f *RTreeFilter) Candidates(parts []feature.Part) []aggregate.Pair {
	boxes := make([]rtreego.Spatial, 0, len(parts))
	for i, p := range parts {
		// Each box grows by half the margin so that two boxes overlap exactly
		// when their unpadded gap is below the margin.
		rect, err := toRect(p.Bounds(f.margin / 2))
		if err != nil {
			return aggregate.AllPairs{}.Candidates(parts)
		}
		boxes = append(boxes, &partBox{index: i, rect: rect})
	}
	tree := rtreego.NewTree(3, 2, 8, boxes...)

	var pairs []aggregate.Pair
	for _, obj := range boxes {
		b := obj.(*partBox)
		for _, hit := range tree.SearchIntersect(b.rect) {
			h := hit.(*partBox)
			if h.index > b.index {
				pairs = append(pairs, aggregate.Pair{A: b.index, B: h.index})
			}
		}
	}
	slices.SortFunc(pairs, func(x, y aggregate.Pair) int {
		if x.A != y.A {
			return x.A - y.A
		}
		return x.B - y.B
	})
	return pairs
}

func toRect(b sdf.Box3) (rtreego.Rect, error) {
	return rtreego.NewRectFromPoints(
		rtreego.Point{b.Min.X, b.Min.Y, b.Min.Z},
		rtreego.Point{b.Max.X, b.Max.Y, b.Max.Z},
	)
}
