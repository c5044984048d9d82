package aggregate

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
)

// ErrInvalidPair is returned when a PairFilter yields a pair outside
// 0 <= A < B < len(parts).
var ErrInvalidPair = errors.New("invalid part pair")

// Pair indexes two distinct parts of an assembly sample with A < B.
type Pair struct {
	A, B int
}

// PairFilter chooses which part pairs are worth classifying. Every returned
// pair must satisfy 0 <= A < B < len(parts).
type PairFilter interface {
	Candidates(parts []feature.Part) []Pair
}

// CheckedCandidates runs f and rejects any pair it returns that does not
// index two distinct parts in ascending order.
func CheckedCandidates(f PairFilter, parts []feature.Part) ([]Pair, error) {
	pairs := f.Candidates(parts)
	for _, p := range pairs {
		if p.A < 0 || p.A >= p.B || p.B >= len(parts) {
			return nil, fmt.Errorf("%w: (%d, %d) with %d parts", ErrInvalidPair, p.A, p.B, len(parts))
		}
	}
	return pairs, nil
}

// AllPairs yields every part pair i<j.
type AllPairs struct{}

func (AllPairs) Candidates(parts []feature.Part) []Pair {
	n := len(parts)
	pairs := make([]Pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, Pair{A: i, B: j})
		}
	}
	return pairs
}

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// FanOut runs fn for every item on at most workers goroutines. The first
// error cancels outstanding work; cancellation of ctx is reported as
// ctx.Err() even when every started task finished.
func FanOut[T any](ctx context.Context, workers int, items []T, fn func(T) error) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(it)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ClassifyParts classifies every feature of a against every feature of b
// and returns the present results along with the number of feature pairs
// examined.
func ClassifyParts(a, b feature.Part, t mate.Thresholds) ([]mate.Observation, int, error) {
	var out []mate.Observation
	for _, fa := range a.Features {
		sa := mate.Subject{PartID: a.ID, FeatureID: fa.ID, Feature: fa.Feature}
		for _, fb := range b.Features {
			sb := mate.Subject{PartID: b.ID, FeatureID: fb.ID, Feature: fb.Feature}
			obs, ok, err := mate.Classify(sa, sb, t)
			if err != nil {
				return nil, 0, err
			}
			if ok {
				out = append(out, obs)
			}
		}
	}
	return out, len(a.Features) * len(b.Features), nil
}

// ClassifyHoles relates cylinder features within one part.
func ClassifyHoles(p feature.Part, t mate.Thresholds) ([]mate.Observation, int, error) {
	var out []mate.Observation
	examined := 0
	for i := 0; i < len(p.Features); i++ {
		fa := p.Features[i]
		sa := mate.Subject{PartID: p.ID, FeatureID: fa.ID, Feature: fa.Feature}
		for j := i + 1; j < len(p.Features); j++ {
			fb := p.Features[j]
			sb := mate.Subject{PartID: p.ID, FeatureID: fb.ID, Feature: fb.Feature}
			examined++
			obs, ok, err := mate.ClassifyHoleSpacing(sa, sb, t)
			if err != nil {
				return nil, 0, err
			}
			if ok {
				out = append(out, obs)
			}
		}
	}
	return out, examined, nil
}
