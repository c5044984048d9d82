// Package aggregate enumerates part and feature pairs across an assembly
// sample, classifies them in parallel and collects the results into an
// ObservationSet.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/metrics"
)

// Aggregator runs the classifier over an assembly sample.
type Aggregator struct {
	thresholds mate.Thresholds
	workers    int
	filter     PairFilter
	holes      bool
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers sets the number of concurrent classification workers.
func WithWorkers(n int) Option {
	return func(a *Aggregator) { a.workers = n }
}

// WithPairFilter replaces the exhaustive part pair enumeration.
func WithPairFilter(f PairFilter) Option {
	return func(a *Aggregator) { a.filter = f }
}

// WithHolePatterns enables the intra-part hole spacing pass.
func WithHolePatterns(enabled bool) Option {
	return func(a *Aggregator) { a.holes = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New validates t and the options and returns an Aggregator.
func New(t mate.Thresholds, opts ...Option) (*Aggregator, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	a := &Aggregator{
		thresholds: t,
		workers:    DefaultWorkers(),
		filter:     AllPairs{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		return nil, fmt.Errorf("aggregate: %w", &mate.ConfigurationError{
			Field:  "workers",
			Reason: fmt.Sprintf("must be at least 1, got %d", a.workers),
		})
	}
	if a.filter == nil {
		a.filter = AllPairs{}
	}
	a.log = logging.OrDiscard(a.log)
	return a, nil
}

// task is one unit of aggregation work: a part pair, or a single part's
// hole pass.
type task struct {
	pair  Pair
	holes bool
}

// Thresholds returns the thresholds the aggregator classifies with.
func (a *Aggregator) Thresholds() mate.Thresholds { return a.thresholds }

// Aggregate classifies every candidate feature pair of parts. Parts are
// validated first; a malformed catalog aborts the pass before any
// classification. Cancelling ctx discards in-flight work and returns
// ctx.Err().
func (a *Aggregator) Aggregate(ctx context.Context, parts []feature.Part) (*ObservationSet, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := feature.ValidateParts(parts); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	pairs, err := CheckedCandidates(a.filter, parts)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	tasks := make([]task, 0, len(pairs)+len(parts))
	for _, p := range pairs {
		tasks = append(tasks, task{pair: p})
	}
	if a.holes {
		for i := range parts {
			tasks = append(tasks, task{pair: Pair{A: i, B: i}, holes: true})
		}
	}

	set := NewObservationSet()
	var examined atomic.Int64
	err = FanOut(ctx, a.workers, tasks, func(t task) error {
		var (
			obs []mate.Observation
			n   int
			err error
		)
		if t.holes {
			obs, n, err = ClassifyHoles(parts[t.pair.A], a.thresholds)
		} else {
			obs, n, err = ClassifyParts(parts[t.pair.A], parts[t.pair.B], a.thresholds)
		}
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		examined.Add(int64(n))
		set.Add(obs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.metrics.AddPairs(int(examined.Load()))
	for kind, n := range set.Counts() {
		a.metrics.AddObservations(kind.String(), n)
	}
	a.metrics.ObservePass("aggregate", start)
	a.log.Info("aggregation complete",
		"parts", len(parts),
		"part_pairs", len(pairs),
		"feature_pairs", examined.Load(),
		"observations", set.Len(),
		"duration", time.Since(start))
	return set, nil
}
