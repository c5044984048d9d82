// Package pipeline wires the aggregator, learner, proposer and store from a
// config.Config and wraps every pass in an OpenTelemetry span.
//
// No exporter is installed here; spans go to the global tracer provider
// unless WithTracerProvider overrides it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/matelearn/pkg/aggregate"
	"github.com/chazu/matelearn/pkg/config"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/metrics"
	"github.com/chazu/matelearn/pkg/rules"
	"github.com/chazu/matelearn/pkg/spatial"
	"github.com/chazu/matelearn/pkg/store"
)

const tracerName = "github.com/chazu/matelearn/pipeline"

// Pipeline runs the classify, learn and propose passes.
type Pipeline struct {
	cfg        config.Config
	log        *slog.Logger
	tracer     trace.Tracer
	aggregator *aggregate.Aggregator
	learner    *rules.Learner
	proposer   *rules.Proposer
	badger     *store.BadgerStore
}

type options struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	tp          trace.TracerProvider
	badger      *store.BadgerStore
	learnerOpts []rules.LearnerOption
}

// Option configures a Pipeline.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithBadger makes Persist also record each library as a new version.
// The caller keeps ownership of s.
func WithBadger(s *store.BadgerStore) Option {
	return func(o *options) { o.badger = s }
}

// WithLearnerOptions passes extra options to the learner, such as a fixed
// clock or run id.
func WithLearnerOptions(opts ...rules.LearnerOption) Option {
	return func(o *options) { o.learnerOpts = append(o.learnerOpts, opts...) }
}

// New validates cfg and builds every stage.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDiscard(o.log)
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}

	var filter aggregate.PairFilter = aggregate.AllPairs{}
	if cfg.Learning.Prefilter {
		f, err := spatial.NewRTreeFilter(cfg.Learning.PrefilterMargin)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		filter = f
	}
	workers := cfg.Learning.Workers
	if workers == 0 {
		workers = aggregate.DefaultWorkers()
	}

	agg, err := aggregate.New(cfg.Thresholds,
		aggregate.WithWorkers(workers),
		aggregate.WithPairFilter(filter),
		aggregate.WithHolePatterns(cfg.Learning.HolePatterns),
		aggregate.WithLogger(log),
		aggregate.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	learner, err := rules.NewLearner(cfg.Thresholds, append([]rules.LearnerOption{
		rules.WithLearnerLogger(log),
		rules.WithLearnerMetrics(o.metrics),
	}, o.learnerOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	proposer, err := rules.NewProposer(cfg.Thresholds,
		rules.WithRuleWeight(cfg.Learning.RuleWeight),
		rules.WithProposerFilter(filter),
		rules.WithProposerWorkers(workers),
		rules.WithProposerLogger(log),
		rules.WithProposerMetrics(o.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		log:        log,
		tracer:     o.tp.Tracer(tracerName),
		aggregator: agg,
		learner:    learner,
		proposer:   proposer,
		badger:     o.badger,
	}, nil
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Classify aggregates every constraint observation in parts.
func (p *Pipeline) Classify(ctx context.Context, parts []feature.Part) (*aggregate.ObservationSet, error) {
	ctx, span := p.tracer.Start(ctx, "matelearn.classify",
		trace.WithAttributes(attribute.Int("matelearn.parts", len(parts))))
	defer span.End()

	set, err := p.aggregator.Aggregate(ctx, parts)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("matelearn.observations", set.Len()))
	span.SetStatus(codes.Ok, "")
	return set, nil
}

// Learn classifies parts and folds the observations into existing, which
// may be nil.
func (p *Pipeline) Learn(ctx context.Context, parts []feature.Part, existing *rules.Library) (*rules.Library, error) {
	ctx, span := p.tracer.Start(ctx, "matelearn.learn",
		trace.WithAttributes(attribute.Int("matelearn.parts", len(parts))))
	defer span.End()

	set, err := p.Classify(ctx, parts)
	if err != nil {
		return nil, fail(span, err)
	}
	lib, err := p.LearnObservations(ctx, set, existing)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.Int("matelearn.observations", set.Len()),
		attribute.Int("matelearn.rules", lib.Len()),
	)
	span.SetStatus(codes.Ok, "")
	return lib, nil
}

// LearnObservations folds an already aggregated set into existing.
func (p *Pipeline) LearnObservations(ctx context.Context, set *aggregate.ObservationSet, existing *rules.Library) (*rules.Library, error) {
	_, span := p.tracer.Start(ctx, "matelearn.learn_observations",
		trace.WithAttributes(attribute.Int("matelearn.observations", set.Len())))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fail(span, err)
	}
	lib, err := p.learner.Learn(set.All(), existing)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("matelearn.rules", lib.Len()))
	span.SetStatus(codes.Ok, "")
	return lib, nil
}

// Propose ranks constraint proposals for parts against lib.
func (p *Pipeline) Propose(ctx context.Context, parts []feature.Part, lib *rules.Library) ([]rules.Proposal, error) {
	ctx, span := p.tracer.Start(ctx, "matelearn.propose",
		trace.WithAttributes(
			attribute.Int("matelearn.parts", len(parts)),
			attribute.Int("matelearn.rules", lib.Len()),
		))
	defer span.End()

	props, err := p.proposer.Propose(ctx, parts, lib)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("matelearn.proposals", len(props)))
	span.SetStatus(codes.Ok, "")
	return props, nil
}

// Persist writes lib to the configured library file and, when a Badger
// store is attached, appends it as a new version under the configured
// name. The returned version is 0 without a Badger store.
func (p *Pipeline) Persist(ctx context.Context, lib *rules.Library) (int, error) {
	_, span := p.tracer.Start(ctx, "matelearn.persist",
		trace.WithAttributes(
			attribute.String("matelearn.path", p.cfg.Store.Path),
			attribute.Int("matelearn.rules", lib.Len()),
		))
	defer span.End()

	start := time.Now()
	if err := store.SaveFile(p.cfg.Store.Path, lib); err != nil {
		return 0, fail(span, fmt.Errorf("pipeline: %w", err))
	}
	version := 0
	if p.badger != nil {
		v, err := p.badger.Put(p.cfg.Store.Name, lib)
		if err != nil {
			return 0, fail(span, fmt.Errorf("pipeline: %w", err))
		}
		version = v
		span.SetAttributes(attribute.Int("matelearn.version", v))
	}
	p.log.Info("library persisted",
		"path", p.cfg.Store.Path,
		"rules", lib.Len(),
		"version", version,
		"duration", time.Since(start))
	span.SetStatus(codes.Ok, "")
	return version, nil
}

// LoadLibrary reads the configured library file. A missing file yields
// an empty library.
func (p *Pipeline) LoadLibrary() (*rules.Library, error) {
	lib, err := store.LoadFile(p.cfg.Store.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Debug("no library file, starting empty", "path", p.cfg.Store.Path)
			return rules.NewLibrary(p.cfg.Thresholds), nil
		}
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return lib, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
