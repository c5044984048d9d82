package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/chazu/matelearn/pkg/config"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/metrics"
	"github.com/chazu/matelearn/pkg/rules"
	"github.com/chazu/matelearn/pkg/store"
)

var zAxis = v3.Vec{Z: 1}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func bore(id string, x, r float64) feature.Entry {
	return feature.Entry{ID: id, Feature: feature.Cylinder{Axis: zAxis, Center: v3.Vec{X: x}, Radius: r}}
}

// seatedShafts builds a housing with n bores, each holding a shaft offset
// by 0.1mm. Bores sit 500mm apart, beyond parallel range.
func seatedShafts(t *testing.T, n int) []feature.Part {
	t.Helper()
	var bores []feature.Entry
	parts := []feature.Part{}
	for i := 0; i < n; i++ {
		x := float64(i) * 500
		bores = append(bores, bore("b"+string(rune('0'+i)), x, 10))
		shaft, err := feature.NewPart("shaft"+string(rune('0'+i)), bore("j", x+0.1, 9.9))
		require.NoError(t, err)
		parts = append(parts, shaft)
	}
	housing, err := feature.NewPart("housing", bores...)
	require.NoError(t, err)
	return append([]feature.Part{housing}, parts...)
}

type fixture struct {
	p        *Pipeline
	recorder *tracetest.SpanRecorder
	metrics  *metrics.Metrics
	cfg      config.Config
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Learning.Workers = 2
	cfg.Store.Path = filepath.Join(t.TempDir(), "rules.json")
	if mutate != nil {
		mutate(&cfg)
	}

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	m := metrics.New(nil)
	p, err := New(cfg, append([]Option{
		WithTracerProvider(tp),
		WithMetrics(m),
		WithLearnerOptions(rules.WithClock(fixedClock), rules.WithRunID("run-1")),
	}, opts...)...)
	require.NoError(t, err)
	return fixture{p: p, recorder: recorder, metrics: m, cfg: cfg}
}

func spanNamed(t *testing.T, r *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range r.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no span named %s", name)
	return nil
}

func intAttr(s sdktrace.ReadOnlySpan, key string) (int64, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == attribute.Key(key) {
			return kv.Value.AsInt64(), true
		}
	}
	return 0, false
}

func TestLearnTraced(t *testing.T) {
	f := newFixture(t, nil)
	lib, err := f.p.Learn(context.Background(), seatedShafts(t, 3), nil)
	require.NoError(t, err)

	require.Equal(t, 1, lib.Len())
	assert.Equal(t, "run-1", lib.RunID)
	rule := lib.Rules[0]
	assert.Equal(t, mate.Concentric, rule.Kind)
	assert.Equal(t, 3, rule.SampleCount)

	learn := spanNamed(t, f.recorder, "matelearn.learn")
	assert.Equal(t, codes.Ok, learn.Status().Code)
	parts, _ := intAttr(learn, "matelearn.parts")
	assert.EqualValues(t, 4, parts)
	n, _ := intAttr(learn, "matelearn.rules")
	assert.EqualValues(t, 1, n)

	classify := spanNamed(t, f.recorder, "matelearn.classify")
	assert.Equal(t, learn.SpanContext().SpanID(), classify.Parent().SpanID(), "classify nests under learn")
	obs, _ := intAttr(classify, "matelearn.observations")
	assert.EqualValues(t, 3, obs)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RulesLearned))
}

func TestProposeTraced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lib, err := f.p.Learn(ctx, seatedShafts(t, 3), nil)
	require.NoError(t, err)

	props, err := f.p.Propose(ctx, seatedShafts(t, 1), lib)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.True(t, props[0].Blended)
	assert.Equal(t, lib.Rules[0].ID, props[0].RuleID)

	span := spanNamed(t, f.recorder, "matelearn.propose")
	n, _ := intAttr(span, "matelearn.proposals")
	assert.EqualValues(t, 1, n)
}

func TestFailedPassRecordsError(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.p.Learn(ctx, seatedShafts(t, 1), nil)
	require.ErrorIs(t, err, context.Canceled)

	span := spanNamed(t, f.recorder, "matelearn.learn")
	assert.Equal(t, codes.Error, span.Status().Code)
	require.NotEmpty(t, span.Events(), "error event recorded")
}

func TestPersistAndReload(t *testing.T) {
	db, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := newFixture(t, nil, WithBadger(db))
	ctx := context.Background()

	empty, err := f.p.LoadLibrary()
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	lib, err := f.p.Learn(ctx, seatedShafts(t, 3), empty)
	require.NoError(t, err)

	v, err := f.p.Persist(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = f.p.Persist(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	loaded, err := f.p.LoadLibrary()
	require.NoError(t, err)
	sameLibrary(t, lib, loaded)

	latest, version, err := db.Latest(f.cfg.Store.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	sameLibrary(t, lib, latest)
}

func sameLibrary(t *testing.T, want, got *rules.Library) {
	t.Helper()
	require.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Digests, got.Digests)
	assert.Equal(t, want.Rules[0].ID, got.Rules[0].ID)
	assert.Equal(t, want.Rules[0].Params, got.Rules[0].Params)
}

func TestPrefilterConfig(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Learning.Prefilter = true })
	set, err := f.p.Classify(context.Background(), seatedShafts(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Learning.RuleWeight = 2
	_, err := New(cfg)
	assert.ErrorIs(t, err, mate.ErrConfiguration)
}
