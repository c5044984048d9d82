package rules

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/metrics"
)

// EmptyLibraryNote is recorded when a pass produces no rules at all.
const EmptyLibraryNote = "no constraint observations; library is empty"

// Learner reduces observations into a rule library.
type Learner struct {
	thresholds mate.Thresholds
	clock      func() time.Time
	runID      string
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// LearnerOption configures a Learner.
type LearnerOption func(*Learner)

// WithClock overrides the time source used for rule timestamps.
func WithClock(clock func() time.Time) LearnerOption {
	return func(l *Learner) { l.clock = clock }
}

// WithRunID fixes the run id stamped on produced libraries. By default each
// Learn call draws a random UUID.
func WithRunID(id string) LearnerOption {
	return func(l *Learner) { l.runID = id }
}

func WithLearnerLogger(log *slog.Logger) LearnerOption {
	return func(l *Learner) { l.log = log }
}

func WithLearnerMetrics(m *metrics.Metrics) LearnerOption {
	return func(l *Learner) { l.metrics = m }
}

// NewLearner validates t and returns a Learner.
func NewLearner(t mate.Thresholds, opts ...LearnerOption) (*Learner, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	l := &Learner{thresholds: t, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	l.log = logging.OrDiscard(l.log)
	return l, nil
}

// Learn folds obs into a copy of existing (or a new library when existing
// is nil) and returns it. existing is never modified.
//
// Observations are grouped by (kind, feature pair). A group becomes a rule
// once its combined sample count, including any rule it extends, reaches
// MinSamplesForRule. Re-learning an observation set that was already folded
// in returns an unchanged copy.
func (l *Learner) Learn(obs []mate.Observation, existing *Library) (*Library, error) {
	start := time.Now()
	if err := l.thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	for i, o := range obs {
		if err := checkObservation(o); err != nil {
			return nil, fmt.Errorf("rules: observation %d: %w", i, err)
		}
	}

	now := l.clock().UTC()
	lib := existing.Clone()
	if lib == nil {
		lib = NewLibrary(l.thresholds)
	}
	if lib.CreatedAt.IsZero() {
		lib.CreatedAt = now
	}
	if lib.UpdatedAt.IsZero() {
		lib.UpdatedAt = now
	}
	if lib.RunID == "" {
		lib.RunID = l.newRunID()
	}

	if len(obs) == 0 {
		if lib.Empty() && !slices.Contains(lib.Notes, EmptyLibraryNote) {
			lib.Notes = append(lib.Notes, EmptyLibraryNote)
		}
		l.log.Warn("learning pass had no observations", "rules", lib.Len())
		return lib, nil
	}

	digest := Digest(obs)
	if slices.Contains(lib.Digests, digest) {
		l.log.Info("observation set already learned", "digest", digest[:12])
		return lib, nil
	}

	lib.RunID = l.newRunID()
	lib.Thresholds = l.thresholds
	lib.Version = FormatVersion

	groups := lo.GroupBy(obs, KeyOf)
	keys := lo.Keys(groups)
	slices.SortFunc(keys, compareKeys)

	touched := 0
	for _, key := range keys {
		group := groups[key]
		prev, extends := lib.Lookup(key)
		combined := len(group) + prev.SampleCount
		if combined < l.thresholds.MinSamplesForRule {
			lib.Notes = append(lib.Notes, fmt.Sprintf("skipped %s: %d samples, need %d",
				RuleID(key), combined, l.thresholds.MinSamplesForRule))
			l.log.Debug("group below sample minimum", "rule", RuleID(key), "samples", combined)
			continue
		}
		if !extends && lib.RulesOfKind(key.Kind) >= l.thresholds.MaxRulesPerType {
			lib.Notes = append(lib.Notes, fmt.Sprintf("dropped %s: %s already has %d rules",
				RuleID(key), key.Kind, l.thresholds.MaxRulesPerType))
			l.log.Debug("rule cap reached", "kind", key.Kind.String())
			continue
		}

		rule := buildRule(key, group, now)
		if extends {
			rule = extendRule(prev, rule)
		}
		lib.put(rule)
		touched++
	}

	if lib.Stats.KindCounts == nil {
		lib.Stats.KindCounts = map[string]int{}
	}
	lib.Stats.TotalObservations += len(obs)
	for key, group := range groups {
		lib.Stats.KindCounts[key.Kind.String()] += len(group)
	}
	lib.Digests = append(lib.Digests, digest)
	slices.Sort(lib.Digests)
	lib.UpdatedAt = now
	if lib.Empty() {
		if !slices.Contains(lib.Notes, EmptyLibraryNote) {
			lib.Notes = append(lib.Notes, EmptyLibraryNote)
		}
	} else {
		lib.Notes = slices.DeleteFunc(lib.Notes, func(n string) bool { return n == EmptyLibraryNote })
	}

	l.metrics.AddRules(touched)
	l.metrics.ObservePass("learn", start)
	l.log.Info("learning pass complete",
		"observations", len(obs),
		"groups", len(groups),
		"rules_touched", touched,
		"rules", lib.Len(),
		"run_id", lib.RunID)
	return lib, nil
}

func (l *Learner) newRunID() string {
	if l.runID != "" {
		return l.runID
	}
	return uuid.NewString()
}

func checkObservation(o mate.Observation) error {
	if !o.Kind.Valid() {
		return fmt.Errorf("invalid constraint kind %d", int(o.Kind))
	}
	if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", o.Confidence)
	}
	return nil
}

// buildRule summarizes one group. The group is canonically ordered first so
// the retained examples do not depend on input order.
func buildRule(key Key, group []mate.Observation, now time.Time) LearnedRule {
	sorted := slices.Clone(group)
	slices.SortFunc(sorted, mate.Compare)

	names := lo.Uniq(lo.FlatMap(sorted, func(o mate.Observation, _ int) []string { return lo.Keys(o.Params) }))
	slices.Sort(names)
	params := make(map[string]ParamStats, len(names))
	for _, name := range names {
		var values []float64
		for _, o := range sorted {
			if v, ok := o.Params[name]; ok {
				values = append(values, v)
			}
		}
		params[name] = summarize(values)
	}

	confidences := lo.Map(sorted, func(o mate.Observation, _ int) float64 { return o.Confidence })
	examples := lo.Map(sorted[:min(MaxExamples, len(sorted))], func(o mate.Observation, _ int) mate.Observation {
		return o.Clone()
	})

	return LearnedRule{
		ID:          RuleID(key),
		Kind:        key.Kind,
		FeaturePair: key.Pair,
		SampleCount: len(sorted),
		Params:      params,
		Confidence:  mean(confidences),
		Examples:    examples,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// extendRule merges fresh statistics into an existing rule, keeping its
// creation time.
func extendRule(prev, fresh LearnedRule) LearnedRule {
	out := fresh
	out.CreatedAt = prev.CreatedAt
	out.SampleCount = prev.SampleCount + fresh.SampleCount

	out.Params = make(map[string]ParamStats, len(prev.Params)+len(fresh.Params))
	for name, s := range prev.Params {
		out.Params[name] = s
	}
	for name, s := range fresh.Params {
		out.Params[name] = combine(out.Params[name], s)
	}

	np, nf := float64(prev.SampleCount), float64(fresh.SampleCount)
	out.Confidence = (prev.Confidence*np + fresh.Confidence*nf) / (np + nf)

	examples := append(slices.Clone(prev.Examples), fresh.Examples...)
	slices.SortFunc(examples, mate.Compare)
	examples = slices.CompactFunc(examples, func(a, b mate.Observation) bool { return mate.Compare(a, b) == 0 })
	out.Examples = examples[:min(MaxExamples, len(examples))]
	return out
}
