package rules

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
)

// FormatVersion is the library layout version written by this package.
const FormatVersion = 1

// MaxExamples bounds the observations retained on each rule.
const MaxExamples = 3

// Key identifies the group of observations a rule generalizes.
type Key struct {
	Kind mate.Kind
	Pair [2]feature.Kind
}

// KeyOf returns the rule key of an observation.
func KeyOf(o mate.Observation) Key {
	return Key{Kind: o.Kind, Pair: o.FeaturePair}
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Pair[0], b.Pair[0]); c != 0 {
		return c
	}
	return cmp.Compare(a.Pair[1], b.Pair[1])
}

// ParamStats summarizes one numeric parameter across a rule's samples.
type ParamStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// LearnedRule is the statistical summary of every observation sharing a Key.
type LearnedRule struct {
	ID          string                `json:"id"`
	Kind        mate.Kind             `json:"kind"`
	FeaturePair [2]feature.Kind       `json:"feature_pair"`
	SampleCount int                   `json:"sample_count"`
	Params      map[string]ParamStats `json:"params"`
	Confidence  float64               `json:"confidence"`
	Examples    []mate.Observation    `json:"examples"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Key returns the rule's key.
func (r LearnedRule) Key() Key {
	return Key{Kind: r.Kind, Pair: r.FeaturePair}
}

// Clone returns a deep copy.
func (r LearnedRule) Clone() LearnedRule {
	r.Params = maps.Clone(r.Params)
	r.Examples = lo.Map(r.Examples, func(o mate.Observation, _ int) mate.Observation { return o.Clone() })
	return r
}

// Stats summarizes every observation a library has absorbed.
type Stats struct {
	TotalObservations int            `json:"total_observations"`
	KindCounts        map[string]int `json:"kind_counts"`
}

// Library is a published set of learned rules together with the
// thresholds that produced them. A library handed to a Proposer is treated
// as immutable; the Learner always returns a fresh copy.
type Library struct {
	Version    int             `json:"version"`
	RunID      string          `json:"run_id"`
	Thresholds mate.Thresholds `json:"thresholds"`
	Rules      []LearnedRule   `json:"rules"`
	Stats      Stats           `json:"statistics"`
	Notes      []string        `json:"notes,omitempty"`
	Digests    []string        `json:"digests,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewLibrary returns an empty library bound to t.
func NewLibrary(t mate.Thresholds) *Library {
	return &Library{
		Version:    FormatVersion,
		Thresholds: t,
		Rules:      []LearnedRule{},
		Stats:      Stats{KindCounts: map[string]int{}},
	}
}

// Len is the number of rules. A nil library has none.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Rules)
}

// Empty reports whether the library has no rules.
func (l *Library) Empty() bool { return l.Len() == 0 }

// Lookup finds the rule for an exact key.
func (l *Library) Lookup(k Key) (LearnedRule, bool) {
	if l == nil {
		return LearnedRule{}, false
	}
	return lo.Find(l.Rules, func(r LearnedRule) bool { return r.Key() == k })
}

// LookupKind returns the best-supported rule of a kind regardless of
// feature pair: the one with the most samples, ties broken by id.
func (l *Library) LookupKind(kind mate.Kind) (LearnedRule, bool) {
	if l == nil {
		return LearnedRule{}, false
	}
	candidates := lo.Filter(l.Rules, func(r LearnedRule, _ int) bool { return r.Kind == kind })
	if len(candidates) == 0 {
		return LearnedRule{}, false
	}
	best := slices.MinFunc(candidates, func(a, b LearnedRule) int {
		if c := cmp.Compare(b.SampleCount, a.SampleCount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return best, true
}

// RulesOfKind counts the rules of one kind.
func (l *Library) RulesOfKind(kind mate.Kind) int {
	if l == nil {
		return 0
	}
	return lo.CountBy(l.Rules, func(r LearnedRule) bool { return r.Kind == kind })
}

// Clone returns a deep copy that shares no mutable state with l.
func (l *Library) Clone() *Library {
	if l == nil {
		return nil
	}
	c := *l
	c.Rules = lo.Map(l.Rules, func(r LearnedRule, _ int) LearnedRule { return r.Clone() })
	c.Stats.KindCounts = maps.Clone(l.Stats.KindCounts)
	if c.Stats.KindCounts == nil {
		c.Stats.KindCounts = map[string]int{}
	}
	c.Notes = slices.Clone(l.Notes)
	c.Digests = slices.Clone(l.Digests)
	return &c
}

// put inserts or replaces the rule with r's key, keeping rules sorted by id.
func (l *Library) put(r LearnedRule) {
	if i := slices.IndexFunc(l.Rules, func(x LearnedRule) bool { return x.Key() == r.Key() }); i >= 0 {
		l.Rules[i] = r
	} else {
		l.Rules = append(l.Rules, r)
	}
	slices.SortFunc(l.Rules, func(a, b LearnedRule) int { return cmp.Compare(a.ID, b.ID) })
}
