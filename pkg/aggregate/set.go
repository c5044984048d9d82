package aggregate

import (
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/chazu/matelearn/pkg/mate"
)

// ObservationSet is an append-only multiset of observations grouped by
// constraint kind. It is safe for concurrent Add; every read returns the
// observations in canonical order so scheduling never shows in results.
type ObservationSet struct {
	mu     sync.Mutex
	byKind map[mate.Kind][]mate.Observation
	n      int
}

// NewObservationSet returns a set holding obs.
func NewObservationSet(obs ...mate.Observation) *ObservationSet {
	s := &ObservationSet{byKind: make(map[mate.Kind][]mate.Observation)}
	s.Add(obs...)
	return s
}

// Add appends observations.
func (s *ObservationSet) Add(obs ...mate.Observation) {
	if len(obs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKind == nil {
		s.byKind = make(map[mate.Kind][]mate.Observation)
	}
	for _, o := range obs {
		s.byKind[o.Kind] = append(s.byKind[o.Kind], o)
	}
	s.n += len(obs)
}

// Merge appends every observation of other.
func (s *ObservationSet) Merge(other *ObservationSet) {
	if other == nil || other == s {
		return
	}
	s.Add(other.All()...)
}

// Len is the total number of observations.
func (s *ObservationSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Kinds returns the kinds present, in declaration order.
func (s *ObservationSet) Kinds() []mate.Kind {
	s.mu.Lock()
	kinds := lo.Keys(s.byKind)
	s.mu.Unlock()
	slices.Sort(kinds)
	return kinds
}

// ByKind returns a canonically ordered copy of the observations of kind k.
func (s *ObservationSet) ByKind(k mate.Kind) []mate.Observation {
	s.mu.Lock()
	out := slices.Clone(s.byKind[k])
	s.mu.Unlock()
	slices.SortFunc(out, mate.Compare)
	return out
}

// All returns every observation, grouped by kind in declaration order and
// canonically ordered within each kind.
func (s *ObservationSet) All() []mate.Observation {
	out := make([]mate.Observation, 0, s.Len())
	for _, k := range s.Kinds() {
		out = append(out, s.ByKind(k)...)
	}
	return out
}

// Counts returns the number of observations per kind.
func (s *ObservationSet) Counts() map[mate.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.MapValues(s.byKind, func(obs []mate.Observation, _ mate.Kind) int { return len(obs) })
}
