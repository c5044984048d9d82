package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chazu/matelearn/pkg/aggregate"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/metrics"
)

// DefaultRuleWeight is the share of a matching rule's confidence in the
// blended score.
const DefaultRuleWeight = 0.5

// Proposal is a constraint suggested for an unseen assembly.
type Proposal struct {
	Observation          mate.Observation `json:"observation"`
	ClassifierConfidence float64          `json:"classifier_confidence"`
	FinalConfidence      float64          `json:"final_confidence"`
	RuleID               string           `json:"rule_id,omitempty"`
	Blended              bool             `json:"blended"`
}

// Proposer ranks classifier output against a rule library.
type Proposer struct {
	thresholds mate.Thresholds
	weight     float64
	filter     aggregate.PairFilter
	workers    int
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// ProposerOption configures a Proposer.
type ProposerOption func(*Proposer)

// WithRuleWeight sets the rule's share w of the blend
// final = (1-w)*classifier + w*rule.
func WithRuleWeight(w float64) ProposerOption {
	return func(p *Proposer) { p.weight = w }
}

func WithProposerFilter(f aggregate.PairFilter) ProposerOption {
	return func(p *Proposer) { p.filter = f }
}

func WithProposerWorkers(n int) ProposerOption {
	return func(p *Proposer) { p.workers = n }
}

func WithProposerLogger(log *slog.Logger) ProposerOption {
	return func(p *Proposer) { p.log = log }
}

func WithProposerMetrics(m *metrics.Metrics) ProposerOption {
	return func(p *Proposer) { p.metrics = m }
}

// NewProposer validates t and the options.
func NewProposer(t mate.Thresholds, opts ...ProposerOption) (*Proposer, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	p := &Proposer{
		thresholds: t,
		weight:     DefaultRuleWeight,
		filter:     aggregate.AllPairs{},
		workers:    aggregate.DefaultWorkers(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := mate.ValidateWeight("rule_weight", p.weight); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if p.workers < 1 {
		return nil, fmt.Errorf("rules: %w", &mate.ConfigurationError{
			Field:  "workers",
			Reason: fmt.Sprintf("must be at least 1, got %d", p.workers),
		})
	}
	if p.filter == nil {
		p.filter = aggregate.AllPairs{}
	}
	p.log = logging.OrDiscard(p.log)
	return p, nil
}

// Propose classifies every candidate feature pair of parts and returns at
// most one proposal per part pair, ordered by final confidence. lib may be
// nil or empty, in which case raw classifier confidences are used.
func (p *Proposer) Propose(ctx context.Context, parts []feature.Part, lib *Library) ([]Proposal, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := feature.ValidateParts(parts); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if lib.Empty() {
		p.log.Warn("rule library is empty; using classifier confidence only")
	}

	pairs, err := aggregate.CheckedCandidates(p.filter, parts)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	var (
		mu  sync.Mutex
		out []Proposal
	)
	err = aggregate.FanOut(ctx, p.workers, pairs, func(pair aggregate.Pair) error {
		obs, _, err := aggregate.ClassifyParts(parts[pair.A], parts[pair.B], p.thresholds)
		if err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		best, ok := p.best(obs, lib)
		if !ok {
			return nil
		}
		mu.Lock()
		out = append(out, best)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b Proposal) int {
		if c := cmp.Compare(b.FinalConfidence, a.FinalConfidence); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Observation.PartA, b.Observation.PartA); c != 0 {
			return c
		}
		return cmp.Compare(a.Observation.PartB, b.Observation.PartB)
	})

	for _, prop := range out {
		p.metrics.IncProposal(prop.Observation.Kind.String())
	}
	p.metrics.ObservePass("propose", start)
	p.log.Info("proposal pass complete", "parts", len(parts), "proposals", len(out), "rules", lib.Len())
	return out, nil
}

// Score blends one observation with the library.
func (p *Proposer) Score(o mate.Observation, lib *Library) Proposal {
	prop := Proposal{
		Observation:          o,
		ClassifierConfidence: o.Confidence,
		FinalConfidence:      o.Confidence,
	}
	rule, ok := lib.Lookup(KeyOf(o))
	if !ok {
		rule, ok = lib.LookupKind(o.Kind)
	}
	if ok {
		prop.FinalConfidence = (1-p.weight)*o.Confidence + p.weight*rule.Confidence
		prop.RuleID = rule.ID
		prop.Blended = true
	}
	return prop
}

// best picks the single surviving proposal among one part pair's
// observations.
func (p *Proposer) best(obs []mate.Observation, lib *Library) (Proposal, bool) {
	var (
		best  Proposal
		found bool
	)
	for _, o := range obs {
		prop := p.Score(o, lib)
		if prop.FinalConfidence < p.thresholds.ConfidenceThreshold {
			continue
		}
		if !found || better(prop, best) {
			best, found = prop, true
		}
	}
	return best, found
}

// better orders proposals for one part pair: final confidence, then kind
// priority, then feature ids.
func better(a, b Proposal) bool {
	if a.FinalConfidence != b.FinalConfidence {
		return a.FinalConfidence > b.FinalConfidence
	}
	if pa, pb := a.Observation.Kind.Priority(), b.Observation.Kind.Priority(); pa != pb {
		return pa > pb
	}
	if a.Observation.FeatureA != b.Observation.FeatureA {
		return a.Observation.FeatureA < b.Observation.FeatureA
	}
	return a.Observation.FeatureB < b.Observation.FeatureB
}
