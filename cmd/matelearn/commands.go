package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/matelearn/pkg/aggregate"
	"github.com/chazu/matelearn/pkg/feature"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/pipeline"
	"github.com/chazu/matelearn/pkg/rules"
	"github.com/chazu/matelearn/pkg/store"
)

// classifyAll aggregates each catalog file as its own assembly sample and
// merges the results.
func classifyAll(ctx context.Context, p *pipeline.Pipeline, paths []string) (*aggregate.ObservationSet, error) {
	set := aggregate.NewObservationSet()
	for _, path := range paths {
		parts, err := loadCatalog(path)
		if err != nil {
			return nil, err
		}
		s, err := p.Classify(ctx, parts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		set.Merge(s)
	}
	return set, nil
}

func pairString(p [2]feature.Kind) string {
	return p[0].String() + "-" + p[1].String()
}

// --- classify ---------------------------------------------------------------

func newClassifyCmd(a *app) *cobra.Command {
	var (
		save string
		kind string
	)
	cmd := &cobra.Command{
		Use:   "classify <catalog>...",
		Short: "Classify every feature pair and print the mate observations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			set, err := classifyAll(cmd.Context(), p, args)
			if err != nil {
				return err
			}
			obs := set.All()
			if kind != "" {
				k, err := mate.ParseKind(kind)
				if err != nil {
					return err
				}
				obs = set.ByKind(k)
			}
			if save != "" {
				if err := store.SaveObservations(save, obs); err != nil {
					return err
				}
				a.log.Info("observations saved", "path", save, "count", len(obs))
			}
			return printObservations(a.printer(), obs)
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "also write the observations to this file (.json or .msgpack)")
	cmd.Flags().StringVar(&kind, "kind", "", "only show one constraint kind")
	return cmd
}

func printObservations(pr printer, obs []mate.Observation) error {
	if pr.json {
		return pr.encode(obs)
	}
	if len(obs) == 0 {
		pr.note("no constraint observations")
		return nil
	}
	rows := make([][]string, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []string{
			o.Kind.String(),
			o.PartA + "/" + o.FeatureA,
			o.PartB + "/" + o.FeatureB,
			ff(o.Confidence),
			o.Reasoning,
		})
	}
	return pr.table([]string{"KIND", "A", "B", "CONFIDENCE", "REASONING"}, rows)
}

// --- learn ------------------------------------------------------------------

func newLearnCmd(a *app) *cobra.Command {
	var (
		fresh        bool
		observations []string
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "learn [catalog]...",
		Short: "Learn mate rules from assembly samples and update the library",
		Long: `Learn classifies each catalog as one assembly sample, folds the
observations into the existing library (unless --fresh) and writes the
result back to the library file. When store.badger_path is configured the
library is also appended as a new version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(observations) == 0 {
				return errors.New("learn needs at least one catalog or --observations file")
			}
			db, err := a.openBadger()
			if err != nil {
				return err
			}
			var opts []pipeline.Option
			if db != nil {
				defer db.Close()
				opts = append(opts, pipeline.WithBadger(db))
			}
			p, err := a.pipeline(opts...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			set, err := classifyAll(ctx, p, args)
			if err != nil {
				return err
			}
			for _, path := range observations {
				obs, err := store.LoadObservations(path)
				if err != nil {
					return err
				}
				set.Add(obs...)
			}

			existing := rules.NewLibrary(a.cfg.Thresholds)
			if !fresh {
				if existing, err = p.LoadLibrary(); err != nil {
					return err
				}
			}
			lib, err := p.LearnObservations(ctx, set, existing)
			if err != nil {
				return err
			}

			version := 0
			if !dryRun {
				if version, err = p.Persist(ctx, lib); err != nil {
					return err
				}
			}
			return printLearnSummary(a.printer(), lib, set.Len(), a.cfg.Store.Path, version, dryRun)
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the existing library and start empty")
	cmd.Flags().StringArrayVar(&observations, "observations", nil, "saved observation file to learn from (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "learn and print without writing the library")
	return cmd
}

type learnSummary struct {
	Path         string   `json:"path,omitempty"`
	Version      int      `json:"version,omitempty"`
	Observations int      `json:"observations"`
	Rules        int      `json:"rules"`
	RunID        string   `json:"run_id"`
	Notes        []string `json:"notes,omitempty"`
}

func printLearnSummary(pr printer, lib *rules.Library, observed int, path string, version int, dryRun bool) error {
	sum := learnSummary{
		Path:         path,
		Version:      version,
		Observations: observed,
		Rules:        lib.Len(),
		RunID:        lib.RunID,
		Notes:        lib.Notes,
	}
	if dryRun {
		sum.Path = ""
	}
	if pr.json {
		return pr.encode(sum)
	}
	pr.title(fmt.Sprintf("learned %d rules from %d observations (run %s)", sum.Rules, observed, sum.RunID))
	switch {
	case dryRun:
		pr.note("dry run: library not written")
	case version > 0:
		pr.note(fmt.Sprintf("wrote %s, version %d", path, version))
	default:
		pr.note("wrote " + path)
	}
	for _, n := range lib.Notes {
		pr.note("  " + n)
	}
	return nil
}

// --- propose ----------------------------------------------------------------

func newProposeCmd(a *app) *cobra.Command {
	var (
		version int
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "propose <catalog>",
		Short: "Rank mate proposals for a new assembly against the rule library",
		Long: `Propose classifies the catalog and blends each candidate with the
matching learned rule. Without a library the raw classifier confidence is
used. With --watch the library file is watched and proposals are printed
again whenever it changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := loadCatalog(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if watch {
				if version > 0 {
					return errors.New("--watch and --version are mutually exclusive")
				}
				return a.watchProposals(ctx, p, parts)
			}

			lib, err := a.library(p, version)
			if err != nil {
				return err
			}
			props, err := p.Propose(ctx, parts, lib)
			if err != nil {
				return err
			}
			return printProposals(a.printer(), props)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "use this library version from the Badger store")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run proposals whenever the library file changes")
	return cmd
}

func (a *app) watchProposals(ctx context.Context, p *pipeline.Pipeline, parts []feature.Part) error {
	h := store.NewHandle(nil)
	err := store.Watch(ctx, a.cfg.Store.Path, h,
		store.WithWatchLogger(a.log),
		store.WithReloadHook(func(lib *rules.Library) {
			props, err := p.Propose(ctx, parts, lib)
			if err != nil {
				a.log.Error("propose failed", "error", err)
				return
			}
			if err := printProposals(a.printer(), props); err != nil {
				a.log.Error("print proposals", "error", err)
			}
		}),
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printProposals(pr printer, props []rules.Proposal) error {
	if pr.json {
		return pr.encode(props)
	}
	if len(props) == 0 {
		pr.note("no proposals above the confidence threshold")
		return nil
	}
	rows := make([][]string, 0, len(props))
	for _, pp := range props {
		o := pp.Observation
		source := "classifier"
		if pp.Blended {
			source = pp.RuleID
		}
		rows = append(rows, []string{
			o.Kind.String(),
			o.PartA + "/" + o.FeatureA,
			o.PartB + "/" + o.FeatureB,
			ff(pp.ClassifierConfidence),
			ff(pp.FinalConfidence),
			source,
		})
	}
	return pr.table([]string{"KIND", "A", "B", "CLASSIFIER", "FINAL", "RULE"}, rows)
}

// library loads the rule library from the Badger store when version is
// set, otherwise from the library file.
func (a *app) library(p *pipeline.Pipeline, version int) (*rules.Library, error) {
	if version <= 0 {
		return p.LoadLibrary()
	}
	db, err := a.openBadger()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("--version needs store.badger_path to be configured")
	}
	defer db.Close()
	return db.Get(a.cfg.Store.Name, version)
}

// --- inspect ----------------------------------------------------------------

func newInspectCmd(a *app) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "inspect [library]",
		Short: "Print the rules of a persisted library",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				lib *rules.Library
				err error
			)
			if len(args) == 1 {
				lib, err = store.LoadFile(args[0])
			} else {
				var p *pipeline.Pipeline
				if p, err = a.pipeline(); err == nil {
					lib, err = a.library(p, version)
				}
			}
			if err != nil {
				return err
			}
			return printLibrary(a.printer(), lib)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "inspect this version from the Badger store")
	return cmd
}

func printLibrary(pr printer, lib *rules.Library) error {
	if pr.json {
		return pr.encode(lib)
	}
	pr.title(fmt.Sprintf("library v%d, run %s: %d rules from %d observations",
		lib.Version, lib.RunID, lib.Len(), lib.Stats.TotalObservations))
	if len(lib.Stats.KindCounts) > 0 {
		var counts []string
		for _, k := range slices.Sorted(maps.Keys(lib.Stats.KindCounts)) {
			counts = append(counts, fmt.Sprintf("%s=%d", k, lib.Stats.KindCounts[k]))
		}
		pr.note("observed: " + strings.Join(counts, " "))
	}
	if lib.Empty() {
		return nil
	}

	rows := make([][]string, 0, lib.Len())
	for _, r := range lib.Rules {
		var params []string
		for _, name := range slices.Sorted(maps.Keys(r.Params)) {
			ps := r.Params[name]
			params = append(params, fmt.Sprintf("%s=%.3f±%.3f", name, ps.Mean, ps.StdDev))
		}
		rows = append(rows, []string{
			r.ID,
			r.Kind.String(),
			pairString(r.FeaturePair),
			strconv.Itoa(r.SampleCount),
			ff(r.Confidence),
			strings.Join(params, " "),
		})
	}
	return pr.table([]string{"ID", "KIND", "FEATURES", "SAMPLES", "CONFIDENCE", "PARAMS"}, rows)
}

// --- versions ---------------------------------------------------------------

func newVersionsCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List libraries and versions in the Badger store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openBadger()
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("versions needs store.badger_path to be configured")
			}
			defer db.Close()

			names := []string{name}
			if name == "" {
				if names, err = db.Names(); err != nil {
					return err
				}
			}
			listing := make(map[string][]int, len(names))
			rows := [][]string{}
			for _, n := range names {
				vs, err := db.Versions(n)
				if err != nil {
					return err
				}
				listing[n] = vs
				for _, v := range vs {
					rows = append(rows, []string{n, strconv.Itoa(v)})
				}
			}

			pr := a.printer()
			if pr.json {
				return pr.encode(listing)
			}
			if len(rows) == 0 {
				pr.note("no stored libraries")
				return nil
			}
			return pr.table([]string{"NAME", "VERSION"}, rows)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "only list this library")
	return cmd
}
