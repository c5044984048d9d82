package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/chazu/matelearn/pkg/config"
	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/metrics"
	"github.com/chazu/matelearn/pkg/pipeline"
	"github.com/chazu/matelearn/pkg/store"
)

// app carries global flags and the state built from them before any
// subcommand runs.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFile    string
	logLevel   string
	format     string
	storePath  string
	metricsOut string

	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "matelearn",
		Short: "Learn and propose geometric mates between CAD parts",
		Long: `matelearn classifies feature pairs of assembled parts into mate
observations (concentric, coincident, parallel, perpendicular, threaded,
spherical, hole spacing), learns a rule library from them and ranks
constraint proposals for new assemblies.

Catalogs are JSON documents (.json) or catalog scripts (.lisp):

  (part "shaft" (cylinder :id "journal" :axis (vec3 0 0 1) :center (vec3 0 0 0) :radius 10))

Examples:
  matelearn classify assembly.json
  matelearn learn sample1.json sample2.lisp --store rules.json
  matelearn propose new.json --store rules.json
  matelearn inspect rules.json`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.writeMetrics()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with MATELEARN_* overrides")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.StringVar(&a.format, "format", "table", "output format: table or json")
	pf.StringVar(&a.storePath, "store", "", "rule library file (overrides store.path)")
	pf.StringVar(&a.metricsOut, "metrics-out", "", "write Prometheus metrics in text format to this file on exit")

	root.AddCommand(
		newClassifyCmd(a),
		newLearnCmd(a),
		newProposeCmd(a),
		newInspectCmd(a),
		newVersionsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.format != "table" && a.format != "json" {
		return fmt.Errorf("unknown --format %q (want table or json)", a.format)
	}
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	cfg.Logging.Output = a.stderr
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "matelearn"
	}

	a.cfg = cfg
	a.log = logging.New(cfg.Logging).With("command", cmd.Name())
	a.metrics = metrics.New(nil)
	return nil
}

func (a *app) pipeline(opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	return pipeline.New(a.cfg, append([]pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
	}, opts...)...)
}

// openBadger opens the configured version store, or returns nil when none
// is configured.
func (a *app) openBadger() (*store.BadgerStore, error) {
	if a.cfg.Store.BadgerPath == "" {
		return nil, nil
	}
	return store.OpenBadger(store.BadgerConfig{
		Path:   a.cfg.Store.BadgerPath,
		Logger: a.log,
	})
}

func (a *app) writeMetrics() error {
	if a.metricsOut == "" || a.metrics == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsOut, a.metrics.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
