// Package config loads matelearn settings from a YAML file, an optional
// .env file and MATELEARN_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/mate"
	"github.com/chazu/matelearn/pkg/rules"
	"github.com/chazu/matelearn/pkg/spatial"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MATELEARN_"

// Config is the complete runtime configuration.
type Config struct {
	Thresholds mate.Thresholds `yaml:"thresholds"`
	Learning   Learning        `yaml:"learning"`
	Logging    logging.Config  `yaml:"logging"`
	Store      Store           `yaml:"store"`
}

// Learning tunes the aggregate, learn and propose passes.
type Learning struct {
	// RuleWeight is the rule's share of a blended proposal confidence.
	RuleWeight float64 `yaml:"rule_weight" validate:"gte=0,lte=1"`
	// Workers bounds classification parallelism; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`
	// HolePatterns enables intra-part hole spacing observations.
	HolePatterns bool `yaml:"hole_patterns"`
	// Prefilter enables the bounding-box candidate filter.
	Prefilter       bool    `yaml:"prefilter"`
	PrefilterMargin float64 `yaml:"prefilter_margin" validate:"gt=0"`
}

// Store locates persisted libraries.
type Store struct {
	// Path is the library file used by learn and propose.
	Path string `yaml:"path"`
	// BadgerPath, when set, also keeps every learned library as a version
	// in a Badger database.
	BadgerPath string `yaml:"badger_path"`
	// Name is the library name inside the Badger database.
	Name string `yaml:"name" validate:"required,excludesall=/"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Thresholds: mate.DefaultThresholds(),
		Learning: Learning{
			RuleWeight:      rules.DefaultRuleWeight,
			PrefilterMargin: spatial.DefaultMargin,
		},
		Logging: logging.Config{Level: "info", Format: logging.FormatText},
		Store: Store{
			Path: "rules.json",
			Name: "default",
		},
	}
}

// Load builds the configuration. path names a YAML file and envFile a
// .env file; either may be empty, and a missing envFile is ignored.
// Variables already set in the process environment win over the .env file.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := decodeYAML(bytes.NewReader(raw), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result without
// consulting the environment.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays the recognized MATELEARN_* variables.
func applyEnv(cfg *Config, env map[string]string) error {
	if v, ok := env[EnvPrefix+"LOG_LEVEL"]; ok {
		cfg.Logging.Level = v
	}
	if v, ok := env[EnvPrefix+"LOG_FORMAT"]; ok {
		cfg.Logging.Format = logging.Format(v)
	}
	if v, ok := env[EnvPrefix+"STORE_PATH"]; ok {
		cfg.Store.Path = v
	}
	if v, ok := env[EnvPrefix+"BADGER_PATH"]; ok {
		cfg.Store.BadgerPath = v
	}
	if v, ok := env[EnvPrefix+"WORKERS"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &mate.ConfigurationError{Field: EnvPrefix + "WORKERS", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		cfg.Learning.Workers = n
	}
	if v, ok := env[EnvPrefix+"CONFIDENCE_THRESHOLD"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &mate.ConfigurationError{Field: EnvPrefix + "CONFIDENCE_THRESHOLD", Reason: fmt.Sprintf("not a number: %q", v)}
		}
		cfg.Thresholds.ConfidenceThreshold = f
	}
	if v, ok := env[EnvPrefix+"RULE_WEIGHT"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &mate.ConfigurationError{Field: EnvPrefix + "RULE_WEIGHT", Reason: fmt.Sprintf("not a number: %q", v)}
		}
		cfg.Learning.RuleWeight = f
	}
	return nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}()

// Validate checks struct constraints, then the threshold invariants. The
// first violation is returned as a *mate.ConfigurationError.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := fe.Namespace()
			if _, rest, ok := strings.Cut(field, "."); ok {
				field = rest
			}
			return &mate.ConfigurationError{Field: field, Reason: fmt.Sprintf("failed %q check, got %v", fe.Tag(), fe.Value())}
		}
		return &mate.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	return c.Thresholds.Validate()
}
