package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/matelearn/pkg/mate"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, mate.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, 0.5, cfg.Learning.RuleWeight)
	assert.Equal(t, "default", cfg.Store.Name)
}

func TestLoadNoSources(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "matelearn.yaml", `
thresholds:
  concentric_axis_dist: 1.0
  min_samples_for_rule: 5
learning:
  rule_weight: 0.25
  workers: 4
  prefilter: true
logging:
  level: debug
  format: json
store:
  path: lib.msgpack
  name: fixtures
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Thresholds.ConcentricAxisDist)
	assert.Equal(t, 5, cfg.Thresholds.MinSamplesForRule)
	// Unset keys keep their defaults.
	assert.Equal(t, mate.DefaultThresholds().ConfidenceThreshold, cfg.Thresholds.ConfidenceThreshold)
	assert.Equal(t, 0.25, cfg.Learning.RuleWeight)
	assert.Equal(t, 4, cfg.Learning.Workers)
	assert.True(t, cfg.Learning.Prefilter)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "lib.msgpack", cfg.Store.Path)
	assert.Equal(t, "fixtures", cfg.Store.Name)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", "learning:\n  rule_wieght: 0.3\n")
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule_wieght")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	envFile := writeFile(t, ".env", strings.Join([]string{
		"MATELEARN_WORKERS=3",
		"MATELEARN_STORE_PATH=from-dotenv.json",
		"MATELEARN_CONFIDENCE_THRESHOLD=0.7",
	}, "\n"))
	t.Setenv("MATELEARN_STORE_PATH", "from-process.json")
	t.Setenv("MATELEARN_LOG_LEVEL", "warn")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Learning.Workers)
	assert.Equal(t, 0.7, cfg.Thresholds.ConfidenceThreshold)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "from-process.json", cfg.Store.Path, "process env wins over .env")

	_, set := os.LookupEnv("MATELEARN_WORKERS")
	assert.False(t, set, ".env values must not leak into the process environment")
}

func TestMissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestEnvParseErrors(t *testing.T) {
	tests := []struct {
		key, value, field string
	}{
		{"MATELEARN_WORKERS", "many", "MATELEARN_WORKERS"},
		{"MATELEARN_CONFIDENCE_THRESHOLD", "high", "MATELEARN_CONFIDENCE_THRESHOLD"},
		{"MATELEARN_RULE_WEIGHT", "half", "MATELEARN_RULE_WEIGHT"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("", "")
			require.ErrorIs(t, err, mate.ErrConfiguration)
			var ce *mate.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"rule weight above one", "learning:\n  rule_weight: 1.5\n", "learning.rule_weight"},
		{"negative workers", "learning:\n  workers: -1\n", "learning.workers"},
		{"zero margin", "learning:\n  prefilter_margin: 0\n", "learning.prefilter_margin"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"slash in name", "store:\n  name: a/b\n", "store.name"},
		{"threshold out of range", "thresholds:\n  confidence_threshold: 2\n", "thresholds.confidence_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.ErrorIs(t, err, mate.ErrConfiguration)
			var ce *mate.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidateThresholdInvariants(t *testing.T) {
	_, err := Parse(strings.NewReader("thresholds:\n  perpendicular_angle_min: 95\n  perpendicular_angle_max: 85\n"))
	assert.ErrorIs(t, err, mate.ErrConfiguration)
}
