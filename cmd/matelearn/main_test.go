package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seatedJSON = `{
  "parts": [
    {"part_id": "housing", "features": [
      {"id": "bore", "type": "cylinder", "axis": [0, 0, 1], "center": [0, 0, 0], "radius": 10}
    ]},
    {"part_id": "shaft", "features": [
      {"id": "journal", "type": "cylinder", "axis": [0, 0, 1], "center": [0.1, 0, 0], "radius": 9.9}
    ]}
  ]
}`

const seatedLisp = `; a second sample of the same fit
(def up (vec3 0 0 1))
(part "housing" (cylinder :id "bore" :axis up :center (vec3 0 0 0) :radius 10))
(part "shaft" (cylinder :id "journal" :axis up :center (vec3 0.2 0 0) :radius 9.9))
`

type fixture struct {
	dir   string
	json  string
	lisp  string
	rules string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:   dir,
		json:  filepath.Join(dir, "seated.json"),
		lisp:  filepath.Join(dir, "seated.lisp"),
		rules: filepath.Join(dir, "rules.json"),
	}
	require.NoError(t, os.WriteFile(f.json, []byte(seatedJSON), 0o644))
	require.NoError(t, os.WriteFile(f.lisp, []byte(seatedLisp), 0o644))
	return f
}

// run executes the CLI with a fresh app and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(newApp(&stdout, &stderr))
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	out, err := run(t, "classify", f.json, f.lisp)
	require.NoError(t, err)

	assert.Contains(t, out, "KIND")
	assert.Equal(t, 2, strings.Count(out, "housing/bore"))
	assert.Contains(t, out, "concentric")
}

func TestClassifySaveAndFilter(t *testing.T) {
	f := newFixture(t)
	saved := filepath.Join(f.dir, "obs.msgpack")
	out, err := run(t, "classify", f.json, "--kind", "parallel", "--save", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "no constraint observations")
	assert.FileExists(t, saved)

	_, err = run(t, "classify", f.json, "--kind", "glued")
	assert.ErrorContains(t, err, "unknown constraint kind")
}

func TestLearnProposeInspect(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "learn", f.json, f.lisp, "--store", f.rules)
	require.NoError(t, err)
	assert.Contains(t, out, "learned 1 rules from 2 observations")
	require.FileExists(t, f.rules)

	out, err = run(t, "propose", f.json, "--store", f.rules)
	require.NoError(t, err)
	assert.Contains(t, out, "LEARNED_concentric_cylinder-cylinder_")
	assert.Contains(t, out, "housing/bore")

	out, err = run(t, "inspect", f.rules)
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules from 2 observations")
	assert.Contains(t, out, "axis_distance=0.150")
	assert.Contains(t, out, "observed: concentric=2")
}

func TestLearnFromSavedObservations(t *testing.T) {
	f := newFixture(t)
	saved := filepath.Join(f.dir, "obs.json")
	_, err := run(t, "classify", f.json, f.lisp, "--save", saved)
	require.NoError(t, err)

	out, err := run(t, "learn", "--observations", saved, "--store", f.rules, "--format", "json")
	require.NoError(t, err)
	var sum learnSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Rules)
	assert.Equal(t, 2, sum.Observations)
	assert.Equal(t, f.rules, sum.Path)
}

func TestLearnDryRun(t *testing.T) {
	f := newFixture(t)
	out, err := run(t, "learn", f.json, "--dry-run", "--store", f.rules)
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "skipped LEARNED_concentric")
	assert.NoFileExists(t, f.rules)
}

func TestProposeWithoutLibrary(t *testing.T) {
	f := newFixture(t)
	out, err := run(t, "propose", f.json, "--store", f.rules, "--format", "json")
	require.NoError(t, err)
	var props []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &props))
	require.Len(t, props, 1)
	assert.Equal(t, false, props[0]["blended"])
	assert.NotContains(t, props[0], "rule_id")
	assert.Equal(t, props[0]["classifier_confidence"], props[0]["final_confidence"])
}

func TestVersions(t *testing.T) {
	f := newFixture(t)
	cfgPath := filepath.Join(f.dir, "matelearn.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"store:\n  path: "+f.rules+"\n  badger_path: "+filepath.Join(f.dir, "db")+"\n  name: bearings\n"), 0o644))

	for i := 0; i < 2; i++ {
		_, err := run(t, "--config", cfgPath, "learn", f.json, f.lisp)
		require.NoError(t, err)
	}

	out, err := run(t, "--config", cfgPath, "versions")
	require.NoError(t, err)
	assert.Contains(t, out, "bearings")
	assert.Equal(t, 2, strings.Count(out, "bearings"))

	out, err = run(t, "--config", cfgPath, "inspect", "--version", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 rules from 2 observations")

	_, err = run(t, "--config", cfgPath, "propose", f.json, "--version", "9")
	assert.ErrorContains(t, err, "not found")
}

func TestVersionsNeedsBadger(t *testing.T) {
	_, err := run(t, "versions")
	assert.ErrorContains(t, err, "badger_path")
}

func TestMetricsOut(t *testing.T) {
	f := newFixture(t)
	metricsFile := filepath.Join(f.dir, "metrics.prom")
	_, err := run(t, "classify", f.json, "--metrics-out", metricsFile)
	require.NoError(t, err)

	raw, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `matelearn_observations_total{kind="concentric"} 1`)
}

func TestGlobalFlagErrors(t *testing.T) {
	f := newFixture(t)
	_, err := run(t, "classify", f.json, "--format", "xml")
	assert.ErrorContains(t, err, "unknown --format")

	_, err = run(t, "classify", f.json, "--log-level", "loud")
	assert.ErrorContains(t, err, "unknown level")

	_, err = run(t, "learn")
	assert.ErrorContains(t, err, "at least one catalog")

	bad := filepath.Join(f.dir, "bad.lisp")
	require.NoError(t, os.WriteFile(bad, []byte(`(part "p" (sphere :radius 1))`), 0o644))
	_, err = run(t, "classify", bad)
	assert.ErrorContains(t, err, ":center is required")
}
