package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/provider"
)

const baselineFixture = `{"type":"FeatureCollection","features":[
{"type":"Feature","id":"node/1","geometry":{"type":"Point","coordinates":[9.19,45.46]},"properties":{"osm_id":1}},
{"type":"Feature","id":"node/2","geometry":{"type":"Point","coordinates":[9.20,45.47]},"properties":{"osm_id":2}}
]}`

// overpassMirror answers every query with a fresh snapshot holding one
// baseline lamp and two new ones.
func overpassMirror(t *testing.T) *httptest.Server {
	t.Helper()
	base := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"osm3s":{"timestamp_osm_base":%q},"elements":[
{"type":"node","id":1,"lat":45.46,"lon":9.19,"user":"old","timestamp":"2026-02-02T00:00:00Z","tags":{"highway":"street_lamp"}},
{"type":"node","id":10,"lat":45.0,"lon":9.0,"user":"alice","timestamp":"2026-03-05T10:00:00Z","tags":{"highway":"street_lamp","lamp_mount":"bent_mast"}},
{"type":"node","id":11,"lat":45.1,"lon":9.1,"user":"bob","timestamp":"2026-03-06T10:00:00Z","tags":{"highway":"street_lamp"}}
]}`, base)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupWorkspace moves into a temp directory holding config.yaml and a
// baseline extract, and returns the data directory path.
func setupWorkspace(t *testing.T, providerURL string) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	config := fmt.Sprintf(`providers:
  - name: local
    url: %s
    kind: overpass
    timeout_secs: 5
fetch:
  rate_limit_pause_secs: 0
  requests_per_second: 100
store:
  driver: sqlite
  database_url: %s
log:
  level: error
  format: console
`, providerURL, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "baseline.geojson"), []byte(baselineFixture), 0o644))
	return filepath.Join(dir, "data")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestWorkflow_SeedDailyStatus(t *testing.T) {
	srv := overpassMirror(t)
	dataDir := setupWorkspace(t, srv.URL)

	out, err := execute(t, "baseline", "seed", "baseline.geojson", "--data-dir", dataDir, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, "2 baseline lamps")

	// A second seed without --force refuses to clobber the ledger.
	_, err = execute(t, "baseline", "seed", "baseline.geojson", "--data-dir", dataDir, "--force=false")
	require.Error(t, err)

	out, err = execute(t, "daily", "--data-dir", dataDir, "--full-refresh=false", "--format", "json")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "local", report["provider"])
	assert.Equal(t, "incremental", report["mode"])
	assert.EqualValues(t, 2, report["fetched"])
	assert.EqualValues(t, 1, report["skipped_baseline"])
	assert.EqualValues(t, 2, report["discovered_today"])
	assert.EqualValues(t, 2, report["new_count"])

	out, err = execute(t, "status", "--data-dir", dataDir, "--format", "yaml", "--top", "10")
	require.NoError(t, err)

	var summary model.Summary
	require.NoError(t, yaml.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.BaselineCount)
	assert.Equal(t, 2, summary.NewCount)
	require.Len(t, summary.Leaderboard, 2)
	assert.Equal(t, "alice", summary.Leaderboard[0].User)
	assert.Equal(t, "bob", summary.Leaderboard[1].User)

	out, err = execute(t, "runs", "list", "--data-dir", dataDir, "--kind", "daily", "--status", "", "--limit", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "daily")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "local")
}

func TestWorkflow_DailyWithoutSeed(t *testing.T) {
	srv := overpassMirror(t)
	dataDir := setupWorkspace(t, srv.URL)

	_, err := execute(t, "daily", "--data-dir", dataDir, "--full-refresh=false", "--format", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing prerequisite")
}

func TestWorkflow_DailyAllProvidersExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	dataDir := setupWorkspace(t, srv.URL)

	_, err := execute(t, "baseline", "seed", "baseline.geojson", "--data-dir", dataDir, "--force=false")
	require.NoError(t, err)

	_, err = execute(t, "daily", "--data-dir", dataDir, "--full-refresh=false", "--format", "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrAllProvidersExhausted))

	out, err := execute(t, "status", "--data-dir", dataDir, "--format", "json", "--top", "10")
	require.NoError(t, err)
	var summary model.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 0, summary.NewCount)

	out, err = execute(t, "runs", "list", "--data-dir", dataDir, "--kind", "", "--status", "failed", "--limit", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "failed")

	out, err = execute(t, "check", "--data-dir", dataDir, "--format", "json", "--fail-on-alert=false")
	require.NoError(t, err)
	var health struct {
		Snapshot struct {
			ConsecutiveFailures int `json:"consecutive_failures"`
			BaselineCount       int `json:"baseline_count"`
		} `json:"snapshot"`
		Alerts []struct {
			Type string `json:"type"`
		} `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &health))
	assert.Equal(t, 1, health.Snapshot.ConsecutiveFailures)
	assert.Equal(t, 2, health.Snapshot.BaselineCount)
	// Seeding stamps the baseline cutoff, which is well past the staleness threshold.
	require.Len(t, health.Alerts, 1)
	assert.Equal(t, "catalog_stale", health.Alerts[0].Type)

	_, err = execute(t, "check", "--data-dir", dataDir, "--format", "text", "--fail-on-alert=true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 alert(s) triggered")
}
