package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/provider"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "highway", cfg.Query.TagKey)
	assert.Equal(t, "street_lamp", cfg.Query.TagValue)
	assert.Equal(t, int64(365331), cfg.Query.AreaRelationID)
	assert.Equal(t, "2026-02-01T00:00:00Z", cfg.Query.BaselineDate)
	assert.Len(t, cfg.Query.Tags, 13)
	assert.Contains(t, cfg.Query.Tags, "light:colour")
	assert.Equal(t, 180, cfg.Query.ServerTimeoutSecs)
	assert.Equal(t, 24, cfg.Freshness.MaxAgeHours)
	assert.Equal(t, 10, cfg.Fetch.RateLimitPauseSecs)
	assert.InDelta(t, 1.0, cfg.Fetch.RequestsPerSecond, 0.001)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "lampioni.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "public.street_lamps", cfg.Export.Table)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 48, cfg.Monitoring.StaleAfterHours)
	assert.Equal(t, 2, cfg.Monitoring.MaxConsecutiveFailures)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 168, cfg.Monitoring.LookbackWindowHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.Len(t, cfg.Providers, 4)
	assert.Equal(t, "overpass-api.de", cfg.Providers[0].Name)
	assert.Equal(t, "kumi.systems", cfg.Providers[2].Name)
	assert.Equal(t, "postpass", cfg.Providers[3].Kind)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
data:
  dir: /srv/lampioni
store:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
providers:
  - name: local
    url: http://localhost:12345/api/interpreter
    kind: overpass
    timeout_secs: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/lampioni", cfg.Data.Dir)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "local", cfg.Providers[0].Name)
	assert.Equal(t, 30, cfg.Providers[0].TimeoutSecs)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Freshness.MaxAgeHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LAMPIONI_STORE_DRIVER", "none")
	t.Setenv("LAMPIONI_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LAMPIONI_SERVER_PORT", "3000")
	t.Setenv("LAMPIONI_DATA_DIR", "/tmp/lamps")
	t.Setenv("LAMPIONI_FRESHNESS_MAX_AGE_HOURS", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/tmp/lamps", cfg.Data.Dir)
	assert.Equal(t, 6, cfg.Freshness.MaxAgeHours)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Query.TagKey = "highway"
	cfg.Query.TagValue = "street_lamp"
	cfg.Query.AreaRelationID = 365331
	cfg.Query.BaselineDate = "2026-02-01T00:00:00Z"
	cfg.Query.ServerTimeoutSecs = 180
	cfg.Providers = []ProviderConfig{
		{Name: "a", URL: "https://a.example/api/interpreter", Kind: "overpass", TimeoutSecs: 60},
		{Name: "b", URL: "https://b.example/api/0.2/interpreter", Kind: "postpass"},
	}
	cfg.Freshness.MaxAgeHours = 24
	cfg.Fetch.RateLimitPauseSecs = 10
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers = nil },
			wantErr: "at least one endpoint",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Providers[1].Kind = "wfs" },
			wantErr: "unknown kind",
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Providers[0].URL = " " },
			wantErr: "has no url",
		},
		{
			name:    "bad baseline date",
			mutate:  func(c *Config) { c.Query.BaselineDate = "2026-02-01" },
			wantErr: "baseline_date",
		},
		{
			name:    "zero freshness",
			mutate:  func(c *Config) { c.Freshness.MaxAgeHours = 0 },
			wantErr: "max_age_hours must be positive",
		},
		{
			name: "bad bbox without relation",
			mutate: func(c *Config) {
				c.Query.AreaRelationID = 0
				c.Query.BBox = "1,2,3"
			},
			wantErr: "area_relation_id or a valid bbox",
		},
		{
			name: "bbox without relation",
			mutate: func(c *Config) {
				c.Query.AreaRelationID = 0
				c.Query.BBox = "35.5,6.5,47.5,19.0"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEndpoints(t *testing.T) {
	cfg := validDefaults()
	cfg.Providers = append(cfg.Providers, ProviderConfig{URL: "https://c.example/api/interpreter", Kind: "Overpass"})

	eps, err := cfg.Endpoints()
	require.NoError(t, err)
	require.Len(t, eps, 3)

	assert.Equal(t, provider.Endpoint{
		Name:    "a",
		URL:     "https://a.example/api/interpreter",
		Kind:    provider.KindOverpass,
		Timeout: time.Minute,
	}, eps[0])
	assert.Equal(t, provider.KindPostpass, eps[1].Kind)
	assert.Zero(t, eps[1].Timeout)
	// Unnamed providers fall back to their URL.
	assert.Equal(t, "https://c.example/api/interpreter", eps[2].Name)
	assert.Equal(t, provider.KindOverpass, eps[2].Kind)
}

func TestBaseQuery(t *testing.T) {
	cfg := validDefaults()

	q, err := cfg.BaseQuery()
	require.NoError(t, err)
	assert.Equal(t, "highway", q.TagKey)
	assert.Equal(t, "street_lamp", q.TagValue)
	assert.Equal(t, int64(365331), q.Area.RelationID)
	assert.Nil(t, q.Area.BBox)
	assert.Equal(t, provider.OutputMeta, q.Output)
	assert.Equal(t, 3*time.Minute, q.ServerTimeout)
	assert.Nil(t, q.NewerThan)

	cfg.Query.AreaRelationID = 0
	cfg.Query.BBox = "35.5,6.5,47.5,19.0"
	q, err = cfg.BaseQuery()
	require.NoError(t, err)
	require.NotNil(t, q.Area.BBox)
	assert.InDelta(t, 19.0, q.Area.BBox.East, 0.0001)
}

func TestBaselineTime(t *testing.T) {
	cfg := validDefaults()
	cfg.Query.BaselineDate = "2026-02-01T01:00:00+01:00"

	ts, err := cfg.BaselineTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), ts)
}

func TestSelectorOptions(t *testing.T) {
	cfg := validDefaults()
	opts := cfg.SelectorOptions()
	assert.Equal(t, 24*time.Hour, opts.MaxAge)
	assert.Equal(t, 10*time.Second, opts.RateLimitPause)
}
