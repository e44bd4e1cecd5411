package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lampioni/lampioni/internal/provider"
	"github.com/lampioni/lampioni/internal/store"
)

// Config is the top-level application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Query      QueryConfig      `yaml:"query" mapstructure:"query"`
	Providers  []ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Freshness  FreshnessConfig  `yaml:"freshness" mapstructure:"freshness"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the catalog data directory.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// QueryConfig describes what is fetched from the providers.
type QueryConfig struct {
	TagKey            string   `yaml:"tag_key" mapstructure:"tag_key"`
	TagValue          string   `yaml:"tag_value" mapstructure:"tag_value"`
	AreaRelationID    int64    `yaml:"area_relation_id" mapstructure:"area_relation_id"`
	BBox              string   `yaml:"bbox" mapstructure:"bbox"`
	BaselineDate      string   `yaml:"baseline_date" mapstructure:"baseline_date"`
	Tags              []string `yaml:"tags" mapstructure:"tags"`
	ServerTimeoutSecs int      `yaml:"server_timeout_secs" mapstructure:"server_timeout_secs"`
}

// ProviderConfig is one entry of the ordered provider chain.
type ProviderConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	URL         string `yaml:"url" mapstructure:"url"`
	Kind        string `yaml:"kind" mapstructure:"kind"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FreshnessConfig holds the staleness threshold.
type FreshnessConfig struct {
	MaxAgeHours int `yaml:"max_age_hours" mapstructure:"max_age_hours"`
}

// FetchConfig configures the HTTP transport.
type FetchConfig struct {
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitPauseSecs int     `yaml:"rate_limit_pause_secs" mapstructure:"rate_limit_pause_secs"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// StoreConfig selects the run ledger backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ExportConfig configures the Postgres export target.
type ExportConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig holds catalog health thresholds and alert delivery.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	StaleAfterHours        int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// defaultProviders is the public mirror chain in preference order.
var defaultProviders = []map[string]any{
	{"name": "overpass-api.de", "url": "https://overpass-api.de/api/interpreter", "kind": "overpass", "timeout_secs": 300},
	{"name": "private.coffee", "url": "https://overpass.private.coffee/api/interpreter", "kind": "overpass", "timeout_secs": 300},
	{"name": "kumi.systems", "url": "https://overpass.kumi.systems/api/interpreter", "kind": "overpass", "timeout_secs": 300},
	{"name": "geofabrik-postpass", "url": "https://postpass.geofabrik.de/api/0.2/interpreter", "kind": "postpass", "timeout_secs": 300},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LAMPIONI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "data")
	v.SetDefault("query.tag_key", "highway")
	v.SetDefault("query.tag_value", "street_lamp")
	v.SetDefault("query.area_relation_id", 365331)
	v.SetDefault("query.bbox", "35.5,6.5,47.5,19.0")
	v.SetDefault("query.baseline_date", "2026-02-01T00:00:00Z")
	v.SetDefault("query.tags", []string{
		"lamp_mount", "lamp_type", "support", "ref", "operator",
		"height", "direction", "colour", "light:colour", "light:count",
		"manufacturer", "model", "start_date",
	})
	v.SetDefault("query.server_timeout_secs", 180)
	v.SetDefault("providers", defaultProviders)
	v.SetDefault("freshness.max_age_hours", 24)
	v.SetDefault("fetch.user_agent", "lampioni/1.0 (+https://github.com/lampioni/lampioni)")
	v.SetDefault("fetch.rate_limit_pause_secs", 10)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lampioni.db")
	v.SetDefault("export.table", "public.street_lamps")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.max_consecutive_failures", 2)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every run depends on.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return eris.New("config: providers must list at least one endpoint")
	}
	for i, p := range c.Providers {
		if strings.TrimSpace(p.URL) == "" {
			return eris.Errorf("config: providers[%d] (%s) has no url", i, p.Name)
		}
		if _, err := provider.ParseKind(p.Kind); err != nil {
			return eris.Wrapf(err, "config: providers[%d]", i)
		}
	}
	if _, err := c.BaselineTime(); err != nil {
		return err
	}
	if c.Freshness.MaxAgeHours <= 0 {
		return eris.Errorf("config: freshness.max_age_hours must be positive, got %d", c.Freshness.MaxAgeHours)
	}
	if c.Query.AreaRelationID <= 0 {
		if _, err := provider.ParseBBox(c.Query.BBox); err != nil {
			return eris.Wrap(err, "config: query needs area_relation_id or a valid bbox")
		}
	}
	return nil
}

// BaselineTime parses query.baseline_date.
func (c *Config) BaselineTime() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, c.Query.BaselineDate)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: query.baseline_date %q", c.Query.BaselineDate)
	}
	return ts.UTC(), nil
}

// Endpoints converts the provider list into selector endpoints, preserving
// order.
func (c *Config) Endpoints() ([]provider.Endpoint, error) {
	eps := make([]provider.Endpoint, 0, len(c.Providers))
	for i, p := range c.Providers {
		kind, err := provider.ParseKind(p.Kind)
		if err != nil {
			return nil, eris.Wrapf(err, "config: providers[%d]", i)
		}
		name := p.Name
		if name == "" {
			name = p.URL
		}
		eps = append(eps, provider.Endpoint{
			Name:    name,
			URL:     p.URL,
			Kind:    kind,
			Timeout: time.Duration(p.TimeoutSecs) * time.Second,
		})
	}
	return eps, nil
}

// Area returns the spatial boundary. A relation id wins over the bbox.
func (c *Config) Area() (provider.Area, error) {
	if c.Query.AreaRelationID > 0 {
		return provider.Area{RelationID: c.Query.AreaRelationID}, nil
	}
	bbox, err := provider.ParseBBox(c.Query.BBox)
	if err != nil {
		return provider.Area{}, eris.Wrap(err, "config: query.bbox")
	}
	return provider.Area{BBox: &bbox}, nil
}

// BaseQuery returns the provider query for the configured tag and area.
// Callers set NewerThan and Output per run.
func (c *Config) BaseQuery() (provider.Query, error) {
	area, err := c.Area()
	if err != nil {
		return provider.Query{}, err
	}
	return provider.Query{
		TagKey:        c.Query.TagKey,
		TagValue:      c.Query.TagValue,
		Area:          area,
		Output:        provider.OutputMeta,
		ServerTimeout: time.Duration(c.Query.ServerTimeoutSecs) * time.Second,
	}, nil
}

// SelectorOptions maps freshness and pacing settings onto the selector.
func (c *Config) SelectorOptions() provider.SelectorOptions {
	return provider.SelectorOptions{
		MaxAge:         time.Duration(c.Freshness.MaxAgeHours) * time.Hour,
		RateLimitPause: time.Duration(c.Fetch.RateLimitPauseSecs) * time.Second,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
