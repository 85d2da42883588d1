package config

import (
	"log/slog"
	"reflect"
	"time"

	"github.com/thebridgeproject/bridge/internal/filter"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
)

// Config is the top-level YAML structure.
type Config struct {
	Version     string         `yaml:"version"`
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	Server      ServerConf     `yaml:"server"`
	RateLimit   RateLimitConf  `yaml:"rate_limit"`
	Analytics   AnalyticsConf  `yaml:"analytics"`
	Ingest      IngestConf     `yaml:"ingest"`
	Archive     ArchiveConf    `yaml:"archive"`
	Feed        FeedConf       `yaml:"feed"`
	Submissions SubmissionConf `yaml:"submissions"`
}

// ServerConf configures the HTTP listener.
type ServerConf struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// RateLimitConf selects the counter store and the per-category rules.
type RateLimitConf struct {
	Backend     string `yaml:"backend"` // memory | postgres
	PostgresDSN string `yaml:"postgres_dsn"`
	// CleanupProbability is the chance a request triggers a sweep of expired
	// entries. Nil means the default; zero or a negative value disables it.
	CleanupProbability *float64                  `yaml:"cleanup_probability"`
	SweepInterval      time.Duration             `yaml:"sweep_interval"` // 0 disables the janitor
	Categories         map[string]ratelimit.Rule `yaml:"categories"`
}

// AnalyticsConf bounds the journey store.
type AnalyticsConf struct {
	MaxEvents        int           `yaml:"max_events"`
	SessionRetention time.Duration `yaml:"session_retention"`
	RetentionBasis   string        `yaml:"retention_basis"` // start | last_activity
	MetricsWindow    time.Duration `yaml:"metrics_window"`
	RecentLimit      int           `yaml:"recent_limit"`
	Highlight        string        `yaml:"highlight"`
}

// IngestConf sizes the archive worker pool.
type IngestConf struct {
	Workers      int           `yaml:"workers"`
	QueueDepth   int           `yaml:"queue_depth"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ArchiveConf locates the SQLite archive. An empty path disables it.
type ArchiveConf struct {
	Path         string `yaml:"path"`
	RestoreLimit int    `yaml:"restore_limit"`
}

// FeedConf configures the live websocket feed.
type FeedConf struct {
	ClientBuffer   int      `yaml:"client_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SubmissionConf bounds the in-memory submission book.
type SubmissionConf struct {
	MaxPerKind int `yaml:"max_per_kind"`
}

// Backends for RateLimitConf.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Rules returns the rate limit rules keyed by category.
func (c *Config) Rules() map[string]ratelimit.Rule {
	out := make(map[string]ratelimit.Rule, len(c.RateLimit.Categories))
	for k, v := range c.RateLimit.Categories {
		out[k] = v
	}
	return out
}

// Journey converts the analytics section into a store config. The
// highlight expression must already have passed Validate.
func (c *Config) Journey() (journey.Config, error) {
	expr, err := filter.Parse(c.Analytics.Highlight)
	if err != nil {
		return journey.Config{}, err
	}
	return journey.Config{
		MaxEvents:        c.Analytics.MaxEvents,
		SessionRetention: c.Analytics.SessionRetention,
		RetentionBasis:   c.Analytics.RetentionBasis,
		MetricsWindow:    c.Analytics.MetricsWindow,
		RecentLimit:      c.Analytics.RecentLimit,
		Highlight:        expr,
	}, nil
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// CleanupChance is the sweep probability handed to the limiter. The limiter
// treats 0 as "use the default", so an explicit 0 here becomes -1.
func (c *Config) CleanupChance() float64 {
	p := c.RateLimit.CleanupProbability
	switch {
	case p == nil:
		return ratelimit.DefaultCleanupProbability
	case *p <= 0:
		return -1
	}
	return *p
}

// ColdChanges lists the keys that differ between old and next but only take
// effect on restart. Rate limit categories and log_level apply live.
func ColdChanges(old, next *Config) []string {
	var keys []string
	diff := func(key string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			keys = append(keys, key)
		}
	}
	diff("server", old.Server, next.Server)
	diff("rate_limit.backend", old.RateLimit.Backend, next.RateLimit.Backend)
	diff("rate_limit.postgres_dsn", old.RateLimit.PostgresDSN, next.RateLimit.PostgresDSN)
	diff("rate_limit.cleanup_probability", old.CleanupChance(), next.CleanupChance())
	diff("rate_limit.sweep_interval", old.RateLimit.SweepInterval, next.RateLimit.SweepInterval)
	diff("analytics", old.Analytics, next.Analytics)
	diff("ingest", old.Ingest, next.Ingest)
	diff("archive", old.Archive, next.Archive)
	diff("feed", old.Feed, next.Feed)
	diff("submissions", old.Submissions, next.Submissions)
	return keys
}
