package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/thebridgeproject/bridge/internal/filter"
	"github.com/thebridgeproject/bridge/internal/journey"
)

// Validate checks a loaded config and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		errs = append(errs, fmt.Sprintf("log_level: %q is not a level", cfg.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, "server.max_body_bytes must not be negative")
	}

	rl := cfg.RateLimit
	switch rl.Backend {
	case BackendMemory:
	case BackendPostgres:
		if rl.PostgresDSN == "" {
			errs = append(errs, "rate_limit.postgres_dsn is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend: unknown backend %q", rl.Backend))
	}
	if p := rl.CleanupProbability; p != nil && *p > 1 {
		errs = append(errs, "rate_limit.cleanup_probability must be at most 1")
	}
	if rl.SweepInterval < 0 {
		errs = append(errs, "rate_limit.sweep_interval must not be negative")
	}
	names := make([]string, 0, len(rl.Categories))
	for name := range rl.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := rl.Categories[name]
		if name == "" {
			errs = append(errs, "rate_limit.categories: empty category name")
		}
		if r.Max <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.categories.%s: max_requests must be positive", name))
		}
		if r.Window <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.categories.%s: window must be positive", name))
		}
	}

	a := cfg.Analytics
	if a.MaxEvents < 0 {
		errs = append(errs, "analytics.max_events must not be negative")
	}
	if a.SessionRetention < 0 || a.MetricsWindow < 0 {
		errs = append(errs, "analytics durations must not be negative")
	}
	if a.RetentionBasis != journey.RetainByStart && a.RetentionBasis != journey.RetainByLastActivity {
		errs = append(errs, fmt.Sprintf("analytics.retention_basis: must be %q or %q, got %q",
			journey.RetainByStart, journey.RetainByLastActivity, a.RetentionBasis))
	}
	if _, err := filter.Parse(a.Highlight); err != nil {
		errs = append(errs, fmt.Sprintf("analytics.highlight: %v", err))
	}

	if cfg.Ingest.Workers < 0 || cfg.Ingest.QueueDepth < 0 {
		errs = append(errs, "ingest.workers and ingest.queue_depth must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
