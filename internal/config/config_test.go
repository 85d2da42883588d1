package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thebridgeproject/bridge/internal/config"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`version: "1"`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.RateLimit.Backend != config.BackendMemory {
		t.Errorf("server/backend defaults = %q/%q", cfg.Server.Addr, cfg.RateLimit.Backend)
	}
	if got := cfg.Rules()[ratelimit.CategoryPrayer]; got.Max != 5 || got.Window != 15*time.Minute {
		t.Errorf("prayer rule = %v", got)
	}
	if *cfg.RateLimit.CleanupProbability != ratelimit.DefaultCleanupProbability {
		t.Errorf("cleanup probability = %v", *cfg.RateLimit.CleanupProbability)
	}
	jc, err := cfg.Journey()
	if err != nil {
		t.Fatalf("Journey: %v", err)
	}
	if jc.MaxEvents != 1000 || jc.SessionRetention != 24*time.Hour || jc.RetentionBasis != journey.RetainByStart {
		t.Errorf("journey config = %+v", jc)
	}
	if cfg.Archive.RestoreLimit != 1000 {
		t.Errorf("restore limit = %d", cfg.Archive.RestoreLimit)
	}
}

func TestParse_CategoryOverride(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: "1"
rate_limit:
  categories:
    prayer:
      max_requests: 10
      window: 30m
      fail_closed: true
    newsletter:
      max_requests: 2
      window: 24h
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rules := cfg.Rules()
	if p := rules["prayer"]; p.Max != 10 || p.Window != 30*time.Minute || !p.FailClosed {
		t.Errorf("prayer = %+v", p)
	}
	if rules["newsletter"].Window != 24*time.Hour {
		t.Errorf("newsletter = %+v", rules["newsletter"])
	}
	if rules["letter"].Max != 5 {
		t.Error("untouched categories should keep defaults")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvAddr, ":9090")
	t.Setenv(config.EnvPostgresDSN, "postgres://x")
	t.Setenv(config.EnvArchivePath, "")
	t.Setenv(config.EnvEnvironment, "production")

	cfg, err := config.Parse([]byte(`
version: "1"
server: {addr: ":8080"}
archive: {path: data/journey.db}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.RateLimit.PostgresDSN != "postgres://x" || cfg.Environment != "production" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Archive.Path != "" {
		t.Errorf("empty env var should disable the archive, got %q", cfg.Archive.Path)
	}
}

func TestConfig_CleanupChance(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"unset uses default", ``, ratelimit.DefaultCleanupProbability},
		{"explicit zero disables", "rate_limit: {cleanup_probability: 0}", -1},
		{"negative disables", "rate_limit: {cleanup_probability: -0.5}", -1},
		{"positive kept", "rate_limit: {cleanup_probability: 0.25}", 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte("version: \"1\"\n" + tt.yaml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := cfg.CleanupChance(); got != tt.want {
				t.Errorf("CleanupChance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColdChanges(t *testing.T) {
	parse := func(s string) *config.Config {
		t.Helper()
		cfg, err := config.Parse([]byte(s))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		return cfg
	}
	old := parse(`version: "1"`)

	hot := parse(`
version: "2"
log_level: debug
rate_limit:
  categories:
    prayer: {max_requests: 9, window: 1h}
`)
	if keys := config.ColdChanges(old, hot); len(keys) != 0 {
		t.Errorf("hot-only edit reported cold keys %v", keys)
	}

	cold := parse(`
version: "1"
rate_limit:
  cleanup_probability: 0
  sweep_interval: 1m
analytics:
  max_events: 50
`)
	got := strings.Join(config.ColdChanges(old, cold), ",")
	want := "rate_limit.cleanup_probability,rate_limit.sweep_interval,analytics"
	if got != want {
		t.Errorf("ColdChanges = %q, want %q", got, want)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg, err := config.Parse([]byte(`
version: "1"
log_level: loud
rate_limit:
  backend: postgres
  categories:
    letter: {max_requests: 0, window: 1h}
    prayer: {max_requests: 5}
analytics:
  retention_basis: forever
  highlight: 'userType =='
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"log_level",
		"postgres_dsn is required",
		"categories.letter: max_requests",
		"categories.prayer: window",
		"retention_basis",
		"analytics.highlight",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_VersionRequired(t *testing.T) {
	cfg, err := config.Parse([]byte(`environment: test`))
	if err != nil {
		t.Fatal(err)
	}
	if err := config.Validate(cfg); err == nil {
		t.Error("missing version accepted")
	}
}

func TestLoader_ReloadCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("version: \"1\"\n")

	l, err := config.NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if l.Path() != path {
		t.Errorf("Path() = %q, want %q", l.Path(), path)
	}
	var seen *config.Config
	l.OnChange(func(c *config.Config) { seen = c })

	write("version: \"2\"\n")
	cfg, err := l.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cfg.Version != "2" || seen != cfg || l.Config() != cfg {
		t.Errorf("reload not propagated: version=%q", cfg.Version)
	}

	write("version: [unclosed\n")
	if _, err := l.Reload(); err == nil {
		t.Error("bad yaml accepted")
	}
	if l.Config().Version != "2" {
		t.Error("failed reload replaced the config")
	}
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := config.NewLoader(path)
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan string, 4)
	l.OnChange(func(c *config.Config) { changed <- c.Version })
	stop, err := l.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("version: \"3\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(3 * time.Second)
	for {
		select {
		case v := <-changed:
			if v == "3" {
				return
			}
		case <-timeout:
			t.Fatal("watcher did not reload")
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, ".env")
	if err := os.WriteFile(f, []byte("BRIDGE_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGE_TEST_DOTENV", "")
	os.Unsetenv("BRIDGE_TEST_DOTENV")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), f); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("BRIDGE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("BRIDGE_TEST_DOTENV = %q", got)
	}
}
