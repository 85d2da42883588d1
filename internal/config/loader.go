package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
)

// Environment variables that override file values.
const (
	EnvAddr        = "BRIDGE_ADDR"
	EnvPostgresDSN = "BRIDGE_POSTGRES_DSN"
	EnvArchivePath = "BRIDGE_ARCHIVE_PATH"
	EnvEnvironment = "BRIDGE_ENV"
	EnvLogLevel    = "BRIDGE_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the config when the file changes. The parent directory
// is watched so editors that replace the file by rename are noticed.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous config", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvAddr, &cfg.Server.Addr},
		{EnvPostgresDSN, &cfg.RateLimit.PostgresDSN},
		{EnvArchivePath, &cfg.Archive.Path},
		{EnvEnvironment, &cfg.Environment},
		{EnvLogLevel, &cfg.LogLevel},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok {
			*o.dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 1 << 20
	}

	rl := &cfg.RateLimit
	if rl.Backend == "" {
		rl.Backend = BackendMemory
	}
	if rl.CleanupProbability == nil {
		p := ratelimit.DefaultCleanupProbability
		rl.CleanupProbability = &p
	}
	// Named categories override the built-in ones; the rest keep defaults.
	rules := ratelimit.DefaultRules()
	for name, r := range rl.Categories {
		rules[name] = r
	}
	rl.Categories = rules

	def := journey.DefaultConfig()
	a := &cfg.Analytics
	if a.MaxEvents == 0 {
		a.MaxEvents = def.MaxEvents
	}
	if a.SessionRetention == 0 {
		a.SessionRetention = def.SessionRetention
	}
	if a.RetentionBasis == "" {
		a.RetentionBasis = def.RetentionBasis
	}
	if a.MetricsWindow == 0 {
		a.MetricsWindow = def.MetricsWindow
	}
	if a.RecentLimit == 0 {
		a.RecentLimit = def.RecentLimit
	}
	if a.Highlight == "" {
		a.Highlight = journey.DefaultHighlight
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueDepth == 0 {
		cfg.Ingest.QueueDepth = 1000
	}
	if cfg.Ingest.WriteTimeout == 0 {
		cfg.Ingest.WriteTimeout = 5 * time.Second
	}
	if cfg.Archive.RestoreLimit == 0 {
		cfg.Archive.RestoreLimit = a.MaxEvents
	}
	if cfg.Feed.ClientBuffer == 0 {
		cfg.Feed.ClientBuffer = 100
	}
	if cfg.Submissions.MaxPerKind == 0 {
		cfg.Submissions.MaxPerKind = 500
	}
}
