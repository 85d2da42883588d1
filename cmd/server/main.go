package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thebridgeproject/bridge/internal/api"
	"github.com/thebridgeproject/bridge/internal/archive"
	"github.com/thebridgeproject/bridge/internal/config"
	"github.com/thebridgeproject/bridge/internal/feed"
	"github.com/thebridgeproject/bridge/internal/ingest"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
	"github.com/thebridgeproject/bridge/internal/submission"
)

func main() {
	cfgPath := flag.String("config", "configs/bridge.yaml", "Path to YAML config")
	envFile := flag.String("env-file", ".env", "Optional dotenv file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Level())
	slog.Info("config loaded", "path", loader.Path(), "version", cfg.Version, "environment", cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	checks := map[string]func(context.Context) error{}

	// ── Rate limit store ──────────────────────────────────────────────────────
	var counters ratelimit.Store
	switch cfg.RateLimit.Backend {
	case config.BackendPostgres:
		pg, err := ratelimit.ConnectPostgres(ctx, cfg.RateLimit.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect rate limit store", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		checks["postgres"] = pg.Ready
		counters = pg
	default:
		counters = ratelimit.NewMemoryStore()
	}
	limits := ratelimit.NewRegistry(counters, cfg.Rules(), ratelimit.Options{
		CleanupProbability: cfg.CleanupChance(),
		Logger:             logger,
	})
	slog.Info("rate limits configured", "backend", cfg.RateLimit.Backend, "categories", limits.Categories())
	if cfg.RateLimit.SweepInterval > 0 {
		go limits.RunJanitor(ctx, cfg.RateLimit.SweepInterval)
	}

	// ── Journey store & archive ───────────────────────────────────────────────
	jcfg, err := cfg.Journey()
	if err != nil {
		slog.Error("invalid analytics config", "err", err)
		os.Exit(1)
	}
	store := journey.NewStore(jcfg, time.Now)

	var arch ingest.Archiver
	if cfg.Archive.Path != "" {
		db, err := archive.OpenSQLite(ctx, cfg.Archive.Path)
		if err != nil {
			slog.Error("failed to open archive", "path", cfg.Archive.Path, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		recent, err := db.Recent(ctx, time.Now().Add(-jcfg.SessionRetention), cfg.Archive.RestoreLimit)
		if err != nil {
			slog.Warn("warm start skipped", "err", err)
		} else {
			store.Restore(recent)
			slog.Info("journey store restored", "events", len(recent))
		}
		checks["archive"] = db.Ping
		arch = db
	}

	pipe := ingest.New(ctx, store, arch, ingest.Config{
		Workers:      cfg.Ingest.Workers,
		QueueDepth:   cfg.Ingest.QueueDepth,
		WriteTimeout: cfg.Ingest.WriteTimeout,
	}, time.Now, logger)

	hub := feed.NewHub(store, feed.Options{
		ClientBuffer:   cfg.Feed.ClientBuffer,
		AllowedOrigins: cfg.Feed.AllowedOrigins,
		Logger:         logger,
	})
	hub.Start(ctx)

	book := submission.NewBook(cfg.Submissions.MaxPerKind, time.Now)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		limits.Configure(newCfg.Rules())
		level.Set(newCfg.Level())
		slog.Info("config hot-reloaded", "version", newCfg.Version, "categories", limits.Categories())
		if keys := config.ColdChanges(cfg, newCfg); len(keys) > 0 {
			slog.Warn("config changes need a restart to apply", "keys", keys)
		}
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Loader:       loader,
		Limits:       limits,
		Store:        store,
		Pipeline:     pipe,
		Book:         book,
		Feed:         hub,
		Checks:       checks,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop janitor and live feed
	pipe.Shutdown()
	slog.Info("goodbye")
}
