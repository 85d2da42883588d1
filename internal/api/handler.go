package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thebridgeproject/bridge/internal/config"
	"github.com/thebridgeproject/bridge/internal/ingest"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
	"github.com/thebridgeproject/bridge/internal/submission"
)

// Deps are the collaborators the HTTP layer needs. Loader, Feed and
// Checks are optional.
type Deps struct {
	Loader   *config.Loader
	Limits   *ratelimit.Registry
	Store    *journey.Store
	Pipeline *ingest.Pipeline
	Book     *submission.Book
	Feed     http.Handler
	// Checks are run by /readyz; any error marks the service unready.
	Checks       map[string]func(context.Context) error
	MaxBodyBytes int64
	Now          func() time.Time
	Logger       *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &Handler{Deps: d, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /api/analytics/journey", h.trackJourney)
	h.mux.HandleFunc("GET /api/analytics/journey", h.journeyMetrics)
	h.mux.HandleFunc("POST /api/analytics/batch", h.trackBatch)
	h.mux.HandleFunc("GET /api/analytics/events", h.eventsInRange)
	h.mux.HandleFunc("GET /api/analytics/sessions", h.listSessions)
	h.mux.HandleFunc("GET /api/analytics/sessions/{id}", h.getSession)
	if d.Feed != nil {
		h.mux.Handle("GET /api/analytics/live", d.Feed)
	}

	h.mux.HandleFunc("POST /api/letters/generate", h.protected(submission.KindLetter))
	h.mux.HandleFunc("POST /api/prayers", h.protected(submission.KindPrayer))
	h.mux.HandleFunc("POST /api/witness", h.protected(submission.KindWitness))
	h.mux.HandleFunc("POST /api/contact", h.protected(submission.KindContact))
	h.mux.HandleFunc("GET /api/ratelimit/{category}", h.rateLimitStatus)
	h.mux.HandleFunc("GET /api/submissions/stats", h.submissionStats)

	if d.Loader != nil {
		h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	}
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(d.Logger, recoverMiddleware(d.Logger, bodyLimit(d.MaxBodyBytes, h.mux)))
}

// POST /v1/config/reload — re-read the config file and apply it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Loader.Reload()
	if err != nil {
		h.Logger.Error("config reload failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"reloaded":   true,
		"version":    cfg.Version,
		"categories": h.Limits.Categories(),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the archive queue is >80% full or a check fails.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Pipeline.QueueUtilization()
	body := map[string]any{"queue_utilization": util}
	status := http.StatusOK
	body["status"] = "ready"
	if util > 0.8 {
		status = http.StatusServiceUnavailable
		body["status"] = "overloaded"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["failed"] = failed
	}
	writeJSON(w, status, body)
}
