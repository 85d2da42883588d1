package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thebridgeproject/bridge/internal/ingest"
	"github.com/thebridgeproject/bridge/internal/journey"
)

const maxBatchSize = 100

// POST /api/analytics/journey — track one journey event.
func (h *Handler) trackJourney(w http.ResponseWriter, r *http.Request) {
	var ev journey.Event
	if status, err := decodeJSON(r, &ev); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if ev.UserAgent == "" {
		ev.UserAgent = r.UserAgent()
	}

	stored, err := h.Pipeline.Track(r.Context(), ev, ingest.PathSingle)
	if err != nil {
		var mf *journey.MissingFieldsError
		if errors.As(err, &mf) {
			writeError(w, http.StatusBadRequest, mf.Error())
			return
		}
		h.Logger.Error("track journey event", "err", err)
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"eventId": stored.ID,
		"message": "Journey event tracked successfully",
	})
}

// GET /api/analytics/journey — aggregated metrics snapshot.
func (h *Handler) journeyMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.SessionMetrics())
}

type batchRequest struct {
	SessionID string          `json:"sessionId"`
	Events    []journey.Event `json:"events"`
	Metrics   map[string]any  `json:"metrics,omitempty"`
}

// POST /api/analytics/batch — track a client-side batch.
func (h *Handler) trackBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if status, err := decodeJSON(r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	if len(req.Events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(req.Events), maxBatchSize))
		return
	}
	ua := r.UserAgent()
	for i := range req.Events {
		if req.Events[i].UserAgent == "" {
			req.Events[i].UserAgent = ua
		}
	}

	res := h.Pipeline.TrackBatch(r.Context(), req.SessionID, req.Events)
	if len(req.Metrics) > 0 {
		h.Logger.Debug("client metrics", "session_id", req.SessionID, "metrics", req.Metrics)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": res.Processed,
		"rejected":  res.Rejected,
		"sessionId": req.SessionID,
		"jobId":     res.JobID,
	})
}

// GET /api/analytics/events?window=1h — events inside the window.
func (h *Handler) eventsInRange(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw))
			return
		}
		window = d
	}
	evs := h.Store.EventsByTimeRange(window)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"windowMs": window.Milliseconds(),
		"count":    len(evs),
		"events":   evs,
	})
}

// GET /api/analytics/sessions — retained sessions, most recent first.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.Store.ActiveSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// GET /api/analytics/sessions/{id} — one session bucket.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, ok := h.Store.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": id,
		"session":   b,
	})
}
