package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/thebridgeproject/bridge/internal/clientip"
	"github.com/thebridgeproject/bridge/internal/ingest"
	"github.com/thebridgeproject/bridge/internal/journey"
	"github.com/thebridgeproject/bridge/internal/ratelimit"
	"github.com/thebridgeproject/bridge/internal/submission"
)

var actionMessages = map[submission.Kind]string{
	submission.KindLetter:  "Letter generated successfully",
	submission.KindPrayer:  "Prayer received",
	submission.KindWitness: "Thank you for sharing your story",
	submission.KindContact: "Message sent successfully",
}

// protected serves a form endpoint guarded by the rate limit category of
// the same name. The quota is consumed before the body is read.
func (h *Handler) protected(kind submission.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := clientip.FromRequest(r)
		res, err := h.Limits.Limit(r.Context(), string(kind), id)
		if err != nil {
			h.Logger.Error("rate limit category missing", "category", kind, "err", err)
			writeError(w, http.StatusInternalServerError, internalError)
			return
		}
		if !res.Allowed {
			ratelimit.Deny(w, res, h.Now())
			return
		}
		ratelimit.SetHeaders(w, res)

		var sub submission.Submission
		if status, err := decodeJSON(r, &sub); err != nil {
			writeError(w, status, err.Error())
			return
		}
		sub.Kind = kind
		saved, err := h.Book.Submit(sub)
		if err != nil {
			if errors.Is(err, submission.ErrInvalid) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Logger.Error("submission failed", "kind", kind, "err", err)
			writeError(w, http.StatusInternalServerError, internalError)
			return
		}
		h.trackAction(r, saved, id)

		body := map[string]any{
			"success":   true,
			"id":        saved.ID,
			"message":   actionMessages[kind],
			"rateLimit": res.Summary(),
			"remaining": res.RemainingRequests,
			"resetTime": res.ResetTime.UTC().Format(time.RFC3339),
		}
		if saved.Draft != "" {
			body["letter"] = saved.Draft
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (h *Handler) trackAction(r *http.Request, s submission.Submission, client string) {
	session := s.SessionID
	if session == "" {
		session = "client:" + client
	}
	userType := s.UserType
	if userType == "" {
		userType = "visitor"
	}
	_, err := h.Pipeline.Track(r.Context(), journey.Event{
		EventType: s.Kind.EventType(),
		UserType:  userType,
		SessionID: session,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"submissionId": s.ID},
	}, ingest.PathAction)
	if err != nil {
		h.Logger.Warn("action event not tracked", "kind", s.Kind, "err", err)
	}
}

// GET /api/ratelimit/{category} — the caller's quota, without consuming it.
func (h *Handler) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	l, err := h.Limits.Get(category)
	if err != nil {
		if errors.Is(err, ratelimit.ErrUnknownCategory) {
			writeError(w, http.StatusNotFound, "unknown rate limit category "+category)
			return
		}
		writeError(w, http.StatusInternalServerError, internalError)
		return
	}
	res, err := l.Status(r.Context(), clientip.FromRequest(r))
	if err != nil {
		h.Logger.Error("rate limit status", "category", category, "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limit store unavailable")
		return
	}
	ratelimit.SetHeaders(w, res)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"category":      category,
		"allowed":       res.Allowed,
		"limit":         res.Limit,
		"remaining":     res.RemainingRequests,
		"resetTime":     res.ResetTime.UTC().Format(time.RFC3339),
		"windowSeconds": int64(l.Rule().Window.Seconds()),
	})
}

// GET /api/submissions/stats — stored submissions per kind. Contents stay
// private; only counts leave the process.
func (h *Handler) submissionStats(w http.ResponseWriter, r *http.Request) {
	counts := make(map[submission.Kind]int, len(submission.Kinds()))
	total := 0
	for _, k := range submission.Kinds() {
		n := h.Book.Count(k)
		counts[k] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"counts":  counts,
		"total":   total,
	})
}
