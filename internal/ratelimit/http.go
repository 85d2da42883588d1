package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// SetHeaders writes the X-RateLimit-* headers for res.
// X-RateLimit-Reset is the window end in Unix seconds.
func SetHeaders(w http.ResponseWriter, res Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.RemainingRequests))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
}

type denyBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"` // seconds
	ResetTime  string `json:"resetTime"`
}

// Deny answers a rejected request with 429.
func Deny(w http.ResponseWriter, res Result, now time.Time) {
	wait := res.RetryAfter(now)
	secs := int64(math.Ceil(wait.Seconds()))

	SetHeaders(w, res)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(denyBody{
		Success:    false,
		Error:      "Rate limit exceeded. Please try again in " + HumanizeWait(wait) + ".",
		RetryAfter: secs,
		ResetTime:  res.ResetTime.UTC().Format(time.RFC3339),
	})
}

// HumanizeWait renders d rounded up to whole seconds, minutes or hours.
func HumanizeWait(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	switch {
	case secs < 60:
		return plural(max(secs, 1), "second")
	case secs < 3600:
		return plural((secs+59)/60, "minute")
	default:
		return plural((secs+3599)/3600, "hour")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
