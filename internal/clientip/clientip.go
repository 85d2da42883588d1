package clientip

import (
	"net/http"
	"strings"
)

// Fallback is returned when no proxy header carries a client address.
const Fallback = "127.0.0.1"

// headers are consulted in order; the first non-empty value wins.
// They are set by the reverse proxy/CDN in front of the service and are
// trusted as-is.
var headers = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// FromRequest derives the client identifier used to key rate limits.
func FromRequest(r *http.Request) string {
	return FromHeader(r.Header)
}

// FromHeader is FromRequest for a bare header map.
func FromHeader(h http.Header) string {
	for _, name := range headers {
		v := h.Get(name)
		if v == "" {
			continue
		}
		// X-Forwarded-For is "client, proxy1, proxy2".
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return Fallback
}
