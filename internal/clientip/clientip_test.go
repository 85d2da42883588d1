package clientip_test

import (
	"net/http/httptest"
	"testing"

	"github.com/thebridgeproject/bridge/internal/clientip"
)

func TestFromRequest(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name: "no headers",
			want: "127.0.0.1",
		},
		{
			name:    "forwarded-for single",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:    "1.2.3.4",
		},
		{
			name:    "forwarded-for chain takes client",
			headers: map[string]string{"X-Forwarded-For": " 1.2.3.4 , 10.0.0.1, 10.0.0.2"},
			want:    "1.2.3.4",
		},
		{
			name: "forwarded-for wins over real-ip",
			headers: map[string]string{
				"X-Forwarded-For": "1.2.3.4",
				"X-Real-IP":       "5.6.7.8",
			},
			want: "1.2.3.4",
		},
		{
			name: "real-ip wins over cloudflare",
			headers: map[string]string{
				"X-Real-IP":        "5.6.7.8",
				"CF-Connecting-IP": "9.9.9.9",
			},
			want: "5.6.7.8",
		},
		{
			name:    "cloudflare only",
			headers: map[string]string{"CF-Connecting-IP": "9.9.9.9"},
			want:    "9.9.9.9",
		},
		{
			name: "blank forwarded-for falls through",
			headers: map[string]string{
				"X-Forwarded-For": " , 10.0.0.1",
				"X-Real-IP":       "5.6.7.8",
			},
			want: "5.6.7.8",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := clientip.FromRequest(r); got != tc.want {
				t.Errorf("FromRequest() = %q, want %q", got, tc.want)
			}
		})
	}
}
