package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"pulsemetrics/internal/types"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.1:54321",
			want:       "192.0.2.1",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.3"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for garbage falls back",
			remoteAddr: "192.0.2.1:54321",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip"},
			want:       "192.0.2.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "192.0.2.1:54321",
			headers:    map[string]string{"X-Real-Ip": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "xff wins over x-real-ip",
			remoteAddr: "192.0.2.1:54321",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.7",
				"X-Real-Ip":       "203.0.113.9",
			},
			want: "203.0.113.7",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, extractClientIP(req))
		})
	}
}

func TestClientIPMiddleware_StoresInContext(t *testing.T) {
	var seen string
	handler := ClientIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", seen)
}
