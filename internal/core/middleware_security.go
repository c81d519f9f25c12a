package core

import (
	"net"
	"net/http"
	"strings"

	"pulsemetrics/internal/types"
)

// ClientIPMiddleware resolves the client address once per request and stores
// it in the context. Everything downstream -- logging, rate limiting by IP,
// API call logging -- reads the resolved value instead of re-parsing headers.
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := types.WithClientIP(r.Context(), extractClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractClientIP determines the originating client address. Behind a proxy
// the first entry of X-Forwarded-For is the client; the header is only a
// hint, so a value that does not parse as an IP falls back to RemoteAddr.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.Index(xff, ","); idx >= 0 {
			first = xff[:idx]
		}
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xr := r.Header.Get("X-Real-Ip"); xr != "" {
		if net.ParseIP(strings.TrimSpace(xr)) != nil {
			return strings.TrimSpace(xr)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
