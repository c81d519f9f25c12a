package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"pulsemetrics/internal/types"
)

// authPublicPaths lists URL paths that never require authentication.
// Webhooks authenticate by payload signature instead of bearer token.
var authPublicPaths = map[string]bool{
	"/health":          true,
	"/docs":            true,
	"/metrics":         true,
	"/webhooks/stripe": true,
}

// AuthMiddleware resolves the request identity.
//
// A request carrying an Authorization bearer token is resolved to an Actor
// (user ID plus plan tier) via the Authenticator and the Actor is injected
// into the context. A request with no Authorization header proceeds
// anonymously: the rate limiter keys it by client IP and handlers that need
// an identity reject it through RequireActor.
//
// Resolution failures return 401 with distinct codes:
//   - auth_token_invalid: malformed, unknown, or revoked token.
//   - auth_token_expired: the token exists but has expired.
//
// A nil Authenticator (tests that don't inject one) passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Anonymous request.
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleAuthError maps an Authenticator error onto a 401 response,
// preserving the distinct token-invalid and token-expired codes.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	s.Logger.Error("token resolution failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
}

// writeAuthError writes a 401 response with the given code and message.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}

// extractBearerToken parses an Authorization header value. Returns the empty
// string when the header is not a well-formed Bearer credential.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// RequireActor extracts the authenticated Actor from the request context,
// writing a 401 response and returning ok=false when the request is
// anonymous. Handlers for per-user surfaces call this first.
func RequireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		resp := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeAuthTokenMissing),
				Message:   "Authentication required",
				RequestID: types.GetRequestID(r.Context()),
			},
		}
		JSON(w, r, http.StatusUnauthorized, resp)
		return types.Actor{}, false
	}
	return actor, true
}
