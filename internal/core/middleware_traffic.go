package core

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pulsemetrics/internal/metrics"
	"pulsemetrics/internal/ratelimit"
	"pulsemetrics/internal/types"
)

// limiterSkipPaths are administrative paths the rate limiter never touches,
// regardless of identity or plan. The webhook path is here because Stripe
// retries share egress IPs; throttling them as anonymous traffic would drop
// legitimate events.
var limiterSkipPaths = map[string]bool{
	"/health":          true,
	"/docs":            true,
	"/metrics":         true,
	"/webhooks/stripe": true,
}

// callLogTimeout bounds the background write of one api_call_logs row.
const callLogTimeout = 5 * time.Second

// RateLimit enforces the per-identity sliding windows (burst, minute, day)
// before requests reach handlers.
//
// Identity resolution: an authenticated Actor is keyed by user ID with that
// user's plan windows; an anonymous request is keyed by client IP with the
// restrictive anonymous windows.
//
// On every response, allowed or denied, the middleware sets:
//   - X-RateLimit-Limit / -Remaining / -Reset: the minute window.
//   - X-RateLimit-Limit-Day / -Remaining-Day / -Reset-Day: the day window.
//
// When denied it also sets Retry-After (seconds until the violated window
// resets, floored at 0) and writes a 429 JSON error naming the window.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiterSkipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		var identity ratelimit.Identity
		var cfg types.RateLimitConfig
		if actor, ok := types.GetActor(r.Context()); ok {
			identity = ratelimit.UserIdentity(actor.UserID)
			cfg = s.Catalog.RateLimitConfig(actor.Plan)
		} else {
			identity = ratelimit.IPIdentity(types.GetClientIP(r.Context()))
			cfg = s.Catalog.AnonymousRateLimitConfig()
		}

		result := s.Limiter.Check(identity, cfg)
		setRateLimitHeaders(w, result)

		if !result.Allowed {
			metrics.RateLimitDecisions.WithLabelValues("denied", string(result.LimitType)).Inc()
			s.Logger.Warn("rate limit exceeded",
				slog.String("identity", string(identity)),
				slog.String("window", string(result.LimitType)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			resp := APIErrorResponse{
				Error: ErrorDetail{
					Code:    string(types.ErrCodeRateLimit),
					Message: "Rate limit exceeded for the " + string(result.LimitType) + " window. Please retry after the reset time.",
					Details: map[string]any{
						"limit_type": result.LimitType,
						"limit":      result.Limit,
						"reset_at":   result.ResetAt.Unix(),
					},
					RequestID: types.GetRequestID(r.Context()),
				},
			}
			JSON(w, r, http.StatusTooManyRequests, resp)
			return
		}

		metrics.RateLimitDecisions.WithLabelValues("allowed", "").Inc()
		next.ServeHTTP(w, r)
	})
}

// setRateLimitHeaders writes the standard X-RateLimit-* header family for
// the minute and day windows.
func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Minute.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Minute.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.Minute.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Limit-Day", strconv.Itoa(result.Day.Limit))
	h.Set("X-RateLimit-Remaining-Day", strconv.Itoa(result.Day.Remaining))
	h.Set("X-RateLimit-Reset-Day", strconv.FormatInt(result.Day.ResetAt.Unix(), 10))
}

// CallLogger records one api_call_logs row (and the api_calls counter, in
// the same transaction) per completed authenticated request. The write
// happens off the request path: accounting must never add latency or turn a
// successful response into a failure, so errors are logged and dropped.
//
// Anonymous requests and skip paths are not logged. A nil Usage service
// (tests) disables logging entirely.
func (s *Server) CallLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, authed := types.GetActor(r.Context())
		if s.Usage == nil || !authed || limiterSkipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rc, r)

		entry := &types.APICallLog{
			UserID:         actor.UserID,
			Endpoint:       r.URL.Path,
			Method:         r.Method,
			StatusCode:     rc.statusCode,
			ResponseTimeMS: int(time.Since(start).Milliseconds()),
			IPAddress:      types.GetClientIP(r.Context()),
			UserAgent:      r.UserAgent(),
			RequestID:      types.GetRequestID(r.Context()),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callLogTimeout)
			defer cancel()
			if _, err := s.Usage.LogAPICall(ctx, entry, ""); err != nil {
				s.Logger.Error("api call accounting failed",
					slog.String("user_id", entry.UserID),
					slog.String("endpoint", entry.Endpoint),
					slog.String("error", err.Error()),
				)
				return
			}
			metrics.UsageIncrements.WithLabelValues(string(types.UsageAPICall)).Inc()
		}()
	})
}
