// Package external provides the anti-corruption layer between PulseMetrics
// domain logic and third-party vendor APIs. All outbound HTTP calls are routed
// through the BaseClient, which enforces consistent resilience patterns:
// circuit breaking, retries with exponential backoff, trace propagation, and
// error mapping.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"pulsemetrics/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds how often and how long the BaseClient retries a
// transient upstream failure.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns sensible defaults for external API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker, bounded retries
// and trace propagation. Provider clients (Stripe) build on it so every
// vendor call shares the same resilience behavior.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleepFn   func(time.Duration)
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) BaseClientOption {
	return func(c *BaseClient) {
		c.policy = p
	}
}

// WithBreaker substitutes a caller-provided circuit breaker, letting
// several clients share one breaker or tests supply a pre-tripped one.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient named after the upstream it calls.
// The name labels the circuit breaker; the default breaker opens after
// five consecutive failures and probes a single request after 30s.
func NewBaseClient(httpClient *http.Client, name, userAgent string, opts ...BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client:    httpClient,
		policy:    DefaultRetryPolicy(),
		userAgent: userAgent,
		sleepFn:   time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}

	if bc.breaker == nil {
		bc.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		})
	}

	return bc
}

// Do executes the request through the breaker with retries on 429 and 5xx,
// honoring Retry-After. The trace ID from the context and the client's
// User-Agent are stamped onto the request. Responses the upstream answered
// conclusively (2xx/3xx, 4xx other than 429) come back as-is with the body
// open; exhausted retries and an open breaker surface as *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Retries replay the request, so the body has to be snapshotted up
	// front. Bodyless requests (GET, DELETE) skip this.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.policy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.send(req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		last := attempt == attempts-1
		if resp != nil {
			if last {
				lastResp = resp
			} else {
				resp.Body.Close()
			}
		}

		if breakerRejected(err) {
			// The breaker already decided the upstream is down; more
			// attempts would only be rejected too.
			break
		}
		if resp != nil && !retryable(resp.StatusCode) {
			return resp, nil
		}
		if !last {
			c.sleepFn(c.retryDelay(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// send runs one attempt through the breaker. Rate-limit and server-error
// statuses count as breaker failures so a degraded upstream trips it.
func (c *BaseClient) send(req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if retryable(resp.StatusCode) {
			return resp, fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return resp, nil
	})
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// retryDelay computes the wait before the next attempt. An upstream
// Retry-After wins when present (seconds or HTTP-date, clamped to MaxWait);
// otherwise exponential backoff with full jitter over [MinWait, MaxWait].
func (c *BaseClient) retryDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if after := resp.Header.Get("Retry-After"); after != "" {
			if seconds, err := strconv.Atoi(after); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.policy.MaxWait)
			}
			if t, err := http.ParseTime(after); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.policy.MinWait
				}
				return min(wait, c.policy.MaxWait)
			}
		}
	}

	ceil := float64(c.policy.MinWait) * math.Pow(2, float64(attempt))
	ceil = math.Min(ceil, float64(c.policy.MaxWait))
	floor := float64(c.policy.MinWait)
	if ceil <= floor {
		return c.policy.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceil-floor))
}

// mapError translates HTTP-level failures into domain-level AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if breakerRejected(err) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; upstream service unavailable",
			err,
		)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				"upstream rate limit exceeded",
				err,
			)
		case resp.StatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode),
				err,
			)
		}
	}

	// Network-level failure: DNS, connect timeout, reset.
	return types.NewAppError(
		types.ErrCodeInternalUnexpected,
		"upstream request failed",
		err,
	)
}
