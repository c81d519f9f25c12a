// Package ratelimit implements the in-process, per-identity sliding-window
// rate limiter. Each identity carries three concurrent windows (burst 1s,
// minute 60s, day 86400s) that are checked in that order; a request admitted
// past all three increments all three counters together.
//
// The limiter is single-process best-effort: state lives in memory and is not
// shared across server processes.
package ratelimit

import (
	"sync"
	"time"

	"pulsemetrics/internal/types"
)

// Window lengths. These are fixed by the product definition, not configurable.
const (
	burstWindow  = time.Second
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Identity is the rate-limiting subject: an authenticated user or an
// anonymous client IP.
type Identity string

// UserIdentity returns the identity key for an authenticated user.
func UserIdentity(userID string) Identity { return Identity("user:" + userID) }

// IPIdentity returns the identity key for an anonymous client IP.
func IPIdentity(ip string) Identity { return Identity("ip:" + ip) }

// WindowStatus reports one window's ceiling, remaining allowance, and reset
// time. Used to populate X-RateLimit-* response headers.
type WindowStatus struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed bool

	// Denial metadata. LimitType names the first violated window in check
	// order (burst, then minute, then day) -- not necessarily the tightest.
	LimitType  types.RateLimitWindow
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration

	// Minute and Day are populated on every check, allowed or denied, so the
	// response can always carry the standard header family.
	Minute WindowStatus
	Day    WindowStatus
}

// state is the mutable per-identity record. Owned exclusively by the Limiter;
// every read-modify-write happens under the Limiter mutex.
type state struct {
	burstCount  int
	burstReset  time.Time
	minuteCount int
	minuteReset time.Time
	dayCount    int
	dayReset    time.Time
}

// expired reports whether all three reset timestamps are in the past, making
// the record eligible for eviction.
func (s *state) expired(now time.Time) bool {
	return !now.Before(s.burstReset) && !now.Before(s.minuteReset) && !now.Before(s.dayReset)
}

// Limiter holds the shared identity→state map behind a single mutex. The
// coarse lock is deliberate: the correctness requirement is that the
// three-counter read-modify-write is atomic per identity, and one lock over
// the map satisfies that without per-identity bookkeeping.
type Limiter struct {
	mu      sync.Mutex
	states  map[Identity]*state
	enabled bool
	now     func() time.Time
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Disabled constructs the limiter in pass-through mode: every check is
// admitted and no state is kept. The switch is read once at startup; there is
// no runtime toggle.
func Disabled() Option {
	return func(l *Limiter) { l.enabled = false }
}

// New creates an enabled Limiter with an empty state map.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		states:  make(map[Identity]*state),
		enabled: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether one request from identity may proceed under cfg.
// Windows are evaluated burst, then minute, then day; the first violated
// window wins the denial reason. Admission increments all three counters by
// one as a single atomic unit. Check never fails: an unconfigured plan is the
// caller's concern (the catalog degrades it to free before calling here).
func (l *Limiter) Check(identity Identity, cfg types.RateLimitConfig) Result {
	if !l.enabled {
		now := l.now()
		return Result{
			Allowed: true,
			Minute:  WindowStatus{Limit: cfg.RequestsPerMinute, Remaining: cfg.RequestsPerMinute, ResetAt: now.Add(minuteWindow)},
			Day:     WindowStatus{Limit: cfg.RequestsPerDay, Remaining: cfg.RequestsPerDay, ResetAt: now.Add(dayWindow)},
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s, ok := l.states[identity]
	if !ok {
		s = &state{
			burstReset:  now.Add(burstWindow),
			minuteReset: now.Add(minuteWindow),
			dayReset:    now.Add(dayWindow),
		}
		l.states[identity] = s
	}

	// Burst window.
	if !now.Before(s.burstReset) {
		s.burstCount = 0
		s.burstReset = now.Add(burstWindow)
	}
	if s.burstCount >= cfg.BurstLimit {
		return l.deny(s, now, types.WindowBurst, cfg.BurstLimit, s.burstReset, cfg)
	}

	// Minute window.
	if !now.Before(s.minuteReset) {
		s.minuteCount = 0
		s.minuteReset = now.Add(minuteWindow)
	}
	if s.minuteCount >= cfg.RequestsPerMinute {
		return l.deny(s, now, types.WindowMinute, cfg.RequestsPerMinute, s.minuteReset, cfg)
	}

	// Day window.
	if !now.Before(s.dayReset) {
		s.dayCount = 0
		s.dayReset = now.Add(dayWindow)
	}
	if s.dayCount >= cfg.RequestsPerDay {
		return l.deny(s, now, types.WindowDay, cfg.RequestsPerDay, s.dayReset, cfg)
	}

	// Admission always increments all three counters together, even when only
	// one window is near its ceiling.
	s.burstCount++
	s.minuteCount++
	s.dayCount++

	return Result{
		Allowed: true,
		Minute:  windowStatus(cfg.RequestsPerMinute, s.minuteCount, s.minuteReset),
		Day:     windowStatus(cfg.RequestsPerDay, s.dayCount, s.dayReset),
	}
}

// deny builds a denial Result. Counters are left unchanged: a denied request
// must not consume allowance.
func (l *Limiter) deny(
	s *state,
	now time.Time,
	window types.RateLimitWindow,
	limit int,
	resetAt time.Time,
	cfg types.RateLimitConfig,
) Result {
	retryAfter := resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		LimitType:  window,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
		Minute:     windowStatus(cfg.RequestsPerMinute, s.minuteCount, s.minuteReset),
		Day:        windowStatus(cfg.RequestsPerDay, s.dayCount, s.dayReset),
	}
}

func windowStatus(limit, count int, resetAt time.Time) WindowStatus {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return WindowStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}
}

// Sweep evicts every identity whose burst, minute, and day resets are all in
// the past, and returns the number evicted. It is a passive maintenance
// operation: nothing triggers it automatically, an external scheduler must
// invoke it periodically.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, s := range l.states {
		if s.expired(now) {
			delete(l.states, id)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked identities. Used by the maintenance
// endpoint and tests.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}
