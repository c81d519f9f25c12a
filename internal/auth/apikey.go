// Package auth resolves API bearer tokens to request actors.
//
// PulseMetrics clients authenticate with long-lived API keys of the form
// "pm_<random>". Only the SHA-256 hash of a key is stored; the raw key is
// shown once at creation and never persisted. Every resolution returns the
// user's current plan tier, so a plan change takes effect on the next
// request without invalidating outstanding keys.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"pulsemetrics/internal/types"
)

// keyPrefix is the required prefix of every PulseMetrics API key.
const keyPrefix = "pm_"

// APIKey is a stored credential record. Hash is hex-encoded SHA-256 of the
// raw key.
type APIKey struct {
	ID        string
	UserID    string
	Plan      types.PlanTier
	Hash      string
	ExpiresAt *time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// KeyStore is the data access needed by the authenticator.
// Implemented by db.APIKeyRepo.
type KeyStore interface {
	// GetByHash returns the key record matching the hex-encoded SHA-256
	// hash, or an ErrCodeNotFoundUser AppError when no key matches.
	GetByHash(ctx context.Context, hash string) (*APIKey, error)

	// TouchLastUsed records that the key was used. Failures are advisory.
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// APIKeyAuthenticator resolves bearer tokens against the api_keys table.
type APIKeyAuthenticator struct {
	keys   KeyStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an APIKeyAuthenticator.
type Option func(*APIKeyAuthenticator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *APIKeyAuthenticator) { a.now = now }
}

// NewAPIKeyAuthenticator creates an authenticator backed by the given store.
func NewAPIKeyAuthenticator(keys KeyStore, logger *slog.Logger, opts ...Option) *APIKeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &APIKeyAuthenticator{
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ResolveToken implements core.Authenticator.
//
// A malformed, unknown, or revoked token resolves to ErrCodeAuthTokenInvalid;
// an expired one to ErrCodeAuthTokenExpired. The two cases are deliberately
// distinct so clients can tell rotation from revocation.
func (a *APIKeyAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if !strings.HasPrefix(token, keyPrefix) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed API key", nil)
	}

	key, err := a.keys.GetByHash(ctx, HashKey(token))
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown API key", nil)
		}
		return nil, err
	}

	if key.RevokedAt != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "API key has been revoked", nil)
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(a.now()) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "API key has expired", nil)
	}

	// Last-used tracking is best effort; a failed touch must not fail the
	// request.
	if err := a.keys.TouchLastUsed(ctx, key.ID, a.now()); err != nil {
		a.logger.WarnContext(ctx, "failed to record api key use", "key_id", key.ID, "error", err)
	}

	return &types.Actor{UserID: key.UserID, Plan: key.Plan}, nil
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key. Hashing is
// unsalted so lookups stay a single indexed equality; keys carry enough
// entropy that precomputation is not a concern.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
