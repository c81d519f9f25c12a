package core

import (
	"context"

	"pulsemetrics/internal/types"
)

// Authenticator decouples the HTTP layer from the specific auth mechanism,
// allowing easy mocking in tests. The production implementation validates
// tokens against the account service and returns the user's current plan
// tier on every request so plan changes take effect immediately.
type Authenticator interface {
	// ResolveToken resolves a bearer token to an Actor.
	//
	// Distinct error codes:
	//   - ErrCodeAuthTokenInvalid if the token is malformed, unknown, or revoked.
	//   - ErrCodeAuthTokenExpired if the token exists but has expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
