package core

import (
	"context"
	"sync"

	"pulsemetrics/internal/types"
)

// MockAuthenticator is a configurable Authenticator for tests. It maps
// tokens to Actors and records every resolution call.
type MockAuthenticator struct {
	mu sync.Mutex

	// Actors maps token strings to the Actor they resolve to.
	Actors map[string]*types.Actor

	// Err, when set, is returned for every resolution attempt.
	Err error

	// Calls records the tokens passed to ResolveToken, in order.
	Calls []string
}

// ResolveToken implements Authenticator.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	actor, ok := m.Actors[token]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
	}
	return actor, nil
}

// MockHealthProbe is a HealthProbe with a fixed name and result.
type MockHealthProbe struct {
	ProbeName string
	Result    error

	// Block, when non-nil, is closed to release a blocked Check call. Used
	// to exercise the health handler's timeout path.
	Block chan struct{}
}

// Name implements HealthProbe.
func (m *MockHealthProbe) Name() string { return m.ProbeName }

// Check implements HealthProbe.
func (m *MockHealthProbe) Check(ctx context.Context) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Result
}
