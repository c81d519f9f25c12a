package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pulsemetrics/internal/auth"
	"pulsemetrics/internal/types"
)

// APIKeyRepo provides data access for the api_keys table. It implements
// auth.KeyStore.
type APIKeyRepo struct {
	db DBTX
}

// NewAPIKeyRepo creates a new APIKeyRepo backed by the given database
// connection (pool or transaction).
func NewAPIKeyRepo(db DBTX) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

// GetByHash returns the key record whose key_hash matches. The user's
// current plan tier is joined in from users so resolution always reflects
// the latest plan.
func (r *APIKeyRepo) GetByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var k auth.APIKey
	err := r.db.QueryRow(ctx,
		`SELECT k.id, k.user_id, u.plan, k.key_hash, k.expires_at, k.revoked_at, k.created_at
		 FROM api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.key_hash = $1`,
		hash,
	).Scan(&k.ID, &k.UserID, &k.Plan, &k.Hash, &k.ExpiresAt, &k.RevokedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no matching API key", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up API key", err)
	}
	return &k, nil
}

// Insert stores a new key record. The plan is not stored on the key; it is
// joined in from users at resolution time.
func (r *APIKeyRepo) Insert(ctx context.Context, key *auth.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		key.ID, key.UserID, key.Hash, key.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert API key", err)
	}
	return nil
}

// TouchLastUsed stamps the key's last_used_at.
func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`,
		keyID, at.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last use", err)
	}
	return nil
}
