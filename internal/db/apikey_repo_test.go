package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/auth"
	"pulsemetrics/internal/types"
)

func TestAPIKeyRepo_GetByHash_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db)

	createdAt := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	hash := auth.HashKey("pm_live_abc")

	db.On("QueryRow", mock.Anything, sqlContaining("JOIN users u ON u.id = k.user_id"), []any{hash}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "key-1"
			*dest[1].(*string) = "user-1"
			*dest[2].(*types.PlanTier) = types.PlanBusiness
			*dest[3].(*string) = hash
			*dest[6].(*time.Time) = createdAt
			return nil
		}})

	key, err := repo.GetByHash(context.Background(), hash)
	require.NoError(t, err)

	assert.Equal(t, "key-1", key.ID)
	assert.Equal(t, "user-1", key.UserID)
	assert.Equal(t, types.PlanBusiness, key.Plan)
	assert.Nil(t, key.ExpiresAt)
	assert.Nil(t, key.RevokedAt)
	db.AssertExpectations(t)
}

func TestAPIKeyRepo_GetByHash_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByHash(context.Background(), auth.HashKey("pm_missing"))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestAPIKeyRepo_TouchLastUsed(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPIKeyRepo(db)

	at := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	db.On("Exec", mock.Anything, sqlContaining("UPDATE api_keys SET last_used_at"), []any{"key-1", at}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.TouchLastUsed(context.Background(), "key-1", at)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
