package db

import (
	"context"
	"time"

	"pulsemetrics/internal/types"
)

// Store bundles the usage repositories over a single connection pool and
// provides the cross-table operations that must run in one transaction.
type Store struct {
	db DB

	DailyUsage  *DailyUsageRepo
	APICallLogs *APICallLogRepo
	Monthly     *MonthlySummaryRepo
}

// NewStore creates a Store and its repositories backed by the given pool.
func NewStore(db DB) *Store {
	return &Store{
		db:          db,
		DailyUsage:  NewDailyUsageRepo(db),
		APICallLogs: NewAPICallLogRepo(db),
		Monthly:     NewMonthlySummaryRepo(db),
	}
}

// LogAPICall appends an api_call_logs row and increments the day's api_calls
// counter in a single transaction, so the audit log and the counters can
// never disagree. The day is derived from the entry's created_at (or now,
// when unset) in UTC.
func (s *Store) LogAPICall(ctx context.Context, entry *types.APICallLog, platform string) (*types.DailyUsage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	day := entry.CreatedAt
	if day.IsZero() {
		day = time.Now().UTC()
	}

	logs := NewAPICallLogRepo(tx)
	if err := logs.Insert(ctx, entry); err != nil {
		return nil, err
	}

	daily := NewDailyUsageRepo(tx)
	usage, err := daily.Increment(ctx, entry.UserID, day, types.UsageAPICall, 1, platform)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit api call log", err)
	}
	return usage, nil
}

// List returns a page of the user's api_call_logs, newest first.
func (s *Store) List(ctx context.Context, userID string, params APICallLogListParams) ([]types.APICallLog, types.PageInfo, error) {
	return s.APICallLogs.List(ctx, userID, params)
}
