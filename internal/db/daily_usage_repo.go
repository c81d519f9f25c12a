package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pulsemetrics/internal/types"
)

// dailyUsageColumns is the select list shared by every daily_usage read.
const dailyUsageColumns = `user_id, date, api_calls, analyses_run, reports_generated,
	       scheduled_posts, ai_generations, platform_usage, created_at, updated_at`

// DailyUsageRepo provides data access for the daily_usage table.
// Rows are keyed by (user_id, date); one row accumulates all counters for a
// user's calendar day (UTC).
type DailyUsageRepo struct {
	db DBTX
}

// NewDailyUsageRepo creates a new DailyUsageRepo backed by the given
// database connection (pool or transaction).
func NewDailyUsageRepo(db DBTX) *DailyUsageRepo {
	return &DailyUsageRepo{db: db}
}

// GetOrCreate returns the daily usage row for the given user and date,
// inserting a zeroed row first if none exists. The insert uses
// ON CONFLICT DO NOTHING so concurrent first-writes for the same day
// converge on a single row; the subsequent read always sees it.
func (r *DailyUsageRepo) GetOrCreate(ctx context.Context, userID string, date time.Time) (*types.DailyUsage, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	_, err := r.db.Exec(ctx,
		`INSERT INTO daily_usage (user_id, date, platform_usage)
		 VALUES ($1, $2, '{}'::jsonb)
		 ON CONFLICT (user_id, date) DO NOTHING`,
		userID, day,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to ensure daily usage row", err)
	}

	return r.get(ctx, userID, day)
}

// Get returns the daily usage row for the given user and date, or a
// not-found error if the user has no recorded usage for that day.
func (r *DailyUsageRepo) Get(ctx context.Context, userID string, date time.Time) (*types.DailyUsage, error) {
	return r.get(ctx, userID, date.UTC().Truncate(24*time.Hour))
}

func (r *DailyUsageRepo) get(ctx context.Context, userID string, day time.Time) (*types.DailyUsage, error) {
	var u types.DailyUsage
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM daily_usage WHERE user_id = $1 AND date = $2`, dailyUsageColumns),
		userID, day,
	).Scan(
		&u.UserID, &u.Date,
		&u.APICalls, &u.AnalysesRun, &u.ReportsGenerated,
		&u.ScheduledPosts, &u.AIGenerations,
		&u.PlatformUsage,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUsage, "no usage recorded for this day", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get daily usage", err)
	}
	return &u, nil
}

// Increment atomically adds count to the counter column for the given usage
// type on the user's row for date, creating the row if needed. When platform
// is non-empty its per-platform tally in platform_usage is bumped by the same
// amount in the same statement, so concurrent increments never lose updates.
//
// The column name is interpolated, never caller-supplied: it comes from the
// closed UsageType set, which rejects unknown types before any SQL runs.
func (r *DailyUsageRepo) Increment(ctx context.Context, userID string, date time.Time, usageType types.UsageType, count int, platform string) (*types.DailyUsage, error) {
	column, err := usageType.CounterColumn()
	if err != nil {
		return nil, err
	}
	day := date.UTC().Truncate(24 * time.Hour)

	if _, err := r.GetOrCreate(ctx, userID, day); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		UPDATE daily_usage
		SET %s = %s + $3,
		    platform_usage = CASE
		        WHEN $4 = '' THEN platform_usage
		        ELSE jsonb_set(platform_usage, ARRAY[$4],
		             to_jsonb(COALESCE((platform_usage->>$4)::int, 0) + $3))
		    END,
		    updated_at = now()
		WHERE user_id = $1 AND date = $2
		RETURNING %s`, column, column, dailyUsageColumns)

	var u types.DailyUsage
	err = r.db.QueryRow(ctx, query, userID, day, count, platform).Scan(
		&u.UserID, &u.Date,
		&u.APICalls, &u.AnalysesRun, &u.ReportsGenerated,
		&u.ScheduledPosts, &u.AIGenerations,
		&u.PlatformUsage,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to increment daily usage", err)
	}
	return &u, nil
}

// Range returns the daily usage rows for the given user between start and end
// inclusive, ordered by date ascending. Days with no recorded usage have no
// row; callers treat gaps as zero.
func (r *DailyUsageRepo) Range(ctx context.Context, userID string, start, end time.Time) ([]types.DailyUsage, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s
		 FROM daily_usage
		 WHERE user_id = $1
		   AND date >= $2
		   AND date <= $3
		 ORDER BY date ASC`, dailyUsageColumns),
		userID, start.UTC().Truncate(24*time.Hour), end.UTC().Truncate(24*time.Hour),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query daily usage range", err)
	}
	defer rows.Close()

	var results []types.DailyUsage
	for rows.Next() {
		var u types.DailyUsage
		if err := rows.Scan(
			&u.UserID, &u.Date,
			&u.APICalls, &u.AnalysesRun, &u.ReportsGenerated,
			&u.ScheduledPosts, &u.AIGenerations,
			&u.PlatformUsage,
			&u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan daily usage row", err)
		}
		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating daily usage rows", err)
	}

	return results, nil
}

// ActiveUsers returns the distinct user IDs with any usage row dated in
// [start, end), ordered for deterministic batch processing.
func (r *DailyUsageRepo) ActiveUsers(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id
		 FROM daily_usage
		 WHERE date >= $1 AND date < $2
		 ORDER BY user_id`,
		start.UTC().Truncate(24*time.Hour), end.UTC().Truncate(24*time.Hour),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user id", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user ids", err)
	}
	return users, nil
}
