package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"pulsemetrics/internal/types"
)

// MonthlySummaryRepo provides data access for the monthly_usage_summary
// table. Rows are written by the monthly rollup job; the API only reads
// them, falling back to on-the-fly derivation from daily_usage when no
// stored row exists yet.
type MonthlySummaryRepo struct {
	db DBTX
}

// NewMonthlySummaryRepo creates a new MonthlySummaryRepo backed by the given
// database connection (pool or transaction).
func NewMonthlySummaryRepo(db DBTX) *MonthlySummaryRepo {
	return &MonthlySummaryRepo{db: db}
}

// Get returns the stored summary for the given user and month ("2026-08"),
// or (nil, nil) when no rollup row exists for that month.
func (r *MonthlySummaryRepo) Get(ctx context.Context, userID, yearMonth string) (*types.MonthlyUsageSummary, error) {
	var s types.MonthlyUsageSummary
	err := r.db.QueryRow(ctx,
		`SELECT user_id, year_month, api_calls, analyses_run, reports_generated,
		        scheduled_posts, ai_generations, platform_usage,
		        peak_daily_api_calls, peak_date
		 FROM monthly_usage_summary
		 WHERE user_id = $1 AND year_month = $2`,
		userID, yearMonth,
	).Scan(
		&s.UserID, &s.YearMonth,
		&s.Totals.APICalls, &s.Totals.AnalysesRun, &s.Totals.ReportsGenerated,
		&s.Totals.ScheduledPosts, &s.Totals.AIGenerations,
		&s.Totals.PlatformUsage,
		&s.PeakDailyAPICalls, &s.PeakDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get monthly usage summary", err)
	}
	return &s, nil
}

// Upsert writes a rollup row for the given month, replacing any existing one.
// Used by the rollup job; derived summaries served to the API are never
// stored through this path.
func (r *MonthlySummaryRepo) Upsert(ctx context.Context, s *types.MonthlyUsageSummary) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO monthly_usage_summary
		   (user_id, year_month, api_calls, analyses_run, reports_generated,
		    scheduled_posts, ai_generations, platform_usage,
		    peak_daily_api_calls, peak_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, year_month) DO UPDATE SET
		   api_calls = EXCLUDED.api_calls,
		   analyses_run = EXCLUDED.analyses_run,
		   reports_generated = EXCLUDED.reports_generated,
		   scheduled_posts = EXCLUDED.scheduled_posts,
		   ai_generations = EXCLUDED.ai_generations,
		   platform_usage = EXCLUDED.platform_usage,
		   peak_daily_api_calls = EXCLUDED.peak_daily_api_calls,
		   peak_date = EXCLUDED.peak_date`,
		s.UserID, s.YearMonth,
		s.Totals.APICalls, s.Totals.AnalysesRun, s.Totals.ReportsGenerated,
		s.Totals.ScheduledPosts, s.Totals.AIGenerations,
		s.Totals.PlatformUsage,
		s.PeakDailyAPICalls, s.PeakDate,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert monthly usage summary", err)
	}
	return nil
}
