// Package scheduler implements the periodic jobs that run beside the API:
// month-end usage rollups and operator-triggered maintenance broadcasts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulsemetrics/internal/types"
)

// UserSource lists users with recorded usage in a window. Implemented by
// db.DailyUsageRepo.
type UserSource interface {
	ActiveUsers(ctx context.Context, start, end time.Time) ([]string, error)
}

// SummarySource produces a user's monthly summary, stored or derived.
// Implemented by usage.Service.
type SummarySource interface {
	MonthlySummary(ctx context.Context, userID, yearMonth string) (*types.MonthlyUsageSummary, error)
}

// SummarySink persists materialized summaries. Implemented by
// db.MonthlySummaryRepo.
type SummarySink interface {
	Upsert(ctx context.Context, s *types.MonthlyUsageSummary) error
}

// MonthlyRollup materializes the previous month's usage summaries so that
// reads after month close hit a stored row instead of re-aggregating thirty
// daily rows. Re-running a rollup is idempotent: already stored summaries
// are skipped and upserts overwrite cleanly.
type MonthlyRollup struct {
	users     UserSource
	summaries SummarySource
	sink      SummarySink
	logger    *slog.Logger
	now       func() time.Time
}

// RollupOption configures a MonthlyRollup.
type RollupOption func(*MonthlyRollup)

// WithClock overrides the time source, pinning which month "previous month"
// refers to.
func WithClock(now func() time.Time) RollupOption {
	return func(j *MonthlyRollup) { j.now = now }
}

// NewMonthlyRollup creates the rollup job.
func NewMonthlyRollup(users UserSource, summaries SummarySource, sink SummarySink, logger *slog.Logger, opts ...RollupOption) *MonthlyRollup {
	if logger == nil {
		logger = slog.Default()
	}
	j := &MonthlyRollup{
		users:     users,
		summaries: summaries,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run rolls up the month before the current one. Each user is processed
// independently; one failing user does not stop the batch. Returns an error
// only when the batch could not start or at least one user failed.
func (j *MonthlyRollup) Run(ctx context.Context) error {
	now := j.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevStart := monthStart.AddDate(0, -1, 0)
	yearMonth := prevStart.Format("2006-01")

	users, err := j.users.ActiveUsers(ctx, prevStart, monthStart)
	if err != nil {
		return fmt.Errorf("listing active users for %s: %w", yearMonth, err)
	}

	var materialized, skipped, failed int
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}

		summary, err := j.summaries.MonthlySummary(ctx, userID, yearMonth)
		if err != nil {
			failed++
			j.logger.ErrorContext(ctx, "rollup summary failed", "user_id", userID, "year_month", yearMonth, "error", err)
			continue
		}
		if summary == nil {
			// Daily rows were removed between the user listing and the
			// summary read (retention cleanup); nothing to materialize.
			skipped++
			continue
		}
		if !summary.Derived {
			// Already stored by a previous run.
			skipped++
			continue
		}

		summary.Derived = false
		if err := j.sink.Upsert(ctx, summary); err != nil {
			failed++
			j.logger.ErrorContext(ctx, "rollup upsert failed", "user_id", userID, "year_month", yearMonth, "error", err)
			continue
		}
		materialized++
	}

	j.logger.InfoContext(ctx, "monthly rollup complete",
		"year_month", yearMonth,
		"users", len(users),
		"materialized", materialized,
		"skipped", skipped,
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("rollup for %s: %d of %d users failed", yearMonth, failed, len(users))
	}
	return nil
}
