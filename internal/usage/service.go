// Package usage implements the accounting store surface: daily counters,
// monthly summaries, the append-only API call log, and the composite
// dashboard read built on top of them.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulsemetrics/internal/db"
	"pulsemetrics/internal/types"
)

// usageThresholds are the percent-of-limit crossings that push a
// usage_threshold notification to the user's live dashboards.
var usageThresholds = []float64{80, 90, 95}

// DailyStore is the per-day counter storage the service runs on.
// Implemented by db.DailyUsageRepo.
type DailyStore interface {
	GetOrCreate(ctx context.Context, userID string, date time.Time) (*types.DailyUsage, error)
	Get(ctx context.Context, userID string, date time.Time) (*types.DailyUsage, error)
	Increment(ctx context.Context, userID string, date time.Time, usageType types.UsageType, count int, platform string) (*types.DailyUsage, error)
	Range(ctx context.Context, userID string, start, end time.Time) ([]types.DailyUsage, error)
}

// LogStore is the API call log storage. LogAPICall must write the log row
// and the counter increment in one transaction. Implemented by db.Store
// plus db.APICallLogRepo.
type LogStore interface {
	LogAPICall(ctx context.Context, entry *types.APICallLog, platform string) (*types.DailyUsage, error)
	List(ctx context.Context, userID string, params db.APICallLogListParams) ([]types.APICallLog, types.PageInfo, error)
}

// MonthlyStore reads stored monthly rollups. Implemented by
// db.MonthlySummaryRepo.
type MonthlyStore interface {
	Get(ctx context.Context, userID, yearMonth string) (*types.MonthlyUsageSummary, error)
}

// PlanLimitSource supplies per-tier plan limits for threshold notifications
// and the dashboard. Satisfied by billing.PlanCatalog.
type PlanLimitSource interface {
	Limits(tier types.PlanTier) types.PlanLimits
}

// Notifier pushes events to a user's live channels. Satisfied by
// notify.Hub; a nil Notifier disables threshold pushes.
type Notifier interface {
	SendToUser(userID string, n types.Notification) int
}

// Recommender computes the upgrade recommendation shown on the dashboard.
// Satisfied by billing.UpgradeAdvisor.
type Recommender interface {
	Recommend(ctx context.Context, userID string, plan types.PlanTier) (types.UpgradeRecommendation, error)
}

// Service is the usage accounting service.
type Service struct {
	daily   DailyStore
	logs    LogStore
	monthly MonthlyStore
	limits  PlanLimitSource

	notifier    Notifier
	recommender Recommender

	logger *slog.Logger
	now    func() time.Time
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithNotifier enables usage-threshold pushes through the given notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the usage accounting service.
func NewService(daily DailyStore, logs LogStore, monthly MonthlyStore, limits PlanLimitSource, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		daily:   daily,
		logs:    logs,
		monthly: monthly,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRecommender wires the upgrade advisor in after construction. The
// advisor reads usage through this same service, so the two cannot be
// built in one pass.
func (s *Service) SetRecommender(r Recommender) {
	s.recommender = r
}

// GetOrCreateDaily returns the user's row for the given date, creating a
// zeroed one on first access. Safe under concurrent calls for the same day.
func (s *Service) GetOrCreateDaily(ctx context.Context, userID string, date time.Time) (*types.DailyUsage, error) {
	return s.daily.GetOrCreate(ctx, userID, date)
}

// Increment adds count to the counter for the given usage type on today's
// row and, when platform is non-empty, to that platform's tally. Returns the
// updated row. When the increment crosses an 80/90/95 percent-of-limit
// threshold a usage_threshold notification is pushed to the user's live
// channels; push failures never fail the increment.
func (s *Service) Increment(ctx context.Context, userID string, plan types.PlanTier, usageType types.UsageType, count int, platform string) (*types.DailyUsage, error) {
	if count <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationCount, "count must be positive", nil)
	}
	if _, err := usageType.CounterColumn(); err != nil {
		return nil, err
	}

	updated, err := s.daily.Increment(ctx, userID, s.now(), usageType, count, platform)
	if err != nil {
		return nil, err
	}

	s.notifyThresholdCrossing(ctx, userID, plan, usageType, count, updated)
	return updated, nil
}

// notifyThresholdCrossing pushes a usage_threshold event when this increment
// moved the period counter across 80, 90, or 95 percent of the plan limit.
func (s *Service) notifyThresholdCrossing(ctx context.Context, userID string, plan types.PlanTier, usageType types.UsageType, count int, updated *types.DailyUsage) {
	if s.notifier == nil {
		return
	}
	limit, err := s.limits.Limits(plan).LimitFor(usageType)
	if err != nil || limit.IsUnlimited() {
		return
	}

	current := updated.Counter(usageType)
	if usageType.Period() == types.ResetMonthly {
		monthCurrent, err := s.MonthCounter(ctx, userID, usageType)
		if err != nil {
			s.logger.Warn("threshold check skipped: month counter read failed",
				"user_id", userID, "usage_type", usageType, "error", err)
			return
		}
		current = monthCurrent
	}

	after, ok := limit.PercentUsed(current)
	if !ok {
		return
	}
	before, _ := limit.PercentUsed(current - count)

	for _, threshold := range usageThresholds {
		if before < threshold && after >= threshold {
			delivered := s.notifier.SendToUser(userID, types.Notification{
				ID:   uuid.NewString(),
				Type: types.NotifUsageThreshold,
				Payload: map[string]any{
					"usage_type": usageType,
					"plan":       plan,
					"threshold":  threshold,
					"percent":    after,
					"current":    current,
				},
				Timestamp: s.now().UTC(),
			})
			s.logger.Info("usage threshold crossed",
				"user_id", userID, "usage_type", usageType,
				"threshold", threshold, "delivered", delivered)
		}
	}
}

// LogAPICall appends one request log row and bumps today's api_calls counter
// in a single transaction.
func (s *Service) LogAPICall(ctx context.Context, entry *types.APICallLog, platform string) (*types.DailyUsage, error) {
	return s.logs.LogAPICall(ctx, entry, platform)
}

// History returns the daily rows in [start, end] ascending, their sum, and
// the floor-divided average over the rows returned. Days without a row are
// absent rather than zero, so sparse data lowers the apparent average.
func (s *Service) History(ctx context.Context, userID string, start, end time.Time) (*types.UsageHistory, error) {
	if end.Before(start) {
		return nil, types.NewAppError(types.ErrCodeValidationDateRange, "end date must not precede start date", nil)
	}

	rows, err := s.daily.Range(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	h := &types.UsageHistory{
		Start: start,
		End:   end,
		Days:  make([]*types.DailyUsage, len(rows)),
	}
	for i := range rows {
		h.Days[i] = &rows[i]
		h.Total.AddDay(&rows[i])
	}
	h.Average = h.Total.DividedBy(len(rows))
	return h, nil
}

// MonthlySummary returns the summary for the given "2006-01" month. A stored
// rollup row is preferred; otherwise the summary is derived from the daily
// rows on the fly. Returns (nil, nil) when the user has no usage that month.
func (s *Service) MonthlySummary(ctx context.Context, userID, yearMonth string) (*types.MonthlyUsageSummary, error) {
	monthStart, err := time.Parse("2006-01", yearMonth)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationDateRange, "year_month must be formatted as YYYY-MM", err)
	}

	stored, err := s.monthly.Get(ctx, userID, yearMonth)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	return s.deriveMonthly(ctx, userID, yearMonth, monthStart)
}

// deriveMonthly aggregates the month's daily rows. time.Date normalizes
// month 13, so the December-to-January wrap needs no special case.
func (s *Service) deriveMonthly(ctx context.Context, userID, yearMonth string, monthStart time.Time) (*types.MonthlyUsageSummary, error) {
	nextMonth := time.Date(monthStart.Year(), monthStart.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.daily.Range(ctx, userID, monthStart, nextMonth.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	summary := &types.MonthlyUsageSummary{
		UserID:    userID,
		YearMonth: yearMonth,
		Derived:   true,
	}
	for i := range rows {
		summary.Totals.AddDay(&rows[i])
		if rows[i].APICalls > summary.PeakDailyAPICalls || summary.PeakDate.IsZero() {
			summary.PeakDailyAPICalls = rows[i].APICalls
			summary.PeakDate = rows[i].Date
		}
	}
	return summary, nil
}

// Trend compares the last `days` days (ending today) against the
// equal-length period immediately before it.
func (s *Service) Trend(ctx context.Context, userID string, days int) (*types.UsageTrend, error) {
	if days <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationDateRange, "trend period must be positive", nil)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	currentStart := today.AddDate(0, 0, -(days - 1))
	previousStart := currentStart.AddDate(0, 0, -days)
	previousEnd := currentStart.AddDate(0, 0, -1)

	trend := &types.UsageTrend{PeriodDays: days}

	currentRows, err := s.daily.Range(ctx, userID, currentStart, today)
	if err != nil {
		return nil, err
	}
	for i := range currentRows {
		trend.Current.AddDay(&currentRows[i])
	}

	previousRows, err := s.daily.Range(ctx, userID, previousStart, previousEnd)
	if err != nil {
		return nil, err
	}
	for i := range previousRows {
		trend.Previous.AddDay(&previousRows[i])
	}

	trend.Percent = types.TrendPercents{
		APICalls:         types.TrendPercent(trend.Previous.APICalls, trend.Current.APICalls),
		AnalysesRun:      types.TrendPercent(trend.Previous.AnalysesRun, trend.Current.AnalysesRun),
		ReportsGenerated: types.TrendPercent(trend.Previous.ReportsGenerated, trend.Current.ReportsGenerated),
		ScheduledPosts:   types.TrendPercent(trend.Previous.ScheduledPosts, trend.Current.ScheduledPosts),
		AIGenerations:    types.TrendPercent(trend.Previous.AIGenerations, trend.Current.AIGenerations),
	}
	return trend, nil
}

// APICallLogs returns the user's request log newest-first, paginated and
// optionally filtered by endpoint substring.
func (s *Service) APICallLogs(ctx context.Context, userID string, params db.APICallLogListParams) ([]types.APICallLog, types.PageInfo, error) {
	return s.logs.List(ctx, userID, params)
}

// Dashboard assembles the composite read surface: today's usage, plan
// limits, per-resource status, the current month's summary, the 7-day
// trend, and the upgrade recommendation. The independent reads run
// concurrently; the first failure cancels the rest.
func (s *Service) Dashboard(ctx context.Context, userID string, plan types.PlanTier) (*types.UsageDashboard, error) {
	now := s.now().UTC()
	dash := &types.UsageDashboard{
		Plan:   plan,
		Limits: s.limits.Limits(plan),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		today, err := s.todayOrZero(gctx, userID)
		if err != nil {
			return err
		}
		resources, err := s.resourceStatuses(gctx, userID, dash.Limits, today)
		if err != nil {
			return err
		}
		dash.Today = today
		dash.Resources = resources
		return nil
	})

	g.Go(func() error {
		summary, err := s.MonthlySummary(gctx, userID, now.Format("2006-01"))
		if err != nil {
			return err
		}
		dash.MonthlySummary = summary
		return nil
	})

	g.Go(func() error {
		trend, err := s.Trend(gctx, userID, 7)
		if err != nil {
			return err
		}
		dash.Trend = trend
		return nil
	})

	if s.recommender != nil {
		g.Go(func() error {
			rec, err := s.recommender.Recommend(gctx, userID, plan)
			if err != nil {
				return err
			}
			dash.Recommendation = &rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dash, nil
}

// todayOrZero reads today's row without creating one; a user who has done
// nothing today gets a zeroed row, not a database write.
func (s *Service) todayOrZero(ctx context.Context, userID string) (*types.DailyUsage, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	row, err := s.daily.Get(ctx, userID, today)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUsage {
			return &types.DailyUsage{UserID: userID, Date: today, PlatformUsage: types.PlatformUsage{}}, nil
		}
		return nil, err
	}
	return row, nil
}

// resourceStatuses computes used/remaining/percent per usage type against
// the plan limits. Monthly-quota'd types read the month-to-date counter.
func (s *Service) resourceStatuses(ctx context.Context, userID string, limits types.PlanLimits, today *types.DailyUsage) (map[types.UsageType]types.ResourceStatus, error) {
	statuses := make(map[types.UsageType]types.ResourceStatus, len(types.AllUsageTypes))
	for _, ut := range types.AllUsageTypes {
		limit, err := limits.LimitFor(ut)
		if err != nil {
			return nil, err
		}

		used := today.Counter(ut)
		if ut.Period() == types.ResetMonthly {
			used, err = s.MonthCounter(ctx, userID, ut)
			if err != nil {
				return nil, err
			}
		}

		status := types.ResourceStatus{Used: used, Limit: limit}
		if ceiling, finite := limit.Ceiling(); finite {
			remaining := ceiling - used
			if remaining < 0 {
				remaining = 0
			}
			status.Remaining = &remaining
		}
		if pct, ok := limit.PercentUsed(used); ok {
			status.PercentUsed = pct
		}
		statuses[ut] = status
	}
	return statuses, nil
}

// TodayCounter implements billing.UsageReader.
func (s *Service) TodayCounter(ctx context.Context, userID string, usageType types.UsageType) (int, error) {
	today, err := s.todayOrZero(ctx, userID)
	if err != nil {
		return 0, err
	}
	return today.Counter(usageType), nil
}

// MonthCounter implements billing.UsageReader. The month-to-date value is
// always derived from the daily rows; a stored rollup for the running month
// would be stale the moment it was written.
func (s *Service) MonthCounter(ctx context.Context, userID string, usageType types.UsageType) (int, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.daily.Range(ctx, userID, monthStart, now.Truncate(24*time.Hour))
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range rows {
		total += rows[i].Counter(usageType)
	}
	return total, nil
}
