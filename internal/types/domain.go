package types

import "time"

// RateLimitConfig holds the request-frequency ceilings for one plan tier (or
// for anonymous identities). Loaded once at process start and never mutated.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day"`
	BurstLimit        int `json:"burst_limit"`
}

// PlanLimits holds the resource-consumption ceilings for one plan tier.
// Distinct from RateLimitConfig: rate limiting throttles request frequency,
// these throttle resource consumption against the plan allowance.
type PlanLimits struct {
	APICallsPerDay       Limit `json:"api_calls_per_day"`
	APICallsPerMinute    Limit `json:"api_calls_per_minute"`
	AnalysesPerDay       Limit `json:"analyses_per_day"`
	ReportsPerMonth      Limit `json:"reports_per_month"`
	ScheduledPostsPerDay Limit `json:"scheduled_posts_per_day"`
	AIGenerationsPerDay  Limit `json:"ai_generations_per_day"`
	Platforms            Limit `json:"platforms"`
	HistoryDays          Limit `json:"history_days"`
}

// LimitFor returns the plan ceiling that gates the given usage type.
// Returns an error for values outside the UsageType enumeration.
func (pl PlanLimits) LimitFor(t UsageType) (Limit, error) {
	switch t {
	case UsageAPICall:
		return pl.APICallsPerDay, nil
	case UsageAnalysis:
		return pl.AnalysesPerDay, nil
	case UsageReport:
		return pl.ReportsPerMonth, nil
	case UsageScheduledPost:
		return pl.ScheduledPostsPerDay, nil
	case UsageAIGeneration:
		return pl.AIGenerationsPerDay, nil
	default:
		return Limit{}, NewAppError(ErrCodeValidationUsageType, "unrecognized usage type: "+string(t), nil)
	}
}

// PlatformUsage maps a social platform name to a consumption count.
// Stored as JSONB on daily_usage rows.
type PlatformUsage map[string]int

// Add merges other into pu, summing by key.
func (pu PlatformUsage) Add(other PlatformUsage) {
	for k, v := range other {
		pu[k] += v
	}
}

// DailyUsage is the persistent per-(user, date) resource consumption record.
// Created lazily on first increment; counters only ever increase within a day.
type DailyUsage struct {
	UserID           string        `json:"user_id"`
	Date             time.Time     `json:"date"`
	APICalls         int           `json:"api_calls"`
	AnalysesRun      int           `json:"analyses_run"`
	ReportsGenerated int           `json:"reports_generated"`
	ScheduledPosts   int           `json:"scheduled_posts"`
	AIGenerations    int           `json:"ai_generations"`
	PlatformUsage    PlatformUsage `json:"platform_usage"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Counter returns the value of the counter the usage type maps to.
// Unknown usage types read as zero; writes reject them upstream.
func (d *DailyUsage) Counter(t UsageType) int {
	switch t {
	case UsageAPICall:
		return d.APICalls
	case UsageAnalysis:
		return d.AnalysesRun
	case UsageReport:
		return d.ReportsGenerated
	case UsageScheduledPost:
		return d.ScheduledPosts
	case UsageAIGeneration:
		return d.AIGenerations
	default:
		return 0
	}
}

// UsageTotals is the sum of DailyUsage counters over a set of days.
// Also used for floor-divided averages, which is why it carries ints.
type UsageTotals struct {
	APICalls         int           `json:"api_calls"`
	AnalysesRun      int           `json:"analyses_run"`
	ReportsGenerated int           `json:"reports_generated"`
	ScheduledPosts   int           `json:"scheduled_posts"`
	AIGenerations    int           `json:"ai_generations"`
	PlatformUsage    PlatformUsage `json:"platform_usage,omitempty"`
}

// AddDay accumulates one daily row into the totals.
func (t *UsageTotals) AddDay(d *DailyUsage) {
	t.APICalls += d.APICalls
	t.AnalysesRun += d.AnalysesRun
	t.ReportsGenerated += d.ReportsGenerated
	t.ScheduledPosts += d.ScheduledPosts
	t.AIGenerations += d.AIGenerations
	if len(d.PlatformUsage) > 0 {
		if t.PlatformUsage == nil {
			t.PlatformUsage = make(PlatformUsage, len(d.PlatformUsage))
		}
		t.PlatformUsage.Add(d.PlatformUsage)
	}
}

// DividedBy returns the floor-divided per-day average over n days.
// Platform usage is not averaged; per-platform averages have no consumer.
func (t UsageTotals) DividedBy(n int) UsageTotals {
	if n <= 0 {
		return UsageTotals{}
	}
	return UsageTotals{
		APICalls:         t.APICalls / n,
		AnalysesRun:      t.AnalysesRun / n,
		ReportsGenerated: t.ReportsGenerated / n,
		ScheduledPosts:   t.ScheduledPosts / n,
		AIGenerations:    t.AIGenerations / n,
	}
}

// UsageHistory is the range read over daily rows: the rows themselves in
// ascending date order, their sum, and the floor-divided average over the
// number of rows returned. Days with no row are absent, not zero; gaps
// therefore lower the apparent average rather than being counted as zeros.
type UsageHistory struct {
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Days    []*DailyUsage `json:"days"`
	Total   UsageTotals   `json:"total"`
	Average UsageTotals   `json:"average"`
}

// MonthlyUsageSummary aggregates one calendar month of daily rows.
// A stored row (written by an external aggregation job) is preferred; when
// none exists the summary is derived on the fly from daily_usage and Derived
// is true. Stored and derived values must agree when both exist.
type MonthlyUsageSummary struct {
	UserID            string      `json:"user_id"`
	YearMonth         string      `json:"year_month"` // "2026-08"
	Totals            UsageTotals `json:"totals"`
	PeakDailyAPICalls int         `json:"peak_daily_api_calls"`
	PeakDate          time.Time   `json:"peak_date"`
	Derived           bool        `json:"derived"`
}

// UsageTrend compares the last PeriodDays days against the equal-length
// period immediately before it.
type UsageTrend struct {
	PeriodDays int           `json:"period_days"`
	Current    UsageTotals   `json:"current"`
	Previous   UsageTotals   `json:"previous"`
	Percent    TrendPercents `json:"trend_percent"`
}

// TrendPercents holds the per-counter period-over-period change.
// Zero-handling: previous 0 and current 0 reads 0%; previous 0 and current
// positive reads 100% rather than an undefined value.
type TrendPercents struct {
	APICalls         float64 `json:"api_calls"`
	AnalysesRun      float64 `json:"analyses_run"`
	ReportsGenerated float64 `json:"reports_generated"`
	ScheduledPosts   float64 `json:"scheduled_posts"`
	AIGenerations    float64 `json:"ai_generations"`
}

// TrendPercent computes the period-over-period change for one counter pair.
func TrendPercent(previous, current int) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return float64(current-previous) / float64(previous) * 100
}

// APICallLog is one append-only row per completed request.
type APICallLog struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMS int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RequestID      string    `json:"request_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// QuotaDecision is the outcome of a quota check. Denials are values, never
// errors: the caller translates Allowed=false into a user-facing response.
type QuotaDecision struct {
	Allowed bool      `json:"allowed"`
	Type    UsageType `json:"usage_type"`
	Current int       `json:"current"`
	Limit   Limit     `json:"limit"`
	Message string    `json:"message,omitempty"`
}

// UpgradeRecommendation is the advisor output for one user.
type UpgradeRecommendation struct {
	ShouldUpgrade   bool                  `json:"should_upgrade"`
	Reason          string                `json:"reason,omitempty"`
	RecommendedPlan PlanTier              `json:"recommended_plan,omitempty"`
	Percentages     map[UsageType]float64 `json:"percentages"`
}

// ResourceStatus is one row of the dashboard's remaining-by-resource view.
type ResourceStatus struct {
	Used        int     `json:"used"`
	Limit       Limit   `json:"limit"`
	Remaining   *int    `json:"remaining,omitempty"` // nil when unlimited
	PercentUsed float64 `json:"percent_used"`
}

// UsageDashboard is the composite external read surface: today's usage, plan
// limits, remaining and percent by resource, monthly summary, 7-day trend,
// and the upgrade recommendation.
type UsageDashboard struct {
	Plan           PlanTier                     `json:"plan"`
	Today          *DailyUsage                  `json:"today"`
	Limits         PlanLimits                   `json:"limits"`
	Resources      map[UsageType]ResourceStatus `json:"resources"`
	MonthlySummary *MonthlyUsageSummary         `json:"monthly_summary"`
	Trend          *UsageTrend                  `json:"trend"`
	Recommendation *UpgradeRecommendation       `json:"recommendation"`
}

// Notification is an immutable typed event payload fanned out to a user's
// live dashboard channels.
type Notification struct {
	ID        string           `json:"notification_id"`
	Type      NotificationType `json:"type"`
	Payload   map[string]any   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}
