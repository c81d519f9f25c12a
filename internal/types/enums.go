package types

// PlanTier identifies the subscription plan for a user account.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

// Valid reports whether p is a recognized plan tier.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanBusiness, PlanEnterprise:
		return true
	}
	return false
}

// UsageType identifies a quota-consuming resource. It is a closed enumeration:
// every value must map to exactly one DailyUsage counter via CounterColumn.
// Adding a new resource type requires extending CounterColumn, Period, and the
// PlanLimits.LimitFor mapping, all of which fail loudly for unknown values.
type UsageType string

const (
	UsageAPICall       UsageType = "api_call"
	UsageAnalysis      UsageType = "analysis"
	UsageReport        UsageType = "report"
	UsageScheduledPost UsageType = "scheduled_post"
	UsageAIGeneration  UsageType = "ai_generation"
)

// AllUsageTypes lists every valid usage type. Used by the dashboard read and
// the upgrade advisor to iterate quota'd resources.
var AllUsageTypes = []UsageType{
	UsageAPICall,
	UsageAnalysis,
	UsageReport,
	UsageScheduledPost,
	UsageAIGeneration,
}

// Valid reports whether t is a member of the closed enumeration.
func (t UsageType) Valid() bool {
	switch t {
	case UsageAPICall, UsageAnalysis, UsageReport, UsageScheduledPost, UsageAIGeneration:
		return true
	}
	return false
}

// CounterColumn returns the daily_usage column the usage type increments.
// Returns an AppError with code validation_invalid_usage_type for values
// outside the enumeration; callers must not persist anything for those.
func (t UsageType) CounterColumn() (string, error) {
	switch t {
	case UsageAPICall:
		return "api_calls", nil
	case UsageAnalysis:
		return "analyses_run", nil
	case UsageReport:
		return "reports_generated", nil
	case UsageScheduledPost:
		return "scheduled_posts", nil
	case UsageAIGeneration:
		return "ai_generations", nil
	default:
		return "", NewAppError(ErrCodeValidationUsageType, "unrecognized usage type: "+string(t), nil)
	}
}

// Period returns the quota accounting period for the usage type.
// Reports are quota'd monthly; everything else is daily.
func (t UsageType) Period() ResetFrequency {
	if t == UsageReport {
		return ResetMonthly
	}
	return ResetDaily
}

// ResetFrequency defines how often a usage counter resets.
type ResetFrequency string

const (
	ResetDaily   ResetFrequency = "daily"
	ResetMonthly ResetFrequency = "monthly"
)

// RateLimitWindow identifies one of the three concurrent sliding windows
// evaluated by the rate limiter, in check order.
type RateLimitWindow string

const (
	WindowBurst  RateLimitWindow = "burst"
	WindowMinute RateLimitWindow = "minute"
	WindowDay    RateLimitWindow = "day"
)

// NotificationType identifies the kind of dashboard notification event.
type NotificationType string

const (
	NotifAnalysisStarted     NotificationType = "analysis_started"
	NotifAnalysisCompleted   NotificationType = "analysis_completed"
	NotifAnalysisFailed      NotificationType = "analysis_failed"
	NotifReportReady         NotificationType = "report_ready"
	NotifReportFailed        NotificationType = "report_failed"
	NotifSubscriptionUpdated NotificationType = "subscription_updated"
	NotifPaymentFailed       NotificationType = "payment_failed"
	NotifSystemMaintenance   NotificationType = "system_maintenance"
	NotifDashboardUpdate     NotificationType = "dashboard_update"
	NotifUsageThreshold      NotificationType = "usage_threshold"
	NotifUpgradeSuggested    NotificationType = "upgrade_suggested"
)
