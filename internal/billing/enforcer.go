package billing

import (
	"context"
	"fmt"

	"pulsemetrics/internal/types"
)

// UsageReader provides the minimal usage lookups quota checks and upgrade
// recommendations need. Implemented by the usage service; this focused
// interface avoids a dependency on the full accounting surface.
type UsageReader interface {
	// TodayCounter returns the current value of the counter for the given
	// usage type on today's row. Zero when no row exists yet.
	TodayCounter(ctx context.Context, userID string, t types.UsageType) (int, error)

	// MonthCounter returns the month-to-date value of the counter for the
	// given usage type. Zero when the user has no usage this month.
	MonthCounter(ctx context.Context, userID string, t types.UsageType) (int, error)
}

// QuotaEnforcer gates resource-consuming actions against plan allowances.
// Distinct from the rate limiter: the limiter throttles request frequency,
// the enforcer throttles resource consumption.
type QuotaEnforcer struct {
	catalog PlanCatalog
	usage   UsageReader
}

// NewQuotaEnforcer creates a QuotaEnforcer over the given catalog and reader.
func NewQuotaEnforcer(catalog PlanCatalog, usage UsageReader) *QuotaEnforcer {
	return &QuotaEnforcer{catalog: catalog, usage: usage}
}

// CheckLimit decides whether userID may consume count more units of the given
// usage type under their plan. Reports are checked against the month-to-date
// counter; everything else against today's.
//
// This is a read-then-decide check with no reservation: it does not increment
// usage, and callers increment only after the gated action succeeds. Two
// concurrent requests can therefore both pass and jointly overshoot the
// ceiling. That is accepted best-effort behavior, not a bug.
//
// A denial is a normal return value (Allowed=false), never an error. Only
// storage failures surface as errors.
func (e *QuotaEnforcer) CheckLimit(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
	usageType types.UsageType,
	count int,
) (types.QuotaDecision, error) {
	if count <= 0 {
		return types.QuotaDecision{}, types.NewAppError(
			types.ErrCodeValidationCount,
			fmt.Sprintf("count must be positive, got %d", count),
			nil,
		)
	}

	limits := e.catalog.Limits(plan)
	limit, err := limits.LimitFor(usageType)
	if err != nil {
		return types.QuotaDecision{}, err
	}

	decision := types.QuotaDecision{
		Type:  usageType,
		Limit: limit,
	}

	if limit.IsUnlimited() {
		decision.Allowed = true
		return decision, nil
	}

	var current int
	switch usageType.Period() {
	case types.ResetMonthly:
		current, err = e.usage.MonthCounter(ctx, userID, usageType)
	default:
		current, err = e.usage.TodayCounter(ctx, userID, usageType)
	}
	if err != nil {
		return types.QuotaDecision{}, err
	}

	decision.Current = current
	decision.Allowed = limit.Allows(current, count)
	if !decision.Allowed {
		ceiling, _ := limit.Ceiling()
		period := "day"
		if usageType.Period() == types.ResetMonthly {
			period = "month"
		}
		decision.Message = fmt.Sprintf(
			"%s quota exceeded: the %s plan allows %d per %s",
			usageType, plan, ceiling, period,
		)
	}
	return decision, nil
}
