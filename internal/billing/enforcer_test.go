package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

// stubUsageReader serves fixed counter values keyed by usage type.
type stubUsageReader struct {
	today map[types.UsageType]int
	month map[types.UsageType]int
	err   error
}

func (s *stubUsageReader) TodayCounter(_ context.Context, _ string, t types.UsageType) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.today[t], nil
}

func (s *stubUsageReader) MonthCounter(_ context.Context, _ string, t types.UsageType) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.month[t], nil
}

func TestQuotaEnforcer_UnlimitedAlwaysAllows(t *testing.T) {
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), &stubUsageReader{})

	decision, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanEnterprise, types.UsageAPICall, 10_000_000,
	)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Limit.IsUnlimited())
}

func TestQuotaEnforcer_BoundaryDenial(t *testing.T) {
	// Free tier allows 5 analyses per day; five already consumed.
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAnalysis: 5}}
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), reader)

	decision, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanFree, types.UsageAnalysis, 1,
	)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.Current)
	assert.Contains(t, decision.Message, "analysis")
	assert.Contains(t, decision.Message, "5")
}

func TestQuotaEnforcer_AllowsUpToCeiling(t *testing.T) {
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAnalysis: 4}}
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), reader)

	decision, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanFree, types.UsageAnalysis, 1,
	)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Message)
}

func TestQuotaEnforcer_ReportsCheckedMonthly(t *testing.T) {
	// Free tier allows 3 reports per month. Today's row is empty, but the
	// month-to-date counter is at the ceiling: the denial must come from the
	// monthly counter, not the daily one.
	reader := &stubUsageReader{
		today: map[types.UsageType]int{},
		month: map[types.UsageType]int{types.UsageReport: 3},
	}
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), reader)

	decision, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanFree, types.UsageReport, 1,
	)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Message, "month")
}

func TestQuotaEnforcer_UnknownPlanUsesFreeLimits(t *testing.T) {
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAnalysis: 5}}
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), reader)

	decision, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanTier("mystery"), types.UsageAnalysis, 1,
	)
	require.NoError(t, err)
	assert.False(t, decision.Allowed, "unknown plan degrades to free limits")
}

func TestQuotaEnforcer_UnknownUsageTypeIsError(t *testing.T) {
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), &stubUsageReader{})

	_, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanFree, types.UsageType("video_render"), 1,
	)
	require.Error(t, err)

	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeValidationUsageType, appErr.Code)
}

func TestQuotaEnforcer_NonPositiveCountRejected(t *testing.T) {
	enforcer := NewQuotaEnforcer(NewStaticPlanCatalog(), &stubUsageReader{})

	_, err := enforcer.CheckLimit(
		context.Background(), "user_1", types.PlanFree, types.UsageAnalysis, 0,
	)
	require.Error(t, err)
}
