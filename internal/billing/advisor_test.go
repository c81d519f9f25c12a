package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

func TestUpgradeAdvisor_FreeAt80PercentRecommendsPro(t *testing.T) {
	// Free tier: 1000 api calls per day; 800 used is exactly 80%.
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAPICall: 800}}
	advisor := NewUpgradeAdvisor(NewStaticPlanCatalog(), reader)

	rec, err := advisor.Recommend(context.Background(), "user_1", types.PlanFree)
	require.NoError(t, err)

	assert.True(t, rec.ShouldUpgrade)
	assert.Equal(t, types.PlanPro, rec.RecommendedPlan)
	assert.Contains(t, rec.Reason, "api_call")
	assert.InDelta(t, 80.0, rec.Percentages[types.UsageAPICall], 0.001)
}

func TestUpgradeAdvisor_FreeAt79PercentNoRecommendation(t *testing.T) {
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAPICall: 790}}
	advisor := NewUpgradeAdvisor(NewStaticPlanCatalog(), reader)

	rec, err := advisor.Recommend(context.Background(), "user_1", types.PlanFree)
	require.NoError(t, err)

	assert.False(t, rec.ShouldUpgrade)
	assert.Empty(t, rec.RecommendedPlan)
	assert.InDelta(t, 79.0, rec.Percentages[types.UsageAPICall], 0.001)
}

func TestUpgradeAdvisor_TierThresholds(t *testing.T) {
	tests := []struct {
		plan      types.PlanTier
		apiCalls  int // today's usage against the tier's api_calls_per_day
		upgrade   bool
		nextTier  types.PlanTier
	}{
		// Pro: 10000/day, threshold 90%.
		{types.PlanPro, 8999, false, ""},
		{types.PlanPro, 9000, true, types.PlanBusiness},
		// Business: 50000/day, threshold 95%.
		{types.PlanBusiness, 47499, false, ""},
		{types.PlanBusiness, 47500, true, types.PlanEnterprise},
	}
	for _, tt := range tests {
		reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAPICall: tt.apiCalls}}
		advisor := NewUpgradeAdvisor(NewStaticPlanCatalog(), reader)

		rec, err := advisor.Recommend(context.Background(), "user_1", tt.plan)
		require.NoError(t, err)
		assert.Equal(t, tt.upgrade, rec.ShouldUpgrade, "%s at %d calls", tt.plan, tt.apiCalls)
		assert.Equal(t, tt.nextTier, rec.RecommendedPlan)
	}
}

func TestUpgradeAdvisor_EnterpriseNeverUpgrades(t *testing.T) {
	reader := &stubUsageReader{today: map[types.UsageType]int{types.UsageAPICall: 99_999_999}}
	advisor := NewUpgradeAdvisor(NewStaticPlanCatalog(), reader)

	rec, err := advisor.Recommend(context.Background(), "user_1", types.PlanEnterprise)
	require.NoError(t, err)

	assert.False(t, rec.ShouldUpgrade)
	assert.Empty(t, rec.Percentages, "all enterprise limits are unlimited and skipped")
}

func TestUpgradeAdvisor_ReportsUseMonthlyCounter(t *testing.T) {
	// Free tier: 3 reports per month. Month-to-date at 3 is 100%.
	reader := &stubUsageReader{
		today: map[types.UsageType]int{},
		month: map[types.UsageType]int{types.UsageReport: 3},
	}
	advisor := NewUpgradeAdvisor(NewStaticPlanCatalog(), reader)

	rec, err := advisor.Recommend(context.Background(), "user_1", types.PlanFree)
	require.NoError(t, err)

	assert.True(t, rec.ShouldUpgrade)
	assert.InDelta(t, 100.0, rec.Percentages[types.UsageReport], 0.001)
}
