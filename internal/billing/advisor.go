package billing

import (
	"context"
	"fmt"
	"sort"

	"pulsemetrics/internal/types"
)

// upgradePath maps each tier to the next tier up and the usage-percent
// threshold at which an upgrade is recommended. Enterprise is the top tier
// and never appears: no recommendation is ever made for it.
var upgradePath = map[types.PlanTier]struct {
	threshold float64
	next      types.PlanTier
}{
	types.PlanFree:     {threshold: 80, next: types.PlanPro},
	types.PlanPro:      {threshold: 90, next: types.PlanBusiness},
	types.PlanBusiness: {threshold: 95, next: types.PlanEnterprise},
}

// UpgradeAdvisor derives plan-upgrade recommendations from usage-vs-limit
// ratios. Pure read path; it never mutates usage or billing state.
type UpgradeAdvisor struct {
	catalog PlanCatalog
	usage   UsageReader
}

// NewUpgradeAdvisor creates an UpgradeAdvisor over the given catalog and reader.
func NewUpgradeAdvisor(catalog PlanCatalog, usage UsageReader) *UpgradeAdvisor {
	return &UpgradeAdvisor{catalog: catalog, usage: usage}
}

// Recommend computes the usage-vs-limit percentage for every quota'd resource
// (skipping unlimited ones) and recommends the next tier up when any metric
// meets the plan's threshold. The raw per-metric percentages are always
// returned so dashboards can render them regardless of the outcome.
func (a *UpgradeAdvisor) Recommend(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
) (types.UpgradeRecommendation, error) {
	rec := types.UpgradeRecommendation{
		Percentages: make(map[types.UsageType]float64),
	}

	limits := a.catalog.Limits(plan)
	for _, ut := range types.AllUsageTypes {
		limit, err := limits.LimitFor(ut)
		if err != nil {
			return types.UpgradeRecommendation{}, err
		}
		if limit.IsUnlimited() {
			continue
		}

		var current int
		switch ut.Period() {
		case types.ResetMonthly:
			current, err = a.usage.MonthCounter(ctx, userID, ut)
		default:
			current, err = a.usage.TodayCounter(ctx, userID, ut)
		}
		if err != nil {
			return types.UpgradeRecommendation{}, err
		}

		if pct, ok := limit.PercentUsed(current); ok {
			rec.Percentages[ut] = pct
		}
	}

	path, ok := upgradePath[plan]
	if !ok {
		// Enterprise (or an unknown tier with nothing above it): never upgrade.
		return rec, nil
	}

	// Deterministic iteration so the reason names the same metric every time.
	metrics := make([]types.UsageType, 0, len(rec.Percentages))
	for ut := range rec.Percentages {
		metrics = append(metrics, ut)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

	for _, ut := range metrics {
		if pct := rec.Percentages[ut]; pct >= path.threshold {
			rec.ShouldUpgrade = true
			rec.RecommendedPlan = path.next
			rec.Reason = fmt.Sprintf(
				"%s usage is at %.0f%% of the %s plan limit",
				ut, pct, plan,
			)
			break
		}
	}
	return rec, nil
}
