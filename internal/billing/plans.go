// Package billing provides plan management, quota enforcement, and upgrade
// recommendation logic.
package billing

import "pulsemetrics/internal/types"

// PlanCatalog defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows, covering both
// request-frequency rate limiting and resource-consumption quotas.
type PlanCatalog interface {
	// RateLimitConfig returns the request-frequency config for the given tier.
	// Unknown tiers silently degrade to the Free config; never an error.
	RateLimitConfig(tier types.PlanTier) types.RateLimitConfig

	// AnonymousRateLimitConfig returns the fixed config applied to
	// unauthenticated (IP-keyed) identities. Anonymous is not a PlanTier.
	AnonymousRateLimitConfig() types.RateLimitConfig

	// Limits returns the resource-consumption ceilings for the given tier.
	// Unknown tiers degrade to the Free limits to fail safely.
	Limits(tier types.PlanTier) types.PlanLimits
}

// staticPlanCatalog is a compile-time plan catalog backed by in-memory maps.
// It implements PlanCatalog and is the standard implementation for production
// use; no database or external service is required.
type staticPlanCatalog struct {
	rateLimits map[types.PlanTier]types.RateLimitConfig
	anonymous  types.RateLimitConfig
	limits     map[types.PlanTier]types.PlanLimits
}

// rateLimitDefaults defines the hardcoded per-tier request-frequency configs.
var rateLimitDefaults = map[types.PlanTier]types.RateLimitConfig{
	types.PlanFree:       {RequestsPerMinute: 60, RequestsPerDay: 1000, BurstLimit: 10},
	types.PlanPro:        {RequestsPerMinute: 300, RequestsPerDay: 10000, BurstLimit: 30},
	types.PlanBusiness:   {RequestsPerMinute: 1000, RequestsPerDay: 50000, BurstLimit: 60},
	types.PlanEnterprise: {RequestsPerMinute: 5000, RequestsPerDay: 500000, BurstLimit: 120},
}

// anonymousRateLimit is the fixed config for unauthenticated identities,
// deliberately tighter than any paid tier.
var anonymousRateLimit = types.RateLimitConfig{
	RequestsPerMinute: 20,
	RequestsPerDay:    500,
	BurstLimit:        5,
}

// planLimitDefaults defines the hardcoded per-tier resource quotas.
// Enterprise is unlimited on every consumption metric.
var planLimitDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		APICallsPerDay:       types.Finite(1000),
		APICallsPerMinute:    types.Finite(60),
		AnalysesPerDay:       types.Finite(5),
		ReportsPerMonth:      types.Finite(3),
		ScheduledPostsPerDay: types.Finite(10),
		AIGenerationsPerDay:  types.Finite(10),
		Platforms:            types.Finite(2),
		HistoryDays:          types.Finite(30),
	},
	types.PlanPro: {
		APICallsPerDay:       types.Finite(10000),
		APICallsPerMinute:    types.Finite(300),
		AnalysesPerDay:       types.Finite(50),
		ReportsPerMonth:      types.Finite(20),
		ScheduledPostsPerDay: types.Finite(100),
		AIGenerationsPerDay:  types.Finite(100),
		Platforms:            types.Finite(5),
		HistoryDays:          types.Finite(90),
	},
	types.PlanBusiness: {
		APICallsPerDay:       types.Finite(50000),
		APICallsPerMinute:    types.Finite(1000),
		AnalysesPerDay:       types.Finite(500),
		ReportsPerMonth:      types.Finite(100),
		ScheduledPostsPerDay: types.Finite(1000),
		AIGenerationsPerDay:  types.Finite(500),
		Platforms:            types.Finite(10),
		HistoryDays:          types.Finite(365),
	},
	types.PlanEnterprise: {
		APICallsPerDay:       types.Unlimited,
		APICallsPerMinute:    types.Unlimited,
		AnalysesPerDay:       types.Unlimited,
		ReportsPerMonth:      types.Unlimited,
		ScheduledPostsPerDay: types.Unlimited,
		AIGenerationsPerDay:  types.Unlimited,
		Platforms:            types.Unlimited,
		HistoryDays:          types.Unlimited,
	},
}

// Cached free-tier values to avoid map lookups on the fallback path.
var (
	freeRateLimit = rateLimitDefaults[types.PlanFree]
	freeLimits    = planLimitDefaults[types.PlanFree]
)

// NewStaticPlanCatalog returns a PlanCatalog backed by the hardcoded plan
// tables. This is the standard production implementation.
func NewStaticPlanCatalog() PlanCatalog {
	// Copy the defaults into new maps so callers cannot mutate the
	// package-level variables.
	rl := make(map[types.PlanTier]types.RateLimitConfig, len(rateLimitDefaults))
	for k, v := range rateLimitDefaults {
		rl[k] = v
	}
	pl := make(map[types.PlanTier]types.PlanLimits, len(planLimitDefaults))
	for k, v := range planLimitDefaults {
		pl[k] = v
	}
	return &staticPlanCatalog{rateLimits: rl, anonymous: anonymousRateLimit, limits: pl}
}

// RateLimitConfig returns the request-frequency config for the given tier,
// falling back to the Free config for unknown tiers.
func (c *staticPlanCatalog) RateLimitConfig(tier types.PlanTier) types.RateLimitConfig {
	if cfg, ok := c.rateLimits[tier]; ok {
		return cfg
	}
	return freeRateLimit
}

// AnonymousRateLimitConfig returns the fixed anonymous config.
func (c *staticPlanCatalog) AnonymousRateLimitConfig() types.RateLimitConfig {
	return c.anonymous
}

// Limits returns the resource ceilings for the given tier, falling back to the
// Free limits for unknown tiers.
func (c *staticPlanCatalog) Limits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := c.limits[tier]; ok {
		return limits
	}
	return freeLimits
}
