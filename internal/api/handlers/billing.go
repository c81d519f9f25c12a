// Package handlers contains the HTTP handler implementations for the
// PulseMetrics API.
//
// This file implements the billing surface:
//   - Current plan inspection (limits plus rate-limit windows)
//   - Upgrade recommendations
//   - Plan changes through the payment provider
//   - Standalone quota checks
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pulsemetrics/internal/billing"
	"pulsemetrics/internal/core"
	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/types"
)

// --- Service Interfaces ---

// PlanAdvisor computes upgrade recommendations. Implemented by
// billing.UpgradeAdvisor.
type PlanAdvisor interface {
	Recommend(ctx context.Context, userID string, plan types.PlanTier) (types.UpgradeRecommendation, error)
}

// PaymentProvider abstracts the payment processor behind plan changes.
// Implemented by external.StripeProvider.
type PaymentProvider interface {
	// ChangePlan moves the user's subscription to the target tier and
	// returns the provider-side subscription ID.
	ChangePlan(ctx context.Context, userID string, target types.PlanTier) (string, error)
}

// NotificationPusher fans an event out to a user's connected dashboard
// channels. Implemented by notify.Hub.
type NotificationPusher interface {
	SendToUser(userID string, n types.Notification) int
}

// --- Request/Response Models ---

// ChangePlanRequest is the request body for POST /v1/billing/plan.
type ChangePlanRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,oneof=free pro business enterprise"`
}

// PlanResponse describes the caller's current plan in full.
type PlanResponse struct {
	Plan       types.PlanTier        `json:"plan"`
	Limits     types.PlanLimits      `json:"limits"`
	RateLimits types.RateLimitConfig `json:"rate_limits"`
}

// ChangePlanResponse is the response for POST /v1/billing/plan.
type ChangePlanResponse struct {
	Plan           types.PlanTier   `json:"plan"`
	SubscriptionID string           `json:"subscription_id"`
	Limits         types.PlanLimits `json:"limits"`
}

// --- Handler ---

// BillingHandler serves plan inspection, upgrade recommendations, plan
// changes, and standalone quota checks.
type BillingHandler struct {
	catalog   billing.PlanCatalog
	advisor   PlanAdvisor
	quota     QuotaChecker
	payments  PaymentProvider
	notifier  NotificationPusher
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler with the provided
// dependencies. The notifier may be nil, disabling plan-change pushes.
func NewBillingHandler(
	catalog billing.PlanCatalog,
	advisor PlanAdvisor,
	quota QuotaChecker,
	payments PaymentProvider,
	notifier NotificationPusher,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		catalog:   catalog,
		advisor:   advisor,
		quota:     quota,
		payments:  payments,
		notifier:  notifier,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts all billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Get("/plan", h.GetPlan)
		r.Post("/plan", h.ChangePlan)
		r.Get("/recommendation", h.GetRecommendation)
		r.Get("/quota/{usageType}", h.CheckQuota)
	})
}

// GetPlan handles GET /v1/billing/plan.
func (h *BillingHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	resp := PlanResponse{
		Plan:       actor.Plan,
		Limits:     h.catalog.Limits(actor.Plan),
		RateLimits: h.catalog.RateLimitConfig(actor.Plan),
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// GetRecommendation handles GET /v1/billing/recommendation. The response
// always carries the per-resource usage percentages; should_upgrade flips
// only when a metric crosses the plan's threshold. Enterprise users never
// receive a recommendation.
func (h *BillingHandler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	rec, err := h.advisor.Recommend(r.Context(), actor.UserID, actor.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

// ChangePlan handles POST /v1/billing/plan.
//
// The payment provider is the source of truth for the subscription change;
// only after it succeeds is the new tier reported and a dashboard_update
// pushed to the user's connected channels. A change to the current tier is
// rejected as a validation error.
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Plan == actor.Plan {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationPlan,
			"already on the "+string(req.Plan)+" plan",
			nil,
		))
		return
	}

	subscriptionID, err := h.payments.ChangePlan(r.Context(), actor.UserID, req.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("plan changed",
		slog.String("user_id", actor.UserID),
		slog.String("from", string(actor.Plan)),
		slog.String("to", string(req.Plan)),
	)

	if h.notifier != nil {
		h.notifier.SendToUser(actor.UserID, notify.NewNotification(
			types.NotifDashboardUpdate,
			map[string]any{
				"event":    "plan_changed",
				"previous": actor.Plan,
				"plan":     req.Plan,
			},
		))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: ChangePlanResponse{
			Plan:           req.Plan,
			SubscriptionID: subscriptionID,
			Limits:         h.catalog.Limits(req.Plan),
		},
	})
}

// CheckQuota handles GET /v1/billing/quota/{usageType}?count=N.
//
// The decision is a value, not an error: the response is 200 whether or not
// the proposed consumption would be allowed. Count defaults to 1.
func (h *BillingHandler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	usageType := types.UsageType(chi.URLParam(r, "usageType"))
	if !usageType.Valid() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationUsageType,
			"unknown usage type: "+string(usageType),
			nil,
		))
		return
	}

	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationCount,
				"count must be a positive number",
				nil,
			))
			return
		}
		count = parsed
	}

	decision, err := h.quota.CheckLimit(r.Context(), actor.UserID, actor.Plan, usageType, count)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}
