// Package handlers contains the HTTP handler implementations for the
// PulseMetrics API.
//
// This file implements the usage surface:
//   - Composite dashboard read
//   - Daily usage history and trend comparison
//   - Monthly summaries (stored or derived)
//   - Paginated API call logs
//   - Quota-gated usage recording
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pulsemetrics/internal/core"
	"pulsemetrics/internal/db"
	"pulsemetrics/internal/metrics"
	"pulsemetrics/internal/types"
)

// --- Service Interfaces ---
//
// These interfaces are defined locally: the handler declares the contract it
// needs and implementations are injected via the constructor. This avoids
// coupling to concrete types and enables test mocking.

// UsageService is the accounting surface the usage handler reads and writes.
// Implemented by usage.Service.
type UsageService interface {
	Dashboard(ctx context.Context, userID string, plan types.PlanTier) (*types.UsageDashboard, error)
	History(ctx context.Context, userID string, start, end time.Time) (*types.UsageHistory, error)
	MonthlySummary(ctx context.Context, userID, yearMonth string) (*types.MonthlyUsageSummary, error)
	Trend(ctx context.Context, userID string, days int) (*types.UsageTrend, error)
	APICallLogs(ctx context.Context, userID string, params db.APICallLogListParams) ([]types.APICallLog, types.PageInfo, error)
	Increment(ctx context.Context, userID string, plan types.PlanTier, usageType types.UsageType, count int, platform string) (*types.DailyUsage, error)
}

// QuotaChecker gates usage recording against plan allowances. Implemented by
// billing.QuotaEnforcer.
type QuotaChecker interface {
	CheckLimit(ctx context.Context, userID string, plan types.PlanTier, usageType types.UsageType, count int) (types.QuotaDecision, error)
}

// --- Request/Response Models ---

// RecordUsageRequest is the request body for POST /v1/usage.
type RecordUsageRequest struct {
	UsageType types.UsageType `json:"usage_type" validate:"required"`
	Count     int             `json:"count" validate:"required,gt=0"`
	Platform  string          `json:"platform,omitempty"`
}

// RecordUsageResponse is the response for POST /v1/usage.
type RecordUsageResponse struct {
	Recorded bool              `json:"recorded"`
	Today    *types.DailyUsage `json:"today"`
}

// HistoryResponse is the response for GET /v1/usage/history.
type HistoryResponse struct {
	History *types.UsageHistory `json:"history"`
}

// --- Constants ---

const (
	// defaultHistoryDays is the window returned by GET /v1/usage/history
	// when no explicit range is given.
	defaultHistoryDays = 30

	// maxHistoryDays caps an explicit history range.
	maxHistoryDays = 365

	// defaultTrendDays is the comparison period for GET /v1/usage/trend.
	defaultTrendDays = 7

	// maxTrendDays caps an explicit trend period.
	maxTrendDays = 90

	// dateFormat is the wire format for history range parameters.
	dateFormat = "2006-01-02"
)

// --- Handler ---

// UsageHandler serves the per-user usage read surface and quota-gated
// usage recording.
type UsageHandler struct {
	usage     UsageService
	quota     QuotaChecker
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewUsageHandler creates a new UsageHandler with the provided dependencies.
func NewUsageHandler(usage UsageService, quota QuotaChecker, v *core.Validator, l *slog.Logger) *UsageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{
		usage:     usage,
		quota:     quota,
		validator: v,
		logger:    l,
		now:       time.Now,
	}
}

// RegisterRoutes mounts all usage endpoints.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Route("/usage", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/history", h.GetHistory)
		r.Get("/trend", h.GetTrend)
		r.Get("/logs", h.ListLogs)
		r.Get("/summary/{yearMonth}", h.GetMonthlySummary)
		r.Post("/", h.RecordUsage)
	})
}

// GetDashboard handles GET /v1/usage/dashboard: today's counters, plan
// limits, remaining-by-resource, the running monthly summary, the 7-day
// trend, and the upgrade recommendation in one composite read.
func (h *UsageHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	dashboard, err := h.usage.Dashboard(r.Context(), actor.UserID, actor.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: dashboard})
}

// GetHistory handles GET /v1/usage/history?start=YYYY-MM-DD&end=YYYY-MM-DD.
// Defaults to the trailing 30 days. Days with no activity are absent from
// the result rather than zero-filled.
func (h *UsageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	end := h.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(defaultHistoryDays - 1))

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(dateFormat, raw)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationDateRange,
				"start must be a date in YYYY-MM-DD format",
				err,
			))
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(dateFormat, raw)
		if err != nil {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationDateRange,
				"end must be a date in YYYY-MM-DD format",
				err,
			))
			return
		}
		end = parsed
	}

	if end.Sub(start) > maxHistoryDays*24*time.Hour {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationDateRange,
			"history range must not exceed 365 days",
			nil,
		))
		return
	}

	history, err := h.usage.History(r.Context(), actor.UserID, start, end)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: HistoryResponse{History: history}})
}

// GetTrend handles GET /v1/usage/trend?days=N. Compares the trailing N days
// against the N days before them.
func (h *UsageHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	days := defaultTrendDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxTrendDays {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationDateRange,
				"days must be a number between 1 and 90",
				nil,
			))
			return
		}
		days = parsed
	}

	trend, err := h.usage.Trend(r.Context(), actor.UserID, days)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: trend})
}

// GetMonthlySummary handles GET /v1/usage/summary/{yearMonth} with yearMonth
// in YYYY-MM format. A stored rollup is preferred; otherwise the summary is
// derived from the daily rows. Months with no activity return 404.
func (h *UsageHandler) GetMonthlySummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	yearMonth := chi.URLParam(r, "yearMonth")
	summary, err := h.usage.MonthlySummary(r.Context(), actor.UserID, yearMonth)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if summary == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundUsage,
			"no usage recorded for "+yearMonth,
			nil,
		))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// ListLogs handles GET /v1/usage/logs?page=N&per_page=N&endpoint=substr.
// Results are ordered newest first.
func (h *UsageHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	params := db.APICallLogListParams{
		Endpoint: r.URL.Query().Get("endpoint"),
	}

	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationPagination,
				"page must be a positive number",
				nil,
			))
			return
		}
		params.Page = page
	}
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil || perPage < 1 || perPage > 100 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationPagination,
				"per_page must be a number between 1 and 100",
				nil,
			))
			return
		}
		params.PerPage = perPage
	}

	logs, pageInfo, err := h.usage.APICallLogs(r.Context(), actor.UserID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: logs,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// RecordUsage handles POST /v1/usage. The quota is checked before anything
// is written; a denial is a 403 with the decision in the error details, and
// the counters are untouched. On admission the increment lands atomically
// and the updated daily row is returned.
func (h *UsageHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req RecordUsageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if !req.UsageType.Valid() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationUsageType,
			"unknown usage type: "+string(req.UsageType),
			nil,
		))
		return
	}

	decision, err := h.quota.CheckLimit(r.Context(), actor.UserID, actor.Plan, req.UsageType, req.Count)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !decision.Allowed {
		metrics.QuotaDenials.WithLabelValues(string(req.UsageType), string(actor.Plan)).Inc()
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeQuotaExceeded,
			decision.Message,
			nil,
			map[string]any{
				"usage_type": decision.Type,
				"current":    decision.Current,
				"limit":      decision.Limit,
			},
		))
		return
	}

	today, err := h.usage.Increment(r.Context(), actor.UserID, actor.Plan, req.UsageType, req.Count, req.Platform)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	metrics.UsageIncrements.WithLabelValues(string(req.UsageType)).Inc()

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: RecordUsageResponse{Recorded: true, Today: today},
	})
}
