// Package handlers contains the HTTP handler implementations for the
// PulseMetrics API.
//
// This file implements the Stripe webhook surface. Stripe calls back after
// asynchronous subscription lifecycle events (renewals, cancellations at
// period end, failed payments); the handler verifies the signature, maps the
// event onto the affected user, and pushes a dashboard notification.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulsemetrics/internal/core"
	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/types"
)

// maxWebhookBody caps the webhook request body at 64 KiB. Stripe events are
// far smaller; anything larger is not a legitimate event.
const maxWebhookBody = 64 << 10

// WebhookVerifier checks a webhook payload against its signature header.
// Implemented by external.StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// WebhookHandler receives payment provider callbacks.
type WebhookHandler struct {
	verifier WebhookVerifier
	notifier NotificationPusher
	secret   types.SecretString
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. The notifier may be nil,
// disabling dashboard pushes.
func NewWebhookHandler(verifier WebhookVerifier, notifier NotificationPusher, secret types.SecretString, l *slog.Logger) *WebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &WebhookHandler{
		verifier: verifier,
		notifier: notifier,
		secret:   secret,
		logger:   l,
	}
}

// RegisterRoutes mounts the webhook endpoints. These routes are mounted
// outside the authenticated /v1 tree; Stripe authenticates via signature.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleStripe)
}

// stripeEvent is the subset of the Stripe event envelope the handler reads.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// HandleStripe handles POST /webhooks/stripe.
//
// Signature failures return 400 so Stripe surfaces the misconfiguration;
// unhandled event types return 200 so Stripe does not retry them. Processing
// is deliberately idempotent: replaying an event re-sends at most a dashboard
// notification.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read webhook body", err))
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := h.verifier.Verify(payload, sig, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "stripe webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid webhook signature", err))
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed webhook event", err))
		return
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.deleted":
		h.handleSubscriptionEvent(r, event)
	case "invoice.payment_failed":
		h.handlePaymentFailed(r, event)
	default:
		h.logger.DebugContext(r.Context(), "ignoring stripe event", "event_type", event.Type)
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) handleSubscriptionEvent(r *http.Request, event stripeEvent) {
	userID := event.Data.Object.Metadata["user_id"]
	if userID == "" {
		h.logger.WarnContext(r.Context(), "stripe subscription event without user_id metadata",
			"event_id", event.ID,
			"subscription_id", event.Data.Object.ID,
		)
		return
	}

	h.logger.InfoContext(r.Context(), "stripe subscription event",
		"event_type", event.Type,
		"user_id", userID,
		"subscription_id", event.Data.Object.ID,
		"status", event.Data.Object.Status,
	)

	if h.notifier == nil {
		return
	}
	h.notifier.SendToUser(userID, notify.NewNotification(types.NotifSubscriptionUpdated, map[string]any{
		"subscription_id": event.Data.Object.ID,
		"status":          event.Data.Object.Status,
	}))
}

func (h *WebhookHandler) handlePaymentFailed(r *http.Request, event stripeEvent) {
	userID := event.Data.Object.Metadata["user_id"]
	if userID == "" || h.notifier == nil {
		return
	}
	h.notifier.SendToUser(userID, notify.NewNotification(types.NotifPaymentFailed, map[string]any{
		"invoice_id": event.Data.Object.ID,
	}))
}
