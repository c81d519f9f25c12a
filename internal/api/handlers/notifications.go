// Package handlers contains the HTTP handler implementations for the
// PulseMetrics API.
//
// This file implements the live notification stream. Connected dashboards
// hold a server-sent-events stream; usage-threshold crossings, upgrade
// suggestions, and broadcasts arrive through the notify hub.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulsemetrics/internal/core"
	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/types"
)

// streamBufferSize is the per-connection notification backlog. A dashboard
// that cannot drain this many events is pruned by the hub on the next send.
const streamBufferSize = 16

// NotificationHub is the channel registry behind the stream. Implemented by
// notify.Hub.
type NotificationHub interface {
	Register(userID string, ch notify.Channel)
	Unregister(userID string, ch notify.Channel)
}

// NotificationHandler serves the SSE notification stream.
type NotificationHandler struct {
	hub    NotificationHub
	logger *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(hub NotificationHub, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{hub: hub, logger: l}
}

// RegisterRoutes mounts the notification endpoints.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications/stream", h.Stream)
}

// Stream handles GET /v1/notifications/stream as a server-sent-events
// stream. The connection registers a buffered channel with the hub and
// relays every notification as one SSE event until the client disconnects.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"streaming is not supported by this connection",
			nil,
		))
		return
	}

	ch := notify.NewBufferedChannel(streamBufferSize)
	h.hub.Register(actor.UserID, ch)
	defer h.hub.Unregister(actor.UserID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-ch.C:
			payload, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("notification marshal failed",
					slog.String("notification_id", n.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, payload)
			flusher.Flush()
		}
	}
}
