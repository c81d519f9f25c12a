package scheduler

import (
	"context"
	"log/slog"
	"time"

	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/types"
)

// Broadcaster fans a notification out to every connected user. Implemented
// by notify.Hub.
type Broadcaster interface {
	Broadcast(n types.Notification) int
}

// MaintenanceWindow describes a planned maintenance announcement.
type MaintenanceWindow struct {
	Message  string    `json:"message"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// MaintenanceAnnouncer pushes maintenance windows to all connected
// dashboards. Announcements reach only currently connected users; the window
// should be announced again closer to its start.
type MaintenanceAnnouncer struct {
	hub    Broadcaster
	logger *slog.Logger
}

// NewMaintenanceAnnouncer creates the announcer.
func NewMaintenanceAnnouncer(hub Broadcaster, logger *slog.Logger) *MaintenanceAnnouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceAnnouncer{hub: hub, logger: logger}
}

// Announce broadcasts the window and returns the number of users reached.
func (a *MaintenanceAnnouncer) Announce(ctx context.Context, window MaintenanceWindow) int {
	reached := a.hub.Broadcast(notify.NewNotification(types.NotifSystemMaintenance, map[string]any{
		"message":   window.Message,
		"starts_at": window.StartsAt.UTC().Format(time.RFC3339),
		"ends_at":   window.EndsAt.UTC().Format(time.RFC3339),
	}))

	a.logger.InfoContext(ctx, "maintenance window announced",
		"starts_at", window.StartsAt,
		"ends_at", window.EndsAt,
		"reached", reached,
	)
	return reached
}
