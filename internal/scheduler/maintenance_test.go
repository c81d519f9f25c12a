package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

type mockBroadcaster struct {
	sent    []types.Notification
	reached int
}

var _ Broadcaster = (*mockBroadcaster)(nil)

func (m *mockBroadcaster) Broadcast(n types.Notification) int {
	m.sent = append(m.sent, n)
	return m.reached
}

func TestMaintenanceAnnouncer_BroadcastsWindow(t *testing.T) {
	hub := &mockBroadcaster{reached: 7}
	a := NewMaintenanceAnnouncer(hub, schedulerTestLogger())

	window := MaintenanceWindow{
		Message:  "database failover drill",
		StartsAt: time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC),
	}
	reached := a.Announce(context.Background(), window)

	assert.Equal(t, 7, reached)
	require.Len(t, hub.sent, 1)
	assert.Equal(t, types.NotifSystemMaintenance, hub.sent[0].Type)
	assert.Equal(t, "database failover drill", hub.sent[0].Payload["message"])
	assert.Equal(t, "2026-09-01T02:00:00Z", hub.sent[0].Payload["starts_at"])
}
