package notify

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

type stubChannel struct {
	mu       sync.Mutex
	received []types.Notification
	fail     bool
}

func (c *stubChannel) Send(n types.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.received = append(c.received, n)
	return nil
}

func (c *stubChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_SendToUser_DeliversToAllChannels(t *testing.T) {
	hub := newTestHub()
	a, b := &stubChannel{}, &stubChannel{}
	hub.Register("user_1", a)
	hub.Register("user_1", b)

	n := NewNotification(types.NotifUsageThreshold, map[string]any{"threshold": 80})
	delivered := hub.SendToUser("user_1", n)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestHub_SendToUser_NoChannelsIsZeroNotError(t *testing.T) {
	hub := newTestHub()
	delivered := hub.SendToUser("nobody", NewNotification(types.NotifDashboardUpdate, nil))
	assert.Zero(t, delivered)
}

func TestHub_SendToUser_PrunesFailedChannels(t *testing.T) {
	hub := newTestHub()
	healthy, dead := &stubChannel{}, &stubChannel{fail: true}
	hub.Register("user_1", healthy)
	hub.Register("user_1", dead)

	delivered := hub.SendToUser("user_1", NewNotification(types.NotifUsageThreshold, nil))
	assert.Equal(t, 1, delivered)

	// The dead channel is gone; only the healthy one receives the next send.
	dead.fail = false
	delivered = hub.SendToUser("user_1", NewNotification(types.NotifUsageThreshold, nil))
	assert.Equal(t, 1, delivered)
	assert.Zero(t, dead.count())
	assert.Equal(t, 2, healthy.count())
}

func TestHub_Unregister_RemovesUserWhenLastChannelGoes(t *testing.T) {
	hub := newTestHub()
	ch := &stubChannel{}
	hub.Register("user_1", ch)
	require.Equal(t, 1, hub.ConnectedUsers())

	hub.Unregister("user_1", ch)
	assert.Zero(t, hub.ConnectedUsers())
	assert.Zero(t, hub.SendToUser("user_1", NewNotification(types.NotifDashboardUpdate, nil)))
}

func TestHub_Broadcast_ReachesEveryConnectedUser(t *testing.T) {
	hub := newTestHub()
	a, b := &stubChannel{}, &stubChannel{}
	hub.Register("user_1", a)
	hub.Register("user_2", b)

	delivered := hub.Broadcast(NewNotification(types.NotifSystemMaintenance, map[string]any{"window": "02:00Z"}))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestHub_ConcurrentRegisterAndSend(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Register("user_1", &stubChannel{})
		}()
		go func() {
			defer wg.Done()
			hub.SendToUser("user_1", NewNotification(types.NotifUsageThreshold, nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, hub.ConnectedUsers())
}

func TestNewNotification_PopulatesIDAndTimestamp(t *testing.T) {
	n := NewNotification(types.NotifUpgradeSuggested, map[string]any{"plan": "pro"})
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.Timestamp.IsZero())
	assert.Equal(t, types.NotifUpgradeSuggested, n.Type)
}

func TestBufferedChannel_FailsWhenFull(t *testing.T) {
	ch := NewBufferedChannel(1)
	require.NoError(t, ch.Send(NewNotification(types.NotifUsageThreshold, nil)))
	err := ch.Send(NewNotification(types.NotifUsageThreshold, nil))
	require.Error(t, err)
}
