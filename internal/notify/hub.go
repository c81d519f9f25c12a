// Package notify fans usage and billing events out to a user's live
// dashboard connections. The hub holds an in-memory registry of transport
// channels per user; delivery is fire-and-forget and channels that refuse a
// message are pruned on the spot.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsemetrics/internal/metrics"
	"pulsemetrics/internal/types"
)

// Channel is one live transport to a connected client. Send must not block
// indefinitely: a channel that cannot accept the message returns an error
// and is pruned from the hub.
type Channel interface {
	Send(n types.Notification) error
}

// Hub is the per-user channel registry. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[Channel]struct{}
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[Channel]struct{}),
		logger:   logger,
	}
}

// Register attaches a channel to the user. One user may hold any number of
// channels (multiple tabs, multiple devices).
func (h *Hub) Register(userID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.channels[userID]
	if !ok {
		set = make(map[Channel]struct{})
		h.channels[userID] = set
	}
	set[ch] = struct{}{}
}

// Unregister detaches a channel from the user. Unknown channels are a no-op.
// The user's entry is removed entirely once its last channel is gone.
func (h *Hub) Unregister(userID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(userID, ch)
}

func (h *Hub) removeLocked(userID string, ch Channel) {
	set, ok := h.channels[userID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.channels, userID)
	}
}

// SendToUser delivers the notification to every live channel the user has,
// pruning any channel that fails to accept it. Returns the number of
// successful deliveries; zero (no live channels) is a normal outcome, not
// an error. A failing channel never blocks delivery to the others.
func (h *Hub) SendToUser(userID string, n types.Notification) int {
	h.mu.RLock()
	set := h.channels[userID]
	targets := make([]Channel, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []Channel
	for _, ch := range targets {
		if err := ch.Send(n); err != nil {
			failed = append(failed, ch)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.NotificationsDelivered.WithLabelValues(string(n.Type)).Add(float64(delivered))
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, ch := range failed {
			h.removeLocked(userID, ch)
		}
		h.mu.Unlock()
		h.logger.Debug("pruned dead notification channels",
			"user_id", userID, "pruned", len(failed), "type", n.Type)
	}

	return delivered
}

// Broadcast delivers the notification to every currently-connected user.
// Returns the total number of successful deliveries.
func (h *Hub) Broadcast(n types.Notification) int {
	h.mu.RLock()
	users := make([]string, 0, len(h.channels))
	for userID := range h.channels {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, userID := range users {
		delivered += h.SendToUser(userID, n)
	}
	return delivered
}

// ConnectedUsers returns the number of users with at least one live channel.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// NewNotification builds an immutable event with a fresh ID and a UTC
// timestamp.
func NewNotification(t types.NotificationType, payload map[string]any) types.Notification {
	return types.Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// BufferedChannel is an in-process Channel backed by a bounded Go channel.
// It is the bridge between the hub and a connection's writer goroutine:
// the writer drains C while the hub pushes into it. Send fails once the
// buffer is full, which the hub treats as a dead client and prunes.
type BufferedChannel struct {
	C chan types.Notification
}

// NewBufferedChannel creates a BufferedChannel holding up to size pending
// notifications.
func NewBufferedChannel(size int) *BufferedChannel {
	return &BufferedChannel{C: make(chan types.Notification, size)}
}

// Send enqueues the notification without blocking.
func (b *BufferedChannel) Send(n types.Notification) error {
	select {
	case b.C <- n:
		return nil
	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected, "notification channel full", nil)
	}
}
