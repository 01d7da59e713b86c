// ABOUTME: Fan-out of session snapshots to UI subscribers, keyed by session id
// ABOUTME: Non-blocking publish; a slow subscriber drops updates, never stalls the pump

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const updateBufferSize = 64

type updateSubscriber struct {
	id      string
	channel chan SessionSnapshot
}

// UpdateBroadcaster delivers session snapshots to subscribers. Snapshots
// are deep copies, so subscribers may hold them across publishes.
type UpdateBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string][]*updateSubscriber
	logger      *slog.Logger
}

// NewUpdateBroadcaster creates a broadcaster with no subscribers.
func NewUpdateBroadcaster(logger *slog.Logger) *UpdateBroadcaster {
	return &UpdateBroadcaster{
		subscribers: make(map[string][]*updateSubscriber),
		logger:      logger.With("component", "update-broadcaster"),
	}
}

// Subscribe registers for snapshots of one session. The subscription is
// removed and the channel closed when ctx is cancelled.
func (b *UpdateBroadcaster) Subscribe(ctx context.Context, sessionID string) <-chan SessionSnapshot {
	sub := &updateSubscriber{
		id:      uuid.New().String(),
		channel: make(chan SessionSnapshot, updateBufferSize),
	}

	b.mu.Lock()
	b.subscribers[sessionID] = append(b.subscribers[sessionID], sub)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "subscriber_id", sub.id)

	go func() {
		<-ctx.Done()
		b.unsubscribe(sessionID, sub)
	}()

	return sub.channel
}

func (b *UpdateBroadcaster) unsubscribe(sessionID string, sub *updateSubscriber) {
	b.mu.Lock()
	subs := b.subscribers[sessionID]
	for i, candidate := range subs {
		if candidate == sub {
			b.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			close(sub.channel)
			break
		}
	}
	if len(b.subscribers[sessionID]) == 0 {
		delete(b.subscribers, sessionID)
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber removed", "session_id", sessionID, "subscriber_id", sub.id)
}

// Publish fans a snapshot out to the session's subscribers. Full
// channels are skipped; the subscriber catches up on the next publish.
func (b *UpdateBroadcaster) Publish(sessionID string, snap SessionSnapshot) {
	b.mu.RLock()
	subs := append([]*updateSubscriber(nil), b.subscribers[sessionID]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.channel <- snap:
		default:
			b.logger.Warn("subscriber channel full, dropping update",
				"session_id", sessionID, "subscriber_id", sub.id)
		}
	}
}

// Rekey moves a session's subscribers to a new id after the server
// assigns the permanent session id.
func (b *UpdateBroadcaster) Rekey(oldID, newID string) {
	if oldID == newID {
		return
	}
	b.mu.Lock()
	if subs, ok := b.subscribers[oldID]; ok {
		b.subscribers[newID] = append(b.subscribers[newID], subs...)
		delete(b.subscribers, oldID)
	}
	b.mu.Unlock()
}
