// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Kind identifies a notification.
type Kind string

const (
	KindTrackQueued    Kind = "track_queued"
	KindPlaylistQueued Kind = "playlist_queued"
	KindNoMatches      Kind = "no_matches"
	KindLoadFailed     Kind = "load_failed"
	KindTrackStarted   Kind = "track_started"
	KindTrackFailed    Kind = "track_failed"
	KindQueueEmpty     Kind = "queue_empty"
	KindSessionClosed  Kind = "session_closed"
)

// Notification is a status or playback event for one tenant.
type Notification struct {
	SequenceNo uint64    `json:"sequenceNo"`
	TenantID   string    `json:"guildId"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title,omitempty"`
	URI        string    `json:"uri,omitempty"`
	Name       string    `json:"name,omitempty"`
	Count      int       `json:"count,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id       string
	tenantID string // Empty receives every tenant
	stream   Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   500 * time.Millisecond,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// An empty tenantID subscribes to every tenant.
func (m *Manager) Subscribe(tenantID string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:       id,
		tenantID: tenantID,
		stream:   stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps the notification with the next sequence number and sends
// it to every matching subscriber. Each send runs in its own goroutine with
// a timeout; a subscriber whose send fails is removed.
func (m *Manager) Broadcast(n *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.tenantID == "" || sub.tenantID == n.TenantID {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: send failed, unsubscribing: id=%s error=%v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s kind=%s", s.id, n.Kind)
			}
		}(sub)
	}
	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
