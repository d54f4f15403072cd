// Package notify fans transaction lifecycle events out to the active client
// connections of a user. Delivery is best-effort: subscribers that cannot
// keep up lose events, and the authoritative state stays in the store.
package notify

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sidverma/settlecore/internal/domain"
)

// Subscription is one live consumer of a user's events. Events arrives
// buffered; when the buffer is full further events are dropped.
type Subscription struct {
	Events chan domain.Event

	userID string
	hub    *Hub
}

// Close detaches the subscription from the hub and closes its channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub is a publish/subscribe registry keyed by user id.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	bufSize int
	log     zerolog.Logger
}

func NewHub(bufSize int, log zerolog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{
		subs:    make(map[string][]*Subscription),
		bufSize: bufSize,
		log:     log,
	}
}

// Subscribe registers a new consumer for a user's events.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		Events: make(chan domain.Event, h.bufSize),
		userID: userID,
		hub:    h,
	}
	h.mu.Lock()
	h.subs[userID] = append(h.subs[userID], sub)
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.subs[sub.userID]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			close(sub.Events)
			break
		}
	}
	if len(list) == 0 {
		delete(h.subs, sub.userID)
	} else {
		h.subs[sub.userID] = list
	}
}

// Publish broadcasts an event to every active subscription for the user.
// Subscriptions with a full buffer are skipped.
func (h *Hub) Publish(userID string, evt domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[userID] {
		select {
		case sub.Events <- evt:
		default:
			h.log.Debug().
				Str("user_id", userID).
				Str("event", string(evt.Type)).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers reports the number of active subscriptions for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
