package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Lifecycle event types emitted by the storage layer.
const (
	TypeBucketCreated = "bucket.created"
	TypeBucketRemoved = "bucket.removed"
	TypeFileCreated   = "file.created"
	TypeFileRemoved   = "file.removed"
)

// Event is a best-effort lifecycle notification. There is no delivery or
// ordering guarantee; a failed publish never rolls back the storage mutation
// that triggered it.
type Event struct {
	Type    string          `json:"type"`
	Owner   string          `json:"owner"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Publisher is the notification boundary the storage services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub fans events out to all current subscribers. Subscribers that cannot
// keep up have events dropped rather than blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber channel. The returned cancel func must be
// called to release it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber, dropping it for
// subscribers whose buffers are full.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Marshal encodes v as the event payload, returning nil on failure since
// notifications are best-effort.
func Marshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
