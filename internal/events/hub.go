// Package events is the in-process event stream behind /events and the watch TUI.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event types.
const (
	WebhookReceived   = "webhook.received"
	WebhookRejected   = "webhook.rejected"
	WebhookDispatched = "webhook.dispatched"
	WebhookFaulted    = "webhook.faulted"

	DeliveryEnqueued  = "delivery.enqueued"
	DeliveryDelivered = "delivery.delivered"
	DeliveryRetry     = "delivery.retry"
	DeliveryDead      = "delivery.dead"

	MaintenancePruned = "maintenance.pruned"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the producer side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring   []Event
	start  int
	size   int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish is safe on a nil Hub.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	// IDs are assigned under mu so ring and subscriber order match ID order.
	h.nextID++
	ev := Event{
		ID:   h.nextID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Match reports whether eventType is selected by filter, a comma-separated
// list of exact types or "prefix.*" patterns. An empty filter matches everything.
func Match(filter, eventType string) bool {
	if strings.TrimSpace(filter) == "" {
		return true
	}
	for _, f := range strings.Split(filter, ",") {
		f = strings.TrimSpace(f)
		switch {
		case f == "" || f == "*":
			return true
		case strings.HasSuffix(f, ".*"):
			if strings.HasPrefix(eventType, strings.TrimSuffix(f, "*")) {
				return true
			}
		case f == eventType:
			return true
		}
	}
	return false
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
