// Package monitor streams live conversation events to operator dashboards
// over WebSocket.
package monitor

import (
	"log/slog"
	"sync"
	"time"
)

// TurnEvent is one processed turn as seen by operators. Raw slot values are
// omitted; only shape-level dialogue data is streamed.
type TurnEvent struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Turn      int64     `json:"turn"`
	InputKind string    `json:"input_kind"`
	Intent    string    `json:"intent,omitempty"`
	State     string    `json:"state"`
	Decision  string    `json:"decision"`
	ActionID  string    `json:"action_id,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
}

// Hub fans TurnEvents out to all connected subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan TurnEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[chan TurnEvent]struct{}),
	}
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(event TurnEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("monitor subscriber lagging, event dropped")
		}
	}
}

// Subscribe registers a new subscriber channel. The returned cancel func must
// be called when the subscriber disconnects.
func (h *Hub) Subscribe() (<-chan TurnEvent, func()) {
	ch := make(chan TurnEvent, 64)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
