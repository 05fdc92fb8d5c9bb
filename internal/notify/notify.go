// Package notify is the Notifier: a per-user fan-out hub delivering
// best-effort events to live subscribers (typically SSE connections held
// open by internal/httpapi). Grounded on the teacher's internal/a2a/sse
// writer/flush pattern and the fan-out map structure in
// original_source/backend/app/services/websocket.py::ConnectionManager.
package notify

import "sync"

// Event is a notification payload pushed to subscribers.
type Event struct {
	Type string
	Data any
}

// Sink receives published events. Publish ignores an error from Send: a
// failing Sink stays subscribed until Unsubscribe removes it. Send must
// not block, since Publish calls each sink in turn.
type Sink interface {
	Send(Event) error
}

// Hub holds live sinks per user and fans events out to them.
type Hub struct {
	mu    sync.RWMutex
	sinks map[string][]Sink
}

func NewHub() *Hub {
	return &Hub{sinks: make(map[string][]Sink)}
}

// Subscribe registers sink to receive events published for userID.
func (h *Hub) Subscribe(userID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[userID] = append(h.sinks[userID], sink)
}

// Unsubscribe removes sink from userID's live set.
func (h *Hub) Unsubscribe(userID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.sinks[userID]
	for i, s := range list {
		if s == sink {
			h.sinks[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.sinks[userID]) == 0 {
		delete(h.sinks, userID)
	}
}

// Publish delivers event to every live sink subscribed for userID. A
// failing sink's error is discarded and delivery continues to the other
// sinks.
func (h *Hub) Publish(userID string, event Event) {
	h.mu.RLock()
	sinks := append([]Sink(nil), h.sinks[userID]...)
	h.mu.RUnlock()

	for _, s := range sinks {
		_ = s.Send(event) // best-effort, fire-and-forget per spec
	}
}

// Broadcast delivers event to every subscriber across every user.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	allUsers := make([]string, 0, len(h.sinks))
	for userID := range h.sinks {
		allUsers = append(allUsers, userID)
	}
	h.mu.RUnlock()

	for _, userID := range allUsers {
		h.Publish(userID, event)
	}
}
