// Package events fans saga status changes out to in-process
// subscribers, feeding the websocket endpoint.
package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/sagaflow/sagaflow/pkg/saga"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// EventSagaStatus is emitted after every engine entry.
const EventSagaStatus = "saga.status_changed"

// Broadcaster delivers events to subscriber channels. Slow subscribers
// drop events rather than block the engine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

var _ saga.Observer = (*Broadcaster)(nil)

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a buffered subscriber channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast delivers the event to every subscriber, dropping it on
// full buffers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SagaUpdated emits a status event for the saga. Implements the
// engine's Observer port.
func (b *Broadcaster) SagaUpdated(sc *saga.SagaContext) {
	payload := map[string]any{
		"order_id":   strconv.FormatInt(sc.OrderID, 10),
		"order_no":   sc.OrderNo,
		"status":     string(sc.Status),
		"terminal":   sc.IsTerminal(),
		"updated_at": sc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if res := sc.LastResult; res != nil && res.ErrorCode != saga.CodeOK {
		payload["error_code"] = int(res.ErrorCode)
		payload["error"] = res.ErrorMessage
	}

	b.Broadcast(Event{Type: EventSagaStatus, Payload: payload})
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// OrderIDFromPayload extracts the order id used for subscription
// filtering, or "" when the event is not saga-scoped.
func OrderIDFromPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	if id, ok := m["order_id"].(string); ok {
		return id
	}
	return ""
}
