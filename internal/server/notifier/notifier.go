// Package notifier provides a simple broadcast mechanism for SSE updates.
package notifier

import "sync"

// Event types pushed to SSE listeners.
const (
	// EventRefresh signals that an instance finished a refresh cycle.
	EventRefresh = "refresh"
	// EventAlert signals that one or more alert rules fired.
	EventAlert = "alert"
)

// Event is a single update pushed to listeners.
type Event struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
	Detail   string `json:"detail,omitempty"`
}

// Notifier broadcasts events to all subscribed listeners.
// Listeners receive the event itself rather than a bare ping so the
// SSE layer can name the event without re-querying anything.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Event]struct{}
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast events.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 8)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Broadcast sends an event to all listeners.
// Non-blocking: if a listener's channel is full, the event is skipped.
func (n *Notifier) Broadcast(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- ev:
		default:
			// Channel full, skip (listener will catch up on next broadcast)
		}
	}
}
