package infrastructure

import (
	"sync"

	"github.com/yourusername/chapterdl/internal/domain"
)

const subscriberBuffer = 16

// EventHub fans queue events out to websocket subscribers
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[chan domain.QueueEvent]struct{}
	closed      bool
	last        *domain.QueueEvent
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[chan domain.QueueEvent]struct{}),
	}
}

// Subscribe registers a subscriber. The latest event, if any, is delivered
// first. The returned func unsubscribes and closes the channel.
func (h *EventHub) Subscribe() (<-chan domain.QueueEvent, func()) {
	ch := make(chan domain.QueueEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	if h.last != nil {
		ch <- *h.last
	}
	h.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers event to every subscriber whose buffer has room. Slow
// subscribers miss events rather than blocking the downloader.
func (h *EventHub) Publish(event domain.QueueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.last = &event

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
