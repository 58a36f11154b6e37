package registry

import (
	"sync"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/metrics"
)

const eventQueueSize = 8

// eventHub fans room lifecycle events out to subscribers. Sends never
// block: a subscriber that stops draining its channel loses events rather
// than stalling the registry.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan api.RoomEvent]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan api.RoomEvent]struct{})}
}

// subscribe returns a receive channel and a cancel func. The channel is
// closed by cancel or when the hub shuts down.
func (h *eventHub) subscribe() (<-chan api.RoomEvent, func()) {
	ch := make(chan api.RoomEvent, eventQueueSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.subs[ch] = struct{}{}
	metrics.RoomEventSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
				metrics.RoomEventSubscribers.Dec()
			}
		})
	}
	return ch, cancel
}

func (h *eventHub) publish(ev api.RoomEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for ch := range h.subs {
		close(ch)
		metrics.RoomEventSubscribers.Dec()
	}
	h.subs = nil
}
