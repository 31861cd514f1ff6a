package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/nhle/tempmail/internal/metrics"
)

// Hub is an in-process pub/sub keyed by address ID.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]chan Event
	nextID  uint64
	bufSize int
	dropped atomic.Int64
}

// NewHub returns a hub whose subscriber channels hold bufSize events.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{subs: make(map[string]map[uint64]chan Event), bufSize: bufSize}
}

// Subscribe registers a subscriber for one address. The returned cancel
// func is idempotent; after it returns the channel is closed and
// receives nothing more.
func (h *Hub) Subscribe(addressID string) (<-chan Event, func()) {
	ch := make(chan Event, h.bufSize)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[addressID] == nil {
		h.subs[addressID] = make(map[uint64]chan Event)
	}
	h.subs[addressID][id] = ch
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[addressID], id)
			if len(h.subs[addressID]) == 0 {
				delete(h.subs, addressID)
			}
			// Publish sends under the read lock, so no send can race this close.
			close(ch)
			h.mu.Unlock()
			metrics.Subscribers.Dec()
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber of e.AddressID without
// blocking. A full subscriber misses the event. It returns the number
// of subscribers that received it.
func (h *Hub) Publish(e Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, ch := range h.subs[e.AddressID] {
		select {
		case ch <- e:
			delivered++
		default:
			h.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues("hub").Inc()
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of an address.
func (h *Hub) Subscribers(addressID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[addressID])
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
