package forward

import (
	"sync"

	"github.com/arjunkmrm/intern/internal/extract"
)

// Hub is the registry of live subscribers. Publishes are fire-and-forget
// per subscriber: a slow or stalled subscriber drops messages instead of
// blocking the broadcast.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan *extract.Message
	nextID uint64
}

// NewHub creates an empty subscriber hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *extract.Message)}
}

// Subscribe registers a subscriber and returns its handle and channel.
// The caller must Unsubscribe when done.
func (h *Hub) Subscribe() (uint64, <-chan *extract.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan *extract.Message, 16)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers the message to every attached subscriber without
// blocking. Subscribers with a full buffer miss this message.
func (h *Hub) Publish(msg *extract.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
