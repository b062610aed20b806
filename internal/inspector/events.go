package inspector

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventPeerAdded      EventKind = "peer_added"
	EventPeerRemoved    EventKind = "peer_removed"
	EventObjectApplied  EventKind = "object_applied"
	EventMessageEmitted EventKind = "message_emitted"
	EventAckReceived    EventKind = "ack_received"
	EventDiscarded      EventKind = "message_discarded"
	EventDecodeFailed   EventKind = "decode_failed"
	EventReceived       EventKind = "message_received"
)

// Event is one engine notification as streamed on /events.
type Event struct {
	Kind   EventKind `json:"kind"`
	Time   time.Time `json:"time"`
	Peer   string    `json:"peer,omitempty"`
	Object string    `json:"object,omitempty"`
	Type   string    `json:"type,omitempty"`
	ID     *uint32   `json:"id,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses events.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	buffer  int
	dropped uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts events lost to slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// MessageID wraps id for Event.ID.
func MessageID(id uint32) *uint32 {
	return &id
}
