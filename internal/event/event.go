package event

import (
	"sync"
	"time"
)

// Sink receives events keyed by owner. Publish must not block the caller
// for long; slow consumers lose events instead.
type Sink interface {
	Publish(ownerID, name string, payload interface{})
}

type Event struct {
	Name    string      `json:"event"`
	OwnerID string      `json:"owner_id"`
	Payload interface{} `json:"payload"`
	Ts      int64       `json:"ts"`
}

type Multi []Sink

func (m Multi) Publish(ownerID, name string, payload interface{}) {
	for _, s := range m {
		if s == nil {
			continue
		}
		s.Publish(ownerID, name, payload)
	}
}

// Hub fans events out to in-process subscribers of the same owner.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan Event
	now    func() time.Time
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[uint64]chan Event),
		now:    time.Now,
	}
}

// Subscribe returns a channel of the owner's events and a func that
// detaches and closes it.
func (h *Hub) Subscribe(ownerID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[uint64]chan Event)
	}
	h.subs[ownerID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[ownerID], id)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			close(ch)
		})
	}
}

func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

func (h *Hub) Publish(ownerID, name string, payload interface{}) {
	evt := Event{Name: name, OwnerID: ownerID, Payload: payload, Ts: h.now().UnixMilli()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[ownerID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
