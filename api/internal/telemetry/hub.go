package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelFlow carries diagnostic events from the Flow codec and exchange
// service. This is the only place the underlying cause of an opaque
// decryption error is visible.
const ChannelFlow = "flow"

// Event is one structured diagnostic record. Detail must never contain key
// material, IVs, or ciphertext — stage names and error strings only.
type Event struct {
	ID     uuid.UUID `json:"id"`
	Stage  string    `json:"stage"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Hub manages active diagnostic streams for the operator dashboard.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event // channel name -> list of client channels
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe adds a new client to a diagnostic channel
func (h *Hub) Subscribe(channel string) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent slow clients from blocking the codec
	h.subscribers[channel] = append(h.subscribers[channel], ch)
	return ch
}

// Unsubscribe removes a client channel
func (h *Hub) Unsubscribe(channel string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[channel]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
}

// Broadcast sends a diagnostic event to all listeners of a channel
func (h *Hub) Broadcast(channel, stage, detail string) {
	event := Event{
		ID:     uuid.New(),
		Stage:  stage,
		Detail: detail,
		At:     time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if subs, ok := h.subscribers[channel]; ok {
		for _, ch := range subs {
			select {
			case ch <- event:
			default: // Drop the event if the buffer is full; diagnostics never block crypto
			}
		}
	}
}
