package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"zapspay/storage"
)

// StatusUpdate is one frame on a payment status stream.
type StatusUpdate struct {
	Stream string         `json:"stream"`
	ID     uuid.UUID      `json:"id"`
	Status storage.Status `json:"status"`
	TxHash string         `json:"txHash,omitempty"`
	At     time.Time      `json:"at"`
}

// Hub fans status changes out to websocket subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses frames, and the closing
// snapshot it fetches on reconnect restores the truth.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan StatusUpdate]struct{}
	now  func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[chan StatusUpdate]struct{}),
		now:  time.Now,
	}
}

// PublishStatus implements reconcile.StatusPublisher.
func (h *Hub) PublishStatus(stream string, id uuid.UUID, status storage.Status, txHash string) {
	update := StatusUpdate{
		Stream: stream,
		ID:     id,
		Status: status,
		TxHash: txHash,
		At:     h.now().UTC(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribe registers interest in one record's status changes. The cancel
// func must be called when the stream ends; it closes the channel.
func (h *Hub) Subscribe(id uuid.UUID) (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, 8)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan StatusUpdate]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[id], ch)
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
