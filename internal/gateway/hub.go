package gateway

import (
	"context"
	"sync"

	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
)

// Subscriber starts delivery of an auction's fabric events to this process.
type Subscriber interface {
	Subscribe(ctx context.Context, auctionID int64) error
}

// Hub tracks which connections watch which auction room, and which auction
// channels this process already receives from the fabric.
type Hub struct {
	sub     Subscriber
	metrics *metrics.Metrics

	mu         sync.Mutex
	rooms      map[int64]map[*Client]struct{}
	subscribed map[int64]bool
}

// NewHub creates a room registry. metrics may be nil.
func NewHub(sub Subscriber, m *metrics.Metrics) *Hub {
	return &Hub{
		sub:        sub,
		metrics:    m,
		rooms:      make(map[int64]map[*Client]struct{}),
		subscribed: make(map[int64]bool),
	}
}

// Join adds the client to the auction's room. The first join for an
// auction also subscribes the process to that auction's fabric channel.
// The subscribe runs under the lock: until it has succeeded once, no
// joiner is admitted to the room, so nobody sits in a room with no
// subscription behind it.
func (h *Hub) Join(ctx context.Context, c *Client, auctionID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.subscribed[auctionID] {
		if err := h.sub.Subscribe(ctx, auctionID); err != nil {
			return err
		}
		h.subscribed[auctionID] = true
	}

	room := h.rooms[auctionID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[auctionID] = room
	}
	room[c] = struct{}{}
	return nil
}

// Leave removes the client from every room it joined. The fabric
// subscription stays up; re-joins reuse it.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked drops the client from all rooms. Callers hold h.mu.
func (h *Hub) removeLocked(c *Client) {
	for id, room := range h.rooms {
		if _, ok := room[c]; !ok {
			continue
		}
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
}

// Broadcast queues payload on every connection in the auction's room. A
// client whose buffer is full is evicted rather than allowed to stall the
// rest of the room: it leaves every room before its channel closes, so a
// later broadcast cannot touch it.
func (h *Hub) Broadcast(auctionID int64, payload []byte) {
	h.mu.Lock()
	var evicted []*Client
	for c := range h.rooms[auctionID] {
		if !c.trySend(payload) {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}
	for _, c := range evicted {
		c.close()
	}
}

// Count reports how many connections are in the auction's room.
func (h *Hub) Count(auctionID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[auctionID])
}
