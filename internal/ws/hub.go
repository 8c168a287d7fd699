package ws

import (
	"context"
	"fmt"
	"sync"

	"payments_core/internal/logger"
	"payments_core/internal/notify"

	"github.com/redis/go-redis/v9"
)

// Hub relays events published on the per-user Redis channels to the sockets of this instance.
type Hub struct {
	rdb redis.UniversalClient

	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
}

func NewHub(rdb redis.UniversalClient) *Hub {
	return &Hub{rdb: rdb, clients: make(map[int64]map[*Client]struct{})}
}

// Start subscribes to every user channel and relays in the background until ctx is done.
// It returns once the subscription is confirmed.
func (h *Hub) Start(ctx context.Context) error {
	sub := h.rdb.PSubscribe(ctx, notify.UserChannelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", notify.UserChannelPattern, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID, ok := notify.ParseUserChannel(msg.Channel)
				if !ok {
					continue
				}
				h.Deliver(userID, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

// remove must be called with mu held.
func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
}

// Deliver queues msg to every socket of userID and returns how many accepted it.
// A socket whose buffer is full is dropped; the client reconnects and refetches.
func (h *Hub) Deliver(userID int64, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
			n++
		default:
			logger.Warn("ws client too slow, dropping", "user_id", userID)
			h.remove(c)
		}
	}
	return n
}

// sendTo queues msg to one registered socket without blocking.
func (h *Hub) sendTo(c *Client, msg []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.UserID][c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Online is the number of open sockets for userID.
func (h *Hub) Online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
