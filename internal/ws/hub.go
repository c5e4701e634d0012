package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/music-room-sync/pkg/models"
)

// Hub multiplexes live connections per room and fans out events. Sends are
// FIFO per connection via each client's buffered channel and never block the
// command path: a client that cannot keep up is dropped and detected again
// by the liveness ping on its next connection.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[c.roomID]; !ok {
		h.rooms[c.roomID] = make(map[*Client]bool)
	}
	h.rooms[c.roomID][c] = true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	c.closeSend()
}

// Broadcast fans an event out to every connection in the room. The payload
// is marshalled once; full send buffers mark the client dead.
func (h *Hub) Broadcast(roomID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: failed to marshal %s event: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	var stalled []*Client
	for c := range h.rooms[roomID] {
		if !c.enqueue(data) {
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		log.Printf("ws: dropping slow connection for %s in room %s", c.userID, roomID)
		h.remove(c)
		c.conn.Close()
	}
}

// ActiveCount reports live connections in a room.
func (h *Hub) ActiveCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ActiveRooms lists room ids with at least one live connection.
func (h *Hub) ActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms))
	for roomID := range h.rooms {
		out = append(out, roomID)
	}
	return out
}

// DisconnectRoom force-closes every connection in a room (room destruction).
func (h *Hub) DisconnectRoom(roomID string) {
	h.mu.Lock()
	clients := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for c := range clients {
		c.closeSend()
		c.conn.Close()
	}
}
