package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/music-room-sync/internal/room"
	"github.com/music-room-sync/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one live connection. Its read pump dispatches the same commands
// the REST surface accepts, addressed implicitly to the connection's room;
// the write pump delivers broadcasts FIFO and drives the liveness ping.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	service  *room.Service
	send     chan []byte
	roomID   string
	userID   string
	userName string

	// sendMu guards the send channel's lifecycle: sends race with teardown
	// (a command erroring while the sweep closes the room), so every send
	// and the close itself go through it.
	sendMu sync.Mutex
	closed bool
	// pending holds broadcasts back until the welcome snapshot is queued,
	// so the initial ROOM_STATE is always the first frame.
	pending bool
}

func newClient(hub *Hub, conn *websocket.Conn, service *room.Service, roomID, userID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		service:  service,
		send:     make(chan []byte, sendBuffer),
		roomID:   roomID,
		userID:   userID,
		userName: userName,
		pending:  true,
	}
}

// enqueue queues a frame for the write pump. Returns false only when the
// buffer is full; frames to a closed or not-yet-welcomed connection are
// dropped silently (the welcome snapshot supersedes anything dropped).
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed || c.pending {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// welcome queues the initial ROOM_STATE and opens the connection for
// broadcasts. The buffer is empty until pending clears, so nothing can
// precede the snapshot.
func (c *Client) welcome(msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: failed to marshal %s event: %v", msg.Type, err)
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.pending = false
	c.send <- data
}

// closeSend shuts the channel exactly once; later sends become no-ops.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// deliver queues a message for this connection only.
func (c *Client) deliver(msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: failed to marshal %s event: %v", msg.Type, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) deliverError(code string, err error) {
	c.deliver(models.NewWSMessage(models.WSError, map[string]any{
		"code":    code,
		"message": err.Error(),
	}))
}

type inboundMessage struct {
	Type        string   `json:"type"`
	IsPlaying   bool     `json:"is_playing"`
	CurrentTime *float64 `json:"current_time"`
	SeekTime    float64  `json:"seek_time"`
	SongID      string   `json:"song_id"`
	SongIDs     []string `json:"song_ids"`
	Fingerprint string   `json:"fingerprint"`
	Title       string   `json:"title"`
	Channel     string   `json:"channel"`
	Duration    int      `json:"duration"`
	Thumbnail   string   `json:"thumbnail"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.service.OnDisconnect(c.roomID, c.userID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error for %s in room %s: %v", c.userID, c.roomID, err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("ws: malformed message from %s: %v", c.userID, err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg inboundMessage) {
	ctx := context.Background()

	var err error
	switch msg.Type {
	case "pong":
		// JSON-level keepalive from clients without protocol pong support.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	case "playback":
		_, err = c.service.UpdatePlayback(ctx, c.roomID, c.userID, msg.IsPlaying, msg.CurrentTime)
	case "seek":
		_, err = c.service.Seek(ctx, c.roomID, c.userID, msg.SeekTime)
	case "skip":
		_, err = c.service.Skip(ctx, c.roomID, c.userID)
	case "add_song":
		_, err = c.service.AddSong(ctx, c.roomID, c.userID, c.userName, room.AddSongInput{
			Fingerprint: msg.Fingerprint,
			Title:       msg.Title,
			Channel:     msg.Channel,
			Duration:    msg.Duration,
			Thumbnail:   msg.Thumbnail,
		})
	case "remove_song":
		_, err = c.service.RemoveSong(ctx, c.roomID, c.userID, msg.SongID)
	case "reorder_queue":
		_, err = c.service.ReorderQueue(ctx, c.roomID, c.userID, msg.SongIDs)
	case "bring_to_top":
		_, err = c.service.BringToTop(ctx, c.roomID, c.userID, msg.SongID)
	case "toggle_autoplay":
		_, err = c.service.ToggleAutoplay(ctx, c.roomID, c.userID)
	default:
		log.Printf("ws: unknown message type %q from %s", msg.Type, c.userID)
	}

	if err != nil {
		switch {
		case errors.Is(err, room.ErrThrottled):
			c.deliverError("throttled", err)
		default:
			c.deliverError("command_failed", err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
