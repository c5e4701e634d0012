package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/music-room-sync/internal/room"
	"github.com/music-room-sync/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin filtering happens at the CORS layer in front.
	},
}

type Handler struct {
	hub     *Hub
	service *room.Service
}

func NewHandler(hub *Hub, service *room.Service) *Handler {
	return &Handler{hub: hub, service: service}
}

// HandleWebSocket upgrades the connection and attaches it to the room. The
// joining client's first frame is always the full ROOM_STATE snapshot:
// broadcasts are held back until it is queued, so a reconnect never sees an
// event it would have to roll back from.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	roomID := c.Param("roomId")
	userID := c.Query("user_id")
	userName := c.DefaultQuery("user_name", "User")
	if roomID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id and user_id are required"})
		return
	}

	// Reject unknown rooms before paying for the upgrade.
	if _, err := h.service.Snapshot(roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: failed to upgrade connection: %v", err)
		return
	}

	client := newClient(h.hub, conn, h.service, roomID, userID, userName)
	h.hub.add(client)

	snap, err := h.service.OnConnect(c.Request.Context(), roomID, userID, userName)
	if err != nil {
		h.hub.remove(client)
		conn.Close()
		return
	}

	client.welcome(models.NewWSMessage(models.WSRoomState, map[string]any{"room": snap}))

	go client.writePump()
	go client.readPump()
}
