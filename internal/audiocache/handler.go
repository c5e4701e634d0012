package audiocache

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-room-sync/internal/ratelimit"
	"github.com/music-room-sync/pkg/models"
)

// roomLookup is the slice of the room controller the audio surface needs:
// status checks are scoped by room so they can be throttled per room.
type roomLookup interface {
	Snapshot(code string) (models.RoomSnapshot, error)
}

type Handler struct {
	cache   *Cache
	rooms   roomLookup
	limiter *ratelimit.Limiter
}

func NewHandler(cache *Cache, rooms roomLookup, limiter *ratelimit.Limiter) *Handler {
	return &Handler{cache: cache, rooms: rooms, limiter: limiter}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rooms/:id/audio/:fingerprint/status", h.audioStatus)
	r.GET("/audio/:fingerprint/stream", h.streamAudio)
}

// audioStatus reports (and, for unseen fingerprints, kicks off) acquisition
// for a track, scoped to a room.
func (h *Handler) audioStatus(c *gin.Context) {
	roomID := c.Param("id")
	fingerprint := c.Param("fingerprint")
	userID := c.DefaultQuery("user_id", "anonymous")

	snap, err := h.rooms.Snapshot(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	if !h.limiter.Allow(roomID, "audio_status", userID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "throttled, retry later", "retry_after": 1})
		return
	}

	duration := 0
	if snap.CurrentSong != nil && snap.CurrentSong.Fingerprint == fingerprint {
		duration = snap.CurrentSong.Duration
	} else {
		for _, s := range snap.Queue {
			if s.Fingerprint == fingerprint {
				duration = s.Duration
				break
			}
		}
	}

	status, err := h.cache.Request(fingerprint, duration)
	if err != nil {
		if errors.Is(err, ErrTrackTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fingerprint": fingerprint, "status": status})
}

// streamAudio serves the cached file with range support. "Not yet available"
// (202) is distinct from "not found" (404): the former means an acquisition
// is still in flight.
func (h *Handler) streamAudio(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	reader, err := h.cache.Open(fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotReady):
			c.JSON(http.StatusAccepted, gin.H{"status": StatusDownloading, "message": "audio not yet available"})
		case h.cache.Status(fingerprint) == StatusError:
			c.JSON(http.StatusBadGateway, gin.H{"status": StatusError, "message": "audio acquisition failed"})
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "audio not found"})
		}
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "audio/mpeg")
	http.ServeContent(c.Writer, c.Request, fingerprint+".mp3", reader.ModTime(), reader)
}
