package room

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires the public room surface. Room creation is registered
// separately by the caller behind the internal-service middleware, since only
// the chat-bot integration may create rooms.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("/join", h.joinRoom)
		rooms.GET("/:id", h.getRoom)
		rooms.DELETE("/:id/leave", h.leaveRoom)
		rooms.GET("/:id/history", h.roomHistory)
		rooms.GET("/:id/queue", h.getQueue)
		rooms.POST("/:id/queue", h.addSong)
		rooms.DELETE("/:id/queue/:songId", h.removeSong)
		rooms.PUT("/:id/queue/reorder", h.reorderQueue)
		rooms.POST("/:id/queue/:songId/top", h.bringToTop)
		rooms.POST("/:id/playback", h.updatePlayback)
		rooms.POST("/:id/playback/seek", h.seekPlayback)
		rooms.POST("/:id/skip", h.skip)
		rooms.POST("/:id/autoplay", h.toggleAutoplay)
	}
	r.GET("/users/:userId/current-room", h.getUserCurrentRoom)
}

// RegisterInternalRoutes wires the endpoints reserved for the chat-bot
// integration.
func (h *Handler) RegisterInternalRoutes(r *gin.RouterGroup) {
	r.POST("/rooms", h.createRoom)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrSongNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "retry_after": 1})
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoCurrentSong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type CreateRoomRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	UserName string `json:"user_name"`
}

func (h *Handler) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserName == "" {
		req.UserName = "User"
	}

	snap, err := h.service.CreateRoom(c.Request.Context(), req.UserID, req.UserName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

type JoinRoomRequest struct {
	RoomID   string `json:"room_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	UserName string `json:"user_name"`
}

func (h *Handler) joinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserName == "" {
		req.UserName = "User"
	}

	snap, err := h.service.JoinRoom(c.Request.Context(), req.RoomID, req.UserID, req.UserName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getRoom(c *gin.Context) {
	code := c.Param("id")
	snap, err := h.service.Snapshot(code)
	if err != nil {
		// Not live in this process; a sibling or pre-restart instance may
		// have exported a snapshot.
		if cached, cerr := h.service.CachedSnapshot(c.Request.Context(), code); cerr == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) roomHistory(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	items, err := h.service.History(c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}

func (h *Handler) leaveRoom(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if err := h.service.LeaveRoom(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left room"})
}

func (h *Handler) getQueue(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current_song":   snap.CurrentSong,
		"queue":          snap.Queue,
		"playback_state": snap.PlaybackState,
	})
}

type AddSongRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Channel     string `json:"channel"`
	Duration    int    `json:"duration" binding:"required"`
	Thumbnail   string `json:"thumbnail"`
}

func (h *Handler) addSong(c *gin.Context) {
	var req AddSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Query("user_id")
	userName := c.DefaultQuery("user_name", "User")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	song, err := h.service.AddSong(c.Request.Context(), c.Param("id"), userID, userName, AddSongInput{
		Fingerprint: req.Fingerprint,
		Title:       req.Title,
		Channel:     req.Channel,
		Duration:    req.Duration,
		Thumbnail:   req.Thumbnail,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "song added to queue", "song": song})
}

func (h *Handler) removeSong(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	snap, err := h.service.RemoveSong(c.Request.Context(), c.Param("id"), userID, c.Param("songId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "song removed", "queue_length": len(snap.Queue)})
}

type ReorderQueueRequest struct {
	SongIDs []string `json:"song_ids" binding:"required"`
}

func (h *Handler) reorderQueue(c *gin.Context) {
	var req ReorderQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	snap, err := h.service.ReorderQueue(c.Request.Context(), c.Param("id"), userID, req.SongIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "queue reordered", "queue": snap.Queue})
}

func (h *Handler) bringToTop(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	snap, err := h.service.BringToTop(c.Request.Context(), c.Param("id"), userID, c.Param("songId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "song moved to top", "queue": snap.Queue})
}

type UpdatePlaybackRequest struct {
	IsPlaying   bool     `json:"is_playing"`
	CurrentTime *float64 `json:"current_time"`
}

func (h *Handler) updatePlayback(c *gin.Context) {
	var req UpdatePlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	state, err := h.service.UpdatePlayback(c.Request.Context(), c.Param("id"), userID, req.IsPlaying, req.CurrentTime)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) seekPlayback(c *gin.Context) {
	var req struct {
		SeekTime float64 `json:"seek_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	state, err := h.service.Seek(c.Request.Context(), c.Param("id"), userID, req.SeekTime)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "seek_time": req.SeekTime, "is_playing": state.IsPlaying})
}

func (h *Handler) skip(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	next, err := h.service.Skip(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_song": next})
}

func (h *Handler) toggleAutoplay(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	enabled, err := h.service.ToggleAutoplay(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"autoplay": enabled})
}

func (h *Handler) getUserCurrentRoom(c *gin.Context) {
	snap, ok := h.service.UserRoom(c.Param("userId"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"room_id": nil, "in_room": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": snap.RoomID, "in_room": true, "room": snap})
}
