package models

import (
	"time"

	"github.com/google/uuid"
)

// Song is one occurrence of a track in a room's queue. ID is the
// room-scoped queue-item id; Fingerprint identifies the source audio and is
// the cache key. The same fingerprint may appear in a queue more than once
// under different ids.
type Song struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	Title         string    `json:"title"`
	Channel       string    `json:"channel,omitempty"`
	Duration      int       `json:"duration"` // seconds
	Thumbnail     string    `json:"thumbnail"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	AddedAt       time.Time `json:"added_at"`
	Position      int       `json:"position"`
}

// Member is a room participant. Membership persists across disconnects;
// only live connections count toward active_users.
type Member struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

// PlaybackState is the authoritative playback anchor. The live position at
// time T is CurrentTime + (T - LastUpdate) while playing, CurrentTime
// otherwise. CurrentTime may be negative while audio is still loading
// (pre-roll countdown toward zero).
type PlaybackState struct {
	IsPlaying   bool      `json:"is_playing"`
	CurrentTime float64   `json:"current_time"`
	LastUpdate  time.Time `json:"last_update"`
}

// RoomSnapshot is the wire representation of a room returned by the REST
// surface and carried in ROOM_STATE broadcasts.
type RoomSnapshot struct {
	RoomID        string        `json:"room_id"`
	CreatedAt     time.Time     `json:"created_at"`
	CreatorID     string        `json:"creator_id"`
	Members       []Member      `json:"members"`
	Queue         []Song        `json:"queue"`
	CurrentSong   *Song         `json:"current_song"`
	PlaybackState PlaybackState `json:"playback_state"`
	ActiveUsers   int           `json:"active_users"`
	Autoplay      bool          `json:"autoplay"`
}

// RoomRecord is the persisted form of a room (storage collaborator).
type RoomRecord struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey"`
	Code      string     `json:"code" gorm:"index"`
	CreatorID string     `json:"creator_id"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// PlayHistory records a track that finished or was skipped in a room.
type PlayHistory struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey"`
	RoomCode      string    `json:"room_code" gorm:"index"`
	Fingerprint   string    `json:"fingerprint"`
	Title         string    `json:"title"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	PlayedAt      time.Time `json:"played_at"`
}
