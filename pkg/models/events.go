package models

import "time"

// WSMessageType enumerates the server→client event kinds on the real-time
// channel. Play state is never inferred from song_changed; a
// playback_state_changed event always accompanies it.
type WSMessageType string

const (
	// Connection lifecycle
	WSConnected  WSMessageType = "connected"
	WSUserJoined WSMessageType = "user_joined"
	WSUserLeft   WSMessageType = "user_left"

	// Queue updates
	WSSongAdded      WSMessageType = "song_added"
	WSSongRemoved    WSMessageType = "song_removed"
	WSQueueReordered WSMessageType = "queue_reordered"

	// Playback updates
	WSSongChanged          WSMessageType = "song_changed"
	WSPlaybackStateChanged WSMessageType = "playback_state_changed"
	WSPlaybackProgress     WSMessageType = "playback_progress"
	WSPlaybackSeeked       WSMessageType = "playback_seeked"

	// Room updates
	WSRoomState       WSMessageType = "room_state"
	WSRoomStatsUpdate WSMessageType = "room_stats_update"
	WSRoomClosing     WSMessageType = "room_closing"

	// Errors
	WSError WSMessageType = "error"
)

// WSMessage is one event on the real-time channel.
type WSMessage struct {
	Type      WSMessageType  `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewWSMessage(t WSMessageType, data map[string]any) WSMessage {
	return WSMessage{Type: t, Data: data, Timestamp: time.Now()}
}
