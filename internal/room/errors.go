package room

import "errors"

var (
	// ErrRoomNotFound is returned for unknown room codes.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSongNotFound is returned when a queue-item id is not in the queue.
	ErrSongNotFound = errors.New("song not found in queue")

	// ErrThrottled reports a rate-limited command. No state was mutated and
	// nothing was broadcast; the caller should retry later.
	ErrThrottled = errors.New("throttled, retry later")

	// ErrNotMember is returned when the acting user is not in the room.
	ErrNotMember = errors.New("not a room member")

	// ErrNoCurrentSong is returned for playback commands on an idle room.
	ErrNoCurrentSong = errors.New("no song currently playing")

	// ErrValidation wraps synchronously rejected inputs: malformed reorder
	// permutations, out-of-range seeks, over-long tracks.
	ErrValidation = errors.New("validation failed")
)
