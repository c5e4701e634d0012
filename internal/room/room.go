package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/music-room-sync/pkg/models"
)

// Room is the aggregate owning one queue and one playback clock. All
// mutations go through the Service's serialized command path: callers take
// mu for the whole command so concurrent skip/reorder from different members
// cannot interleave. The unexported methods below assume mu is held.
type Room struct {
	mu sync.Mutex

	code      string
	createdAt time.Time
	creatorID string

	members  []models.Member
	queue    []models.Song
	current  *models.Song
	playback models.PlaybackState
	autoplay bool

	lastActivity  time.Time
	activeConns   int
	hasEverPlayed bool
	loading       bool
}

func (r *Room) Code() string { return r.code }

func (r *Room) touch(now time.Time) {
	r.lastActivity = now
}

// ===== Membership =====

func (r *Room) isMember(userID string) bool {
	for _, m := range r.members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Room) addMember(userID, userName string, now time.Time) {
	if r.isMember(userID) {
		return
	}
	r.members = append(r.members, models.Member{
		UserID:   userID,
		UserName: userName,
		JoinedAt: now,
	})
}

func (r *Room) removeMember(userID string) {
	kept := r.members[:0]
	for _, m := range r.members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	r.members = kept
}

func (r *Room) memberName(userID string) string {
	for _, m := range r.members {
		if m.UserID == userID {
			return m.UserName
		}
	}
	return ""
}

// ===== Queue =====

func (r *Room) renumberQueue() {
	for i := range r.queue {
		r.queue[i].Position = i
	}
}

// addSong appends to the queue. A room that ran dry mid-session promotes
// the new entry immediately and resumes playing; a room that has never
// played keeps it queued until someone skips.
func (r *Room) addSong(song models.Song, now time.Time) (promoted bool) {
	song.Position = len(r.queue)
	r.queue = append(r.queue, song)

	if r.current == nil && r.hasEverPlayed {
		promoted = true
		head := r.queue[0]
		r.queue = r.queue[1:]
		r.current = &head
		r.playback.CurrentTime = 0
		r.playback.IsPlaying = true
		r.playback.LastUpdate = now
		r.loading = false
		r.renumberQueue()
	}

	r.touch(now)
	return promoted
}

// removeSong drops a queued entry by queue-item id. The current song is not
// in the queue and therefore can never be removed here; use skip instead.
func (r *Room) removeSong(songID string, now time.Time) error {
	if r.current != nil && r.current.ID == songID {
		return fmt.Errorf("%w: cannot remove the current song, use skip", ErrValidation)
	}
	for i, s := range r.queue {
		if s.ID == songID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.renumberQueue()
			r.touch(now)
			return nil
		}
	}
	return ErrSongNotFound
}

// reorder replaces the queue order with the given permutation. The ids must
// be exactly the current queue-item ids: partial orders and foreign ids are
// rejected without mutation.
func (r *Room) reorder(songIDs []string, now time.Time) error {
	if len(songIDs) != len(r.queue) {
		return fmt.Errorf("%w: order must list all %d queued songs", ErrValidation, len(r.queue))
	}

	byID := make(map[string]models.Song, len(r.queue))
	for _, s := range r.queue {
		byID[s.ID] = s
	}

	reordered := make([]models.Song, 0, len(songIDs))
	for _, id := range songIDs {
		s, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown song id %q", ErrValidation, id)
		}
		delete(byID, id)
		reordered = append(reordered, s)
	}

	r.queue = reordered
	r.renumberQueue()
	r.touch(now)
	return nil
}

// bringToTop moves one queued entry to the front, preserving the relative
// order of the rest. Equivalent to reorder([id] + queue_without(id)).
func (r *Room) bringToTop(songID string, now time.Time) error {
	order := make([]string, 0, len(r.queue))
	found := false
	for _, s := range r.queue {
		if s.ID == songID {
			found = true
			continue
		}
		order = append(order, s.ID)
	}
	if !found {
		return ErrSongNotFound
	}
	return r.reorder(append([]string{songID}, order...), now)
}

// promoteNext pops the queue head into current. Returns nil when the queue
// is empty, leaving current cleared.
func (r *Room) promoteNext() *models.Song {
	if len(r.queue) == 0 {
		r.current = nil
		return nil
	}
	head := r.queue[0]
	r.queue = r.queue[1:]
	r.current = &head
	r.renumberQueue()
	return r.current
}

// ===== Playback clock =====

// livePosition derives the playback position at now from the stored anchor.
// The anchor itself is never advanced here, so recomputation is idempotent.
// The result may be negative while the room is in its loading pre-roll.
func (r *Room) livePosition(now time.Time) float64 {
	if !r.playback.IsPlaying {
		return r.playback.CurrentTime
	}
	pos := r.playback.CurrentTime + now.Sub(r.playback.LastUpdate).Seconds()
	if !r.loading && r.current != nil && pos > float64(r.current.Duration) {
		return float64(r.current.Duration)
	}
	return pos
}

// setPlayback re-anchors the clock.
func (r *Room) setPlayback(isPlaying bool, position float64, now time.Time) {
	r.playback.IsPlaying = isPlaying
	r.playback.CurrentTime = position
	r.playback.LastUpdate = now
	if isPlaying {
		r.hasEverPlayed = true
	}
	r.loading = false
	r.touch(now)
}

// startLoading enters the pre-roll countdown: the position counts up from
// -preroll toward zero while the audio cache works. Clients clamp the
// negative value to zero for display; the sign is the loading signal.
func (r *Room) startLoading(preroll time.Duration, now time.Time) {
	r.playback.IsPlaying = true
	r.playback.CurrentTime = -preroll.Seconds()
	r.playback.LastUpdate = now
	r.hasEverPlayed = true
	r.loading = true
	r.touch(now)
}

// ===== Snapshots =====

// snapshot renders the wire form of the room with the live-derived position.
func (r *Room) snapshot(now time.Time) models.RoomSnapshot {
	snap := models.RoomSnapshot{
		RoomID:      r.code,
		CreatedAt:   r.createdAt,
		CreatorID:   r.creatorID,
		Members:     append([]models.Member(nil), r.members...),
		Queue:       append([]models.Song(nil), r.queue...),
		ActiveUsers: r.activeConns,
		Autoplay:    r.autoplay,
		PlaybackState: models.PlaybackState{
			IsPlaying:   r.playback.IsPlaying,
			CurrentTime: r.livePosition(now),
			LastUpdate:  r.playback.LastUpdate,
		},
	}
	if r.current != nil {
		cur := *r.current
		snap.CurrentSong = &cur
	}
	return snap
}
