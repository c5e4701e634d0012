package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/music-room-sync/internal/audiocache"
	"github.com/music-room-sync/internal/config"
	"github.com/music-room-sync/internal/ratelimit"
	"github.com/music-room-sync/pkg/clock"
	"github.com/music-room-sync/pkg/models"
)

// AudioCache is the slice of the cache subsystem the controller needs.
type AudioCache interface {
	Request(fingerprint string, durationSec int) (audiocache.Status, error)
	Status(fingerprint string) audiocache.Status
}

// Notifier is implemented by the broadcast hub.
type Notifier interface {
	Broadcast(roomID string, msg models.WSMessage)
	ActiveCount(roomID string) int
	ActiveRooms() []string
	DisconnectRoom(roomID string)
}

// Recommender supplies the next track when autoplay drains the queue.
// It is an external collaborator; errors leave the room idle.
type Recommender interface {
	Next(ctx context.Context, snap models.RoomSnapshot) (*models.Song, error)
}

// Storage is the persistence collaborator. Writes are best-effort from the
// controller's point of view: failures are logged, never fatal.
type Storage interface {
	SaveRoom(rec *models.RoomRecord) error
	MarkRoomClosed(code string, at time.Time) error
	AppendHistory(h *models.PlayHistory) error
	RoomHistory(code string, limit int) ([]*models.PlayHistory, error)
}

// SnapshotStore caches room snapshots outside the process (redis).
type SnapshotStore interface {
	Save(ctx context.Context, snap models.RoomSnapshot) error
	Get(ctx context.Context, code string) (*models.RoomSnapshot, error)
	Delete(ctx context.Context, code string) error
}

// EventPublisher exports domain events to external consumers (kafka).
type EventPublisher interface {
	Publish(ctx context.Context, eventType, roomID string, payload any) error
}

// Service is the room controller: every external command funnels through it,
// passes the rate limiter, mutates the room under its command lock and tells
// the hub what to emit.
type Service struct {
	registry    *Registry
	limiter     *ratelimit.Limiter
	cache       AudioCache
	clock       clock.Clock
	cfg         *config.Config
	hub         Notifier
	recommender Recommender
	storage     Storage
	snapshots   SnapshotStore
	events      EventPublisher

	timerMu     sync.Mutex
	pauseTimers map[string]*time.Timer
}

func NewService(registry *Registry, limiter *ratelimit.Limiter, cache AudioCache, clk clock.Clock, cfg *config.Config) *Service {
	return &Service{
		registry:    registry,
		limiter:     limiter,
		cache:       cache,
		clock:       clk,
		cfg:         cfg,
		pauseTimers: make(map[string]*time.Timer),
	}
}

// SetNotifier wires the hub after construction (the hub needs the service
// for command dispatch, so it is built second).
func (s *Service) SetNotifier(hub Notifier)          { s.hub = hub }
func (s *Service) SetRecommender(r Recommender)      { s.recommender = r }
func (s *Service) SetStorage(st Storage)             { s.storage = st }
func (s *Service) SetSnapshotStore(ss SnapshotStore) { s.snapshots = ss }
func (s *Service) SetEventPublisher(p EventPublisher) { s.events = p }

func (s *Service) broadcast(roomID string, msg models.WSMessage) {
	if s.hub != nil {
		s.hub.Broadcast(roomID, msg)
	}
}

func (s *Service) publish(ctx context.Context, eventType, roomID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, roomID, payload); err != nil {
		log.Printf("room: failed to publish %s event for %s: %v", eventType, roomID, err)
	}
}

func (s *Service) saveSnapshot(ctx context.Context, snap models.RoomSnapshot) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		log.Printf("room: failed to cache snapshot for %s: %v", snap.RoomID, err)
	}
}

// ===== Room lifecycle =====

func (s *Service) CreateRoom(ctx context.Context, userID, userName string) (models.RoomSnapshot, error) {
	r := s.registry.Create(userID, userName, s.cfg.Rooms.DefaultAutoplay)

	r.mu.Lock()
	snap := r.snapshot(s.clock.Now())
	r.mu.Unlock()

	if s.storage != nil {
		rec := &models.RoomRecord{
			ID:        uuid.New(),
			Code:      r.Code(),
			CreatorID: userID,
			CreatedAt: snap.CreatedAt,
		}
		if err := s.storage.SaveRoom(rec); err != nil {
			log.Printf("room: failed to persist room %s: %v", r.Code(), err)
		}
	}

	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "room_created", r.Code(), map[string]any{"creator_id": userID})
	log.Printf("room: %s created by %s", r.Code(), userID)
	return snap, nil
}

func (s *Service) JoinRoom(ctx context.Context, code, userID, userName string) (models.RoomSnapshot, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}

	now := s.clock.Now()
	r.mu.Lock()
	r.addMember(userID, userName, now)
	r.touch(now)
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.registry.MapUser(userID, code)
	s.saveSnapshot(ctx, snap)
	return snap, nil
}

func (s *Service) LeaveRoom(ctx context.Context, code, userID string) error {
	r, ok := s.registry.Get(code)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	r.removeMember(userID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	s.registry.UnmapUser(userID)

	if empty {
		s.closeRoom(ctx, r, "all members left")
	}
	return nil
}

// Snapshot returns the room with its live-derived playback position and
// refreshes the activity clock (a read still signals someone cares).
func (s *Service) Snapshot(code string) (models.RoomSnapshot, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	now := s.clock.Now()
	r.mu.Lock()
	r.touch(now)
	snap := r.snapshot(now)
	r.mu.Unlock()
	return snap, nil
}

// CachedSnapshot serves the last exported snapshot for a room this process
// does not hold, so reads survive a restart. Closed rooms do not resurrect:
// closeRoom deletes their snapshot from the store.
func (s *Service) CachedSnapshot(ctx context.Context, code string) (models.RoomSnapshot, error) {
	if s.snapshots == nil {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	snap, err := s.snapshots.Get(ctx, code)
	if err != nil {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	return *snap, nil
}

// History returns the most recent plays recorded for a room code. The code
// need not belong to an open room; history outlives the room.
func (s *Service) History(code string, limit int) ([]*models.PlayHistory, error) {
	if s.storage == nil {
		return nil, nil
	}
	return s.storage.RoomHistory(code, limit)
}

func (s *Service) UserRoom(userID string) (models.RoomSnapshot, bool) {
	r, ok := s.registry.UserRoom(userID)
	if !ok {
		return models.RoomSnapshot{}, false
	}
	r.mu.Lock()
	snap := r.snapshot(s.clock.Now())
	r.mu.Unlock()
	return snap, true
}

// ===== Queue commands =====

type AddSongInput struct {
	Fingerprint string
	Title       string
	Channel     string
	Duration    int
	Thumbnail   string
}

func (s *Service) AddSong(ctx context.Context, code, userID, userName string, in AddSongInput) (models.Song, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.Song{}, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "add_song", userID) {
		return models.Song{}, ErrThrottled
	}

	if s.cfg.Playback.SongLengthLimitSec > 0 && in.Duration > s.cfg.Playback.SongLengthLimitSec {
		return models.Song{}, fmt.Errorf("%w: track duration %ds exceeds limit %ds",
			ErrValidation, in.Duration, s.cfg.Playback.SongLengthLimitSec)
	}

	now := s.clock.Now()
	song := models.Song{
		ID:            uuid.New().String(),
		Fingerprint:   in.Fingerprint,
		Title:         in.Title,
		Channel:       in.Channel,
		Duration:      in.Duration,
		Thumbnail:     in.Thumbnail,
		RequesterID:   userID,
		RequesterName: userName,
		AddedAt:       now,
	}

	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return models.Song{}, ErrNotMember
	}
	promoted := r.addSong(song, now)
	if promoted && r.playback.IsPlaying && s.cacheStatus(song) != audiocache.StatusReady {
		r.startLoading(s.cfg.Preroll(), now)
	}
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSSongAdded, map[string]any{"song": song}))
	if promoted {
		s.broadcast(code, models.NewWSMessage(models.WSSongChanged, map[string]any{"current_song": snap.CurrentSong}))
		s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
			"is_playing":   snap.PlaybackState.IsPlaying,
			"current_time": snap.PlaybackState.CurrentTime,
		}))
	}

	s.preload(snap)
	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "song_added", code, song)
	return song, nil
}

func (s *Service) RemoveSong(ctx context.Context, code, userID, songID string) (models.RoomSnapshot, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "remove_song", userID) {
		return models.RoomSnapshot{}, ErrThrottled
	}

	now := s.clock.Now()
	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return models.RoomSnapshot{}, ErrNotMember
	}
	if err := r.removeSong(songID, now); err != nil {
		r.mu.Unlock()
		return models.RoomSnapshot{}, err
	}
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSSongRemoved, map[string]any{"song_id": songID}))
	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "song_removed", code, map[string]any{"song_id": songID})
	return snap, nil
}

func (s *Service) ReorderQueue(ctx context.Context, code, userID string, songIDs []string) (models.RoomSnapshot, error) {
	return s.reorderWith(ctx, code, userID, "reorder_queue", func(r *Room, now time.Time) error {
		return r.reorder(songIDs, now)
	})
}

func (s *Service) BringToTop(ctx context.Context, code, userID, songID string) (models.RoomSnapshot, error) {
	return s.reorderWith(ctx, code, userID, "bring_to_top", func(r *Room, now time.Time) error {
		return r.bringToTop(songID, now)
	})
}

func (s *Service) reorderWith(ctx context.Context, code, userID, action string, mutate func(*Room, time.Time) error) (models.RoomSnapshot, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, action, userID) {
		return models.RoomSnapshot{}, ErrThrottled
	}

	now := s.clock.Now()
	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return models.RoomSnapshot{}, ErrNotMember
	}
	if err := mutate(r, now); err != nil {
		r.mu.Unlock()
		return models.RoomSnapshot{}, err
	}
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSQueueReordered, map[string]any{"queue": snap.Queue}))
	s.preload(snap)
	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "queue_reordered", code, map[string]any{"queue_length": len(snap.Queue)})
	return snap, nil
}

// ===== Playback commands =====

func (s *Service) UpdatePlayback(ctx context.Context, code, userID string, isPlaying bool, currentTime *float64) (models.PlaybackState, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.PlaybackState{}, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "playback", userID) {
		return models.PlaybackState{}, ErrThrottled
	}

	now := s.clock.Now()
	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return models.PlaybackState{}, ErrNotMember
	}
	if r.current == nil {
		r.mu.Unlock()
		return models.PlaybackState{}, ErrNoCurrentSong
	}

	pos := r.livePosition(now)
	if currentTime != nil {
		pos = *currentTime
	}

	if isPlaying && s.cacheStatus(*r.current) != audiocache.StatusReady {
		// Audio not ready: count up from the negative pre-roll instead of
		// pretending playback started.
		r.startLoading(s.cfg.Preroll(), now)
	} else {
		r.setPlayback(isPlaying, pos, now)
	}
	state := r.playback
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
		"is_playing":   state.IsPlaying,
		"current_time": state.CurrentTime,
	}))
	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "playback_changed", code, state)
	return state, nil
}

func (s *Service) Seek(ctx context.Context, code, userID string, to float64) (models.PlaybackState, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.PlaybackState{}, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "seek", userID) {
		return models.PlaybackState{}, ErrThrottled
	}

	now := s.clock.Now()
	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return models.PlaybackState{}, ErrNotMember
	}
	if r.current == nil {
		r.mu.Unlock()
		return models.PlaybackState{}, ErrNoCurrentSong
	}
	if r.loading {
		// Re-anchoring here would clear the pre-roll and claim Playing
		// without audio; the position only exists once the track is ready.
		r.mu.Unlock()
		return models.PlaybackState{}, fmt.Errorf("%w: cannot seek while the track is loading", ErrValidation)
	}
	if to < 0 || to > float64(r.current.Duration) {
		r.mu.Unlock()
		return models.PlaybackState{}, fmt.Errorf("%w: seek time %.1fs outside 0..%ds",
			ErrValidation, to, r.current.Duration)
	}
	// Seeking re-anchors without changing is_playing.
	r.setPlayback(r.playback.IsPlaying, to, now)
	state := r.playback
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSPlaybackSeeked, map[string]any{
		"is_playing":   state.IsPlaying,
		"current_time": state.CurrentTime,
	}))
	s.saveSnapshot(ctx, snap)
	return state, nil
}

// Skip advances to the next track, consulting the autoplay recommender when
// the queue is empty.
func (s *Service) Skip(ctx context.Context, code, userID string) (*models.Song, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "skip", userID) {
		return nil, ErrThrottled
	}

	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return nil, ErrNotMember
	}
	next, snap := s.advanceLocked(ctx, r)
	r.mu.Unlock()

	s.emitSongChange(code, next, snap)
	s.saveSnapshot(ctx, snap)
	s.publish(ctx, "song_skipped", code, map[string]any{"user_id": userID})
	return next, nil
}

func (s *Service) ToggleAutoplay(ctx context.Context, code, userID string) (bool, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return false, ErrRoomNotFound
	}
	if !s.limiter.Allow(code, "autoplay", userID) {
		return false, ErrThrottled
	}

	now := s.clock.Now()
	r.mu.Lock()
	if !r.isMember(userID) {
		r.mu.Unlock()
		return false, ErrNotMember
	}
	r.autoplay = !r.autoplay
	r.touch(now)
	enabled := r.autoplay
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSRoomStatsUpdate, map[string]any{
		"active_users": snap.ActiveUsers,
		"autoplay":     enabled,
	}))
	s.saveSnapshot(ctx, snap)
	return enabled, nil
}

// ===== Internals =====

func (s *Service) cacheStatus(song models.Song) audiocache.Status {
	if s.cache == nil {
		return audiocache.StatusReady
	}
	status, err := s.cache.Request(song.Fingerprint, song.Duration)
	if err != nil {
		return audiocache.StatusError
	}
	return status
}

// advanceLocked pops the next track (or asks the recommender), re-anchors
// the clock and records history for the outgoing song. Caller holds r.mu.
func (s *Service) advanceLocked(ctx context.Context, r *Room) (*models.Song, models.RoomSnapshot) {
	now := s.clock.Now()

	if prev := r.current; prev != nil && s.storage != nil {
		h := &models.PlayHistory{
			ID:            uuid.New(),
			RoomCode:      r.code,
			Fingerprint:   prev.Fingerprint,
			Title:         prev.Title,
			RequesterID:   prev.RequesterID,
			RequesterName: prev.RequesterName,
			PlayedAt:      now,
		}
		if err := s.storage.AppendHistory(h); err != nil {
			log.Printf("room: failed to append history for %s: %v", r.code, err)
		}
	}

	next := r.promoteNext()
	if next == nil && r.autoplay && s.recommender != nil {
		snap := r.snapshot(now)
		rec, err := s.recommender.Next(ctx, snap)
		if err != nil {
			log.Printf("room: autoplay recommendation failed for %s: %v", r.code, err)
		} else if rec != nil {
			rec.ID = uuid.New().String()
			rec.AddedAt = now
			r.current = rec
			next = rec
		}
	}

	if next == nil {
		r.setPlayback(false, 0, now)
	} else if s.cacheStatus(*next) != audiocache.StatusReady {
		r.startLoading(s.cfg.Preroll(), now)
	} else {
		r.setPlayback(true, 0, now)
	}

	snap := r.snapshot(now)
	return next, snap
}

func (s *Service) emitSongChange(code string, next *models.Song, snap models.RoomSnapshot) {
	s.broadcast(code, models.NewWSMessage(models.WSSongChanged, map[string]any{"current_song": next}))
	// Play state is never inferred from song_changed.
	s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
		"is_playing":   snap.PlaybackState.IsPlaying,
		"current_time": snap.PlaybackState.CurrentTime,
	}))
	s.preload(snap)
}

// preload warms the cache for the next few queued tracks.
func (s *Service) preload(snap models.RoomSnapshot) {
	if s.cache == nil {
		return
	}
	n := s.cfg.Cache.PreloadCount
	for i, song := range snap.Queue {
		if i >= n {
			break
		}
		if _, err := s.cache.Request(song.Fingerprint, song.Duration); err != nil {
			log.Printf("room: preload rejected for %s: %v", song.Fingerprint, err)
		}
	}
}
