package room

import (
	"context"
	"log"
	"time"

	"github.com/music-room-sync/internal/audiocache"
	"github.com/music-room-sync/pkg/models"
)

// ===== Connection bookkeeping =====

// OnConnect records a live connection. Possession of the room code is the
// membership credential, so an unknown user joining over the socket becomes
// a member. Returns the snapshot the hub sends as the initial ROOM_STATE.
func (s *Service) OnConnect(ctx context.Context, code, userID, userName string) (models.RoomSnapshot, error) {
	r, ok := s.registry.Get(code)
	if !ok {
		return models.RoomSnapshot{}, ErrRoomNotFound
	}

	now := s.clock.Now()
	r.mu.Lock()
	r.addMember(userID, userName, now)
	if s.hub != nil {
		r.activeConns = s.hub.ActiveCount(code)
	}
	r.touch(now)
	name := r.memberName(userID)
	snap := r.snapshot(now)
	r.mu.Unlock()

	s.registry.MapUser(userID, code)
	s.cancelPauseTimer(code)

	s.broadcast(code, models.NewWSMessage(models.WSUserJoined, map[string]any{
		"user_id":   userID,
		"user_name": name,
	}))
	s.broadcastStats(code, snap.ActiveUsers, snap.Autoplay)
	return snap, nil
}

// OnDisconnect releases a connection slot. Membership persists; only the
// active count changes. When the last connection drops, playback is paused
// after a grace period so a briefly-reconnecting client does not lose its
// place.
func (s *Service) OnDisconnect(code, userID string) {
	r, ok := s.registry.Get(code)
	if !ok {
		return
	}

	now := s.clock.Now()
	r.mu.Lock()
	if s.hub != nil {
		r.activeConns = s.hub.ActiveCount(code)
	}
	count := r.activeConns
	if count > 0 {
		r.touch(now)
	}
	name := r.memberName(userID)
	autoplay := r.autoplay
	r.mu.Unlock()

	s.broadcast(code, models.NewWSMessage(models.WSUserLeft, map[string]any{
		"user_id":   userID,
		"user_name": name,
	}))
	s.broadcastStats(code, count, autoplay)

	if count == 0 {
		s.startPauseTimer(code)
	}
}

func (s *Service) broadcastStats(code string, activeUsers int, autoplay bool) {
	s.broadcast(code, models.NewWSMessage(models.WSRoomStatsUpdate, map[string]any{
		"active_users": activeUsers,
		"autoplay":     autoplay,
	}))
}

func (s *Service) startPauseTimer(code string) {
	delay := time.Duration(s.cfg.Rooms.PauseAfterEmptySec) * time.Second
	if delay <= 0 {
		return
	}

	s.timerMu.Lock()
	if t, ok := s.pauseTimers[code]; ok {
		t.Stop()
	}
	s.pauseTimers[code] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.pauseTimers, code)
		s.timerMu.Unlock()
		s.pauseForEmptyRoom(code)
	})
	s.timerMu.Unlock()
}

func (s *Service) cancelPauseTimer(code string) {
	s.timerMu.Lock()
	if t, ok := s.pauseTimers[code]; ok {
		t.Stop()
		delete(s.pauseTimers, code)
	}
	s.timerMu.Unlock()
}

func (s *Service) pauseForEmptyRoom(code string) {
	r, ok := s.registry.Get(code)
	if !ok {
		return
	}

	now := s.clock.Now()
	r.mu.Lock()
	if r.activeConns > 0 || r.current == nil || !r.playback.IsPlaying {
		r.mu.Unlock()
		return
	}
	pos := r.livePosition(now)
	if pos < 0 {
		pos = 0
	}
	r.setPlayback(false, pos, now)
	state := r.playback
	r.mu.Unlock()

	log.Printf("room: %s paused, no active connections", code)
	s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
		"is_playing":   state.IsPlaying,
		"current_time": state.CurrentTime,
	}))
}

// ===== Progress ticker =====

// RunProgressLoop drives the periodic playback tick for every room with live
// connections. The stored anchor is only re-written on state transitions;
// per-tick positions are derived, so a missed or doubled tick cannot skew
// the clock.
func (s *Service) RunProgressLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProgressInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub == nil {
				continue
			}
			for _, code := range s.hub.ActiveRooms() {
				s.tickRoom(ctx, code)
			}
		}
	}
}

func (s *Service) tickRoom(ctx context.Context, code string) {
	r, ok := s.registry.Get(code)
	if !ok {
		return
	}

	now := s.clock.Now()
	r.mu.Lock()

	if r.current == nil || !r.playback.IsPlaying {
		r.mu.Unlock()
		return
	}

	pos := r.livePosition(now)
	duration := r.current.Duration
	fingerprint := r.current.Fingerprint

	if r.loading {
		var status audiocache.Status = audiocache.StatusReady
		if s.cache != nil {
			status = s.cache.Status(fingerprint)
		}
		switch {
		case status == audiocache.StatusError:
			r.setPlayback(false, 0, now)
			state := r.playback
			r.mu.Unlock()
			s.broadcast(code, models.NewWSMessage(models.WSError, map[string]any{
				"code":        "acquisition_failed",
				"message":     "audio could not be fetched, retry or skip",
				"fingerprint": fingerprint,
			}))
			s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
				"is_playing":   state.IsPlaying,
				"current_time": state.CurrentTime,
			}))
			return
		case status == audiocache.StatusReady && pos >= 0:
			r.setPlayback(true, 0, now)
			state := r.playback
			r.mu.Unlock()
			s.broadcast(code, models.NewWSMessage(models.WSPlaybackStateChanged, map[string]any{
				"is_playing":   state.IsPlaying,
				"current_time": state.CurrentTime,
			}))
			return
		default:
			if pos > 0 {
				// Pre-roll exhausted but the download is still running; hold
				// the countdown at zero rather than inventing progress.
				pos = 0
			}
			r.mu.Unlock()
			s.broadcastProgress(code, pos, duration)
			return
		}
	}

	if pos >= float64(duration) {
		next, snap := s.advanceLocked(ctx, r)
		r.mu.Unlock()
		s.emitSongChange(code, next, snap)
		s.saveSnapshot(ctx, snap)
		return
	}

	r.mu.Unlock()
	s.broadcastProgress(code, pos, duration)
}

func (s *Service) broadcastProgress(code string, pos float64, duration int) {
	percentage := 0.0
	if duration > 0 && pos > 0 {
		percentage = pos / float64(duration) * 100
	}
	s.broadcast(code, models.NewWSMessage(models.WSPlaybackProgress, map[string]any{
		"current_time": pos,
		"duration":     duration,
		"percentage":   percentage,
	}))
}

// ===== Inactivity sweep =====

// RunSweeper closes rooms whose last activity exceeds the configured window,
// notifying remaining members first.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one inactivity pass.
func (s *Service) Sweep(ctx context.Context) {
	window := s.cfg.InactivityWindow()
	now := s.clock.Now()

	for _, r := range s.registry.All() {
		r.mu.Lock()
		idle := r.activeConns == 0 && now.Sub(r.lastActivity) > window
		r.mu.Unlock()

		if idle {
			s.closeRoom(ctx, r, "room closed due to inactivity")
		}
	}
}

func (s *Service) closeRoom(ctx context.Context, r *Room, reason string) {
	code := r.Code()

	s.broadcast(code, models.NewWSMessage(models.WSRoomClosing, map[string]any{"reason": reason}))
	if s.hub != nil {
		s.hub.DisconnectRoom(code)
	}

	s.cancelPauseTimer(code)
	s.registry.Remove(code)
	s.limiter.Forget(code)

	if s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, code); err != nil {
			log.Printf("room: failed to drop snapshot for %s: %v", code, err)
		}
	}
	if s.storage != nil {
		if err := s.storage.MarkRoomClosed(code, s.clock.Now()); err != nil {
			log.Printf("room: failed to mark room %s closed: %v", code, err)
		}
	}

	s.publish(ctx, "room_closed", code, map[string]any{"reason": reason})
	log.Printf("room: closed %s (%s)", code, reason)
}
