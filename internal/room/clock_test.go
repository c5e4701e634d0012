package room

import (
	"testing"
	"time"

	"github.com/music-room-sync/pkg/models"
)

func TestLivePositionRecomputationIsIdempotent(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0)
	r := &Room{
		code:     "TEST01",
		current:  &cur,
		playback: models.PlaybackState{IsPlaying: true, CurrentTime: 10, LastUpdate: t0},
	}

	at := t0.Add(7 * time.Second)
	first := r.livePosition(at)
	second := r.livePosition(at)
	if first != second {
		t.Fatalf("recomputation not idempotent: %f vs %f", first, second)
	}
	if first != 17 {
		t.Fatalf("live position = %f, want 17", first)
	}
}

func TestPauseThenResumeReproducesPosition(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0)
	r := &Room{code: "TEST01", current: &cur}
	r.setPlayback(true, 10, t0)

	at := t0.Add(5 * time.Second)
	pos := r.livePosition(at)
	r.setPlayback(false, pos, at)

	if got := r.livePosition(at); got != 15 {
		t.Fatalf("paused position = %f, want 15", got)
	}

	// Resuming without time passing reproduces the pre-pause position.
	r.setPlayback(true, r.playback.CurrentTime, at)
	if got := r.livePosition(at); got != 15 {
		t.Fatalf("resumed position = %f, want 15", got)
	}
}

func TestLivePositionWhilePausedIsAnchored(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0)
	r := &Room{code: "TEST01", current: &cur}
	r.setPlayback(false, 30, t0)

	if got := r.livePosition(t0.Add(time.Hour)); got != 30 {
		t.Fatalf("paused position drifted to %f", got)
	}
}

func TestLivePositionClampsToDuration(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0) // 180s
	r := &Room{code: "TEST01", current: &cur}
	r.setPlayback(true, 170, t0)

	if got := r.livePosition(t0.Add(time.Minute)); got != 180 {
		t.Fatalf("position beyond duration = %f, want clamp to 180", got)
	}
}

func TestLoadingCountsUpFromNegativePreroll(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0)
	r := &Room{code: "TEST01", current: &cur}
	r.startLoading(3*time.Second, t0)

	if got := r.livePosition(t0); got != -3 {
		t.Fatalf("initial pre-roll position = %f, want -3", got)
	}
	if got := r.livePosition(t0.Add(time.Second)); got != -2 {
		t.Fatalf("pre-roll position after 1s = %f, want -2", got)
	}
	if got := r.livePosition(t0.Add(3 * time.Second)); got != 0 {
		t.Fatalf("pre-roll position after 3s = %f, want 0", got)
	}
	if !r.playback.IsPlaying {
		t.Fatal("loading state should report is_playing")
	}
	if !r.hasEverPlayed {
		t.Fatal("entering loading marks the room as having played")
	}
}

func TestSnapshotCarriesLivePosition(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cur := testSong(0)
	r := &Room{code: "TEST01", current: &cur}
	r.setPlayback(true, 0, t0)

	snap := r.snapshot(t0.Add(12 * time.Second))
	if snap.PlaybackState.CurrentTime != 12 {
		t.Fatalf("snapshot position = %f, want 12", snap.PlaybackState.CurrentTime)
	}
	if snap.CurrentSong == nil || snap.CurrentSong.ID != cur.ID {
		t.Fatal("snapshot missing current song")
	}
}
