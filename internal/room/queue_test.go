package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/music-room-sync/pkg/models"
)

func testSong(n int) models.Song {
	return models.Song{
		ID:          fmt.Sprintf("item-%d", n),
		Fingerprint: fmt.Sprintf("fp-%d", n),
		Title:       fmt.Sprintf("Song %d", n),
		Duration:    180,
	}
}

func testRoomWithQueue(n int) *Room {
	r := &Room{code: "TEST01"}
	for i := 0; i < n; i++ {
		r.queue = append(r.queue, testSong(i))
	}
	r.renumberQueue()
	return r
}

func queueIDs(r *Room) []string {
	ids := make([]string, len(r.queue))
	for i, s := range r.queue {
		ids[i] = s.ID
	}
	return ids
}

func TestReorderAppliesExactPermutation(t *testing.T) {
	r := testRoomWithQueue(3)
	now := time.Unix(1000, 0)

	if err := r.reorder([]string{"item-2", "item-0", "item-1"}, now); err != nil {
		t.Fatalf("valid reorder failed: %v", err)
	}

	want := []string{"item-2", "item-0", "item-1"}
	got := queueIDs(r)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue order = %v, want %v", got, want)
		}
		if r.queue[i].Position != i {
			t.Fatalf("position not renumbered: queue[%d].Position = %d", i, r.queue[i].Position)
		}
	}
}

func TestReorderRejectsForeignAndPartialOrders(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name  string
		order []string
	}{
		{"foreign id", []string{"item-0", "item-1", "other-room-item"}},
		{"partial order", []string{"item-1", "item-0"}},
		{"duplicated id", []string{"item-0", "item-0", "item-1"}},
		{"empty order", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRoomWithQueue(3)
			before := queueIDs(r)

			if err := r.reorder(tt.order, now); err == nil {
				t.Fatal("expected reorder to be rejected")
			}

			after := queueIDs(r)
			for i := range before {
				if before[i] != after[i] {
					t.Fatalf("queue mutated by rejected reorder: %v -> %v", before, after)
				}
			}
		})
	}
}

func TestBringToTopMatchesEquivalentReorder(t *testing.T) {
	now := time.Unix(1000, 0)

	a := testRoomWithQueue(4)
	b := testRoomWithQueue(4)

	if err := a.bringToTop("item-2", now); err != nil {
		t.Fatalf("bringToTop failed: %v", err)
	}
	if err := b.reorder([]string{"item-2", "item-0", "item-1", "item-3"}, now); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}

	got, want := queueIDs(a), queueIDs(b)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bringToTop order = %v, want %v", got, want)
		}
	}
}

func TestBringToTopUnknownSong(t *testing.T) {
	r := testRoomWithQueue(2)
	if err := r.bringToTop("missing", time.Unix(1000, 0)); err == nil {
		t.Fatal("expected error for unknown song id")
	}
}

func TestRemoveCurrentSongRejected(t *testing.T) {
	r := testRoomWithQueue(2)
	now := time.Unix(1000, 0)
	cur := testSong(99)
	r.current = &cur

	if err := r.removeSong(cur.ID, now); err == nil {
		t.Fatal("removing the current song must be rejected")
	}
	if r.current == nil || r.current.ID != cur.ID {
		t.Fatal("current song changed by rejected removal")
	}
}

func TestRemoveQueuedSongLeavesPlaybackAlone(t *testing.T) {
	r := testRoomWithQueue(3)
	now := time.Unix(1000, 0)
	cur := testSong(99)
	r.current = &cur
	r.playback = models.PlaybackState{IsPlaying: true, CurrentTime: 42, LastUpdate: now}

	if err := r.removeSong("item-1", now); err != nil {
		t.Fatalf("removeSong failed: %v", err)
	}

	if len(r.queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(r.queue))
	}
	if r.current.ID != cur.ID {
		t.Fatal("current song changed by queued removal")
	}
	if !r.playback.IsPlaying || r.playback.CurrentTime != 42 {
		t.Fatal("playback state changed by queued removal")
	}
	if r.queue[0].Position != 0 || r.queue[1].Position != 1 {
		t.Fatal("positions not renumbered after removal")
	}
}

func TestAddSongPromotionDependsOnPlayHistory(t *testing.T) {
	now := time.Unix(1000, 0)

	fresh := &Room{code: "FRESH1"}
	if promoted := fresh.addSong(testSong(0), now); promoted {
		t.Fatal("a never-played room must not auto-promote")
	}
	if fresh.current != nil || len(fresh.queue) != 1 {
		t.Fatal("expected track to stay queued in a fresh room")
	}

	drained := &Room{code: "DRAIN1", hasEverPlayed: true}
	if promoted := drained.addSong(testSong(0), now); !promoted {
		t.Fatal("a drained room should promote the new track")
	}
	if drained.current == nil || !drained.playback.IsPlaying {
		t.Fatal("promoted track should resume playback")
	}
	if len(drained.queue) != 0 {
		t.Fatal("promoted track must leave the queue")
	}
}
