package ratelimit

import (
	"testing"
	"time"

	"github.com/music-room-sync/pkg/clock"
)

func TestSlidingWindow(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(1000, 0))
	l := NewLimiter(mc, Rule{Max: 2, Window: 5 * time.Second})

	// Three requests at t=0,1,2: the third must be throttled.
	if !l.Allow("ROOM01", "playback", "alice") {
		t.Fatal("first request should be allowed")
	}
	mc.Advance(1 * time.Second)
	if !l.Allow("ROOM01", "playback", "alice") {
		t.Fatal("second request should be allowed")
	}
	mc.Advance(1 * time.Second)
	if l.Allow("ROOM01", "playback", "alice") {
		t.Fatal("third request within window should be throttled")
	}

	// A fourth at t=6 falls outside the first request's window.
	mc.Advance(4 * time.Second)
	if !l.Allow("ROOM01", "playback", "alice") {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(1000, 0))
	l := NewLimiter(mc, Rule{Max: 1, Window: time.Second})

	if !l.Allow("ROOM01", "skip", "alice") {
		t.Fatal("alice should be allowed")
	}
	if !l.Allow("ROOM01", "skip", "bob") {
		t.Fatal("bob uses a different key and should be allowed")
	}
	if !l.Allow("ROOM02", "skip", "alice") {
		t.Fatal("same actor in another room should be allowed")
	}
	if l.Allow("ROOM01", "skip", "alice") {
		t.Fatal("alice's second request should be throttled")
	}
}

func TestPerActionRules(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(1000, 0))
	l := NewLimiter(mc, Rule{Max: 1, Window: time.Second})
	l.SetRule("bring_to_top", Rule{Max: 2, Window: 5 * time.Second})

	if !l.Allow("ROOM01", "bring_to_top", "alice") {
		t.Fatal("first bring_to_top should be allowed")
	}
	if !l.Allow("ROOM01", "bring_to_top", "alice") {
		t.Fatal("second bring_to_top within 5s should be allowed")
	}
	if l.Allow("ROOM01", "bring_to_top", "alice") {
		t.Fatal("third bring_to_top within 5s should be throttled")
	}
}

func TestForget(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(1000, 0))
	l := NewLimiter(mc, Rule{Max: 1, Window: time.Minute})

	l.Allow("ROOM01", "skip", "alice")
	if l.Allow("ROOM01", "skip", "alice") {
		t.Fatal("expected throttle before Forget")
	}
	l.Forget("ROOM01")
	if !l.Allow("ROOM01", "skip", "alice") {
		t.Fatal("history should be gone after Forget")
	}
}
