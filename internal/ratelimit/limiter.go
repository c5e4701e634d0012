package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/music-room-sync/pkg/clock"
)

// Rule is the (max requests, rolling window) pair for one action kind.
type Rule struct {
	Max    int
	Window time.Duration
}

// Limiter is a sliding-window throttle. Keys are arbitrary strings; callers
// build them from (room, action, actor). Each action kind may carry its own
// rule; unknown kinds fall back to the default rule.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	def     Rule
	rules   map[string]Rule
	history map[string][]time.Time
}

func NewLimiter(c clock.Clock, def Rule) *Limiter {
	return &Limiter{
		clock:   c,
		def:     def,
		rules:   make(map[string]Rule),
		history: make(map[string][]time.Time),
	}
}

// SetRule registers a dedicated rule for an action kind.
func (l *Limiter) SetRule(action string, r Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules[action] = r
}

// Allow reports whether one more request for (room, action, actor) fits in
// the window, recording it if so. A false return means "throttled", which
// callers surface as a distinct outcome, not an error.
func (l *Limiter) Allow(room, action, actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.rules[action]
	if !ok {
		rule = l.def
	}

	key := fmt.Sprintf("%s:%s:%s", room, action, actor)
	now := l.clock.Now()
	cutoff := now.Add(-rule.Window)

	stamps := l.history[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rule.Max {
		l.history[key] = kept
		return false
	}

	l.history[key] = append(kept, now)
	return true
}

// Forget drops all recorded history for a room, called when the room closes.
func (l *Limiter) Forget(room string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := room + ":"
	for key := range l.history {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(l.history, key)
		}
	}
}
