package room

import (
	"strings"
	"testing"
	"time"

	"github.com/music-room-sync/pkg/clock"
)

func TestCreateGeneratesUniqueReadableCodes(t *testing.T) {
	g := NewRegistry(clock.NewMockClock(time.Unix(1000, 0)), false)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		r := g.Create("creator", "Creator", false)
		code := r.Code()

		if len(code) != codeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), codeLength)
		}
		for _, ch := range code {
			if !strings.ContainsRune(codeAlphabet, ch) {
				t.Fatalf("code %q contains %q outside the alphabet", code, ch)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate code %q among open rooms", code)
		}
		seen[code] = true
	}
}

func TestNumericCodes(t *testing.T) {
	g := NewRegistry(clock.NewMockClock(time.Unix(1000, 0)), true)
	r := g.Create("creator", "Creator", false)
	for _, ch := range r.Code() {
		if ch < '0' || ch > '9' {
			t.Fatalf("numeric mode produced code %q", r.Code())
		}
	}
}

func TestCreatorIsFirstMember(t *testing.T) {
	g := NewRegistry(clock.NewMockClock(time.Unix(1000, 0)), false)
	r := g.Create("user-1", "Alice", true)

	if len(r.members) != 1 || r.members[0].UserID != "user-1" {
		t.Fatalf("creator not registered as member: %+v", r.members)
	}
	if !r.autoplay {
		t.Fatal("autoplay default not applied")
	}
	if ur, ok := g.UserRoom("user-1"); !ok || ur.Code() != r.Code() {
		t.Fatal("creator not mapped to room")
	}
}

func TestRemoveClearsUserMappings(t *testing.T) {
	g := NewRegistry(clock.NewMockClock(time.Unix(1000, 0)), false)
	r := g.Create("user-1", "Alice", false)
	g.MapUser("user-2", r.Code())

	g.Remove(r.Code())

	if _, ok := g.Get(r.Code()); ok {
		t.Fatal("room still present after Remove")
	}
	if _, ok := g.UserRoom("user-1"); ok {
		t.Fatal("creator mapping survived Remove")
	}
	if _, ok := g.UserRoom("user-2"); ok {
		t.Fatal("member mapping survived Remove")
	}
}
