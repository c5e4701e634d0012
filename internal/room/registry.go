package room

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/music-room-sync/pkg/clock"
	"github.com/music-room-sync/pkg/models"
)

const codeLength = 6

// I, O, 0 and 1 are excluded for readability.
const (
	codeAlphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAlphabetNumeric = "0123456789"
)

// Registry owns the live Room aggregates and the user→room reverse index.
// Codes are unique among open rooms only; a closed room's code may be reused.
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	userRooms map[string]string
	clock     clock.Clock
	numeric   bool
}

func NewRegistry(clk clock.Clock, numericCodes bool) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		userRooms: make(map[string]string),
		clock:     clk,
		numeric:   numericCodes,
	}
}

func (g *Registry) generateCode() string {
	alphabet := codeAlphabet
	if g.numeric {
		alphabet = codeAlphabetNumeric
	}
	for {
		code := make([]byte, codeLength)
		for i := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				// crypto/rand failing means the process is in deep trouble;
				// fall back to the first symbol and let the collision loop spin.
				n = big.NewInt(0)
			}
			code[i] = alphabet[n.Int64()]
		}
		if _, taken := g.rooms[string(code)]; !taken {
			return string(code)
		}
	}
}

// Create allocates a room with a fresh collision-free code and registers the
// creator as its first member.
func (g *Registry) Create(creatorID, creatorName string, autoplay bool) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	r := &Room{
		code:      g.generateCode(),
		createdAt: now,
		creatorID: creatorID,
		members: []models.Member{{
			UserID:   creatorID,
			UserName: creatorName,
			JoinedAt: now,
		}},
		playback: models.PlaybackState{
			IsPlaying:   false,
			CurrentTime: 0,
			LastUpdate:  now,
		},
		autoplay:     autoplay,
		lastActivity: now,
	}

	g.rooms[r.code] = r
	g.userRooms[creatorID] = r.code
	return r
}

func (g *Registry) Get(code string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[code]
	return r, ok
}

// UserRoom resolves the room a user most recently joined, if still open.
func (g *Registry) UserRoom(userID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code, ok := g.userRooms[userID]
	if !ok {
		return nil, false
	}
	r, ok := g.rooms[code]
	return r, ok
}

func (g *Registry) MapUser(userID, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userRooms[userID] = code
}

func (g *Registry) UnmapUser(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.userRooms, userID)
}

// Remove drops the room and every user mapping pointing at it.
func (g *Registry) Remove(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, code)
	for user, c := range g.userRooms {
		if c == code {
			delete(g.userRooms, user)
		}
	}
}

// All returns the open rooms. Used by the inactivity sweep.
func (g *Registry) All() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
