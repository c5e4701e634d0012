package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/music-room-sync/internal/config"
	"github.com/music-room-sync/internal/ratelimit"
	"github.com/music-room-sync/internal/room"
	"github.com/music-room-sync/pkg/clock"
	"github.com/music-room-sync/pkg/models"
)

type wsFixture struct {
	srv *httptest.Server
	hub *Hub
	svc *room.Service
}

func newWSFixture(t *testing.T, rule ratelimit.Rule) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Playback.SongLengthLimitSec = 1800
	cfg.Playback.PrerollSec = 3
	cfg.Playback.ProgressIntervalSec = 1
	cfg.Rooms.CleanupAfterMin = 120

	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	limiter := ratelimit.NewLimiter(clk, rule)
	svc := room.NewService(room.NewRegistry(clk, false), limiter, nil, clk, cfg)

	hub := NewHub()
	svc.SetNotifier(hub)

	router := gin.New()
	router.GET("/ws/:roomId", NewHandler(hub, svc).HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &wsFixture{srv: srv, hub: hub, svc: svc}
}

func (f *wsFixture) dial(t *testing.T, roomID, userID, userName string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"/ws/" + roomID + "?user_id=" + userID + "&user_name=" + userName
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains the connection until a message of the wanted type arrives.
// Connect-time traffic (user_joined, stats) precedes most expectations.
func readUntil(t *testing.T, conn *websocket.Conn, want models.WSMessageType) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 20; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for %s: %v", want, err)
		}
		var msg models.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message within 20 frames", want)
	return models.WSMessage{}
}

func generousWSRule() ratelimit.Rule {
	return ratelimit.Rule{Max: 1000, Window: time.Second}
}

func TestConnectDeliversRoomState(t *testing.T) {
	f := newWSFixture(t, generousWSRule())
	snap, err := f.svc.CreateRoom(context.Background(), "alice", "Alice")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	conn := f.dial(t, snap.RoomID, "alice", "Alice")

	// The snapshot must be the very first frame: connect-time broadcasts
	// (user_joined, stats) are superseded by it and never precede it.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("malformed frame: %v", err)
	}
	if msg.Type != models.WSRoomState {
		t.Fatalf("first frame = %s, want %s", msg.Type, models.WSRoomState)
	}

	roomData, ok := msg.Data["room"].(map[string]any)
	if !ok {
		t.Fatalf("room_state carries no room snapshot: %+v", msg.Data)
	}
	if roomData["room_id"] != snap.RoomID {
		t.Fatalf("room_state for %v, want %s", roomData["room_id"], snap.RoomID)
	}
	if f.hub.ActiveCount(snap.RoomID) != 1 {
		t.Fatalf("ActiveCount = %d, want 1", f.hub.ActiveCount(snap.RoomID))
	}
}

func TestUnknownRoomRejectedBeforeUpgrade(t *testing.T) {
	f := newWSFixture(t, generousWSRule())

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/NOPE99?user_id=alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown room must fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 before upgrade, got %+v", resp)
	}
}

func TestBroadcastReachesEveryRoomMember(t *testing.T) {
	f := newWSFixture(t, generousWSRule())
	snap, _ := f.svc.CreateRoom(context.Background(), "alice", "Alice")

	alice := f.dial(t, snap.RoomID, "alice", "Alice")
	bob := f.dial(t, snap.RoomID, "bob", "Bob")
	readUntil(t, alice, models.WSRoomState)
	readUntil(t, bob, models.WSRoomState)

	f.hub.Broadcast(snap.RoomID, models.NewWSMessage(models.WSSongAdded, map[string]any{
		"song": map[string]any{"title": "Fan-out"},
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readUntil(t, conn, models.WSSongAdded)
		song := msg.Data["song"].(map[string]any)
		if song["title"] != "Fan-out" {
			t.Fatalf("wrong payload delivered: %+v", msg.Data)
		}
	}
}

func TestSocketCommandDispatch(t *testing.T) {
	f := newWSFixture(t, generousWSRule())
	snap, _ := f.svc.CreateRoom(context.Background(), "alice", "Alice")

	conn := f.dial(t, snap.RoomID, "alice", "Alice")
	readUntil(t, conn, models.WSRoomState)

	err := conn.WriteJSON(map[string]any{
		"type":        "add_song",
		"fingerprint": "fp-ws",
		"title":       "Socket Add",
		"duration":    180,
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readUntil(t, conn, models.WSSongAdded)
	song := msg.Data["song"].(map[string]any)
	if song["title"] != "Socket Add" || song["requester_id"] != "alice" {
		t.Fatalf("song_added payload = %+v", song)
	}

	got, err := f.svc.Snapshot(snap.RoomID)
	if err != nil || len(got.Queue) != 1 {
		t.Fatalf("socket command did not reach the queue: %+v %v", got.Queue, err)
	}
}

func TestThrottledSocketCommandGetsErrorEvent(t *testing.T) {
	f := newWSFixture(t, ratelimit.Rule{Max: 1, Window: time.Minute})
	snap, _ := f.svc.CreateRoom(context.Background(), "alice", "Alice")

	conn := f.dial(t, snap.RoomID, "alice", "Alice")
	readUntil(t, conn, models.WSRoomState)

	add := func(title string) {
		if err := conn.WriteJSON(map[string]any{
			"type": "add_song", "fingerprint": "fp-" + title, "title": title, "duration": 120,
		}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	add("First")
	readUntil(t, conn, models.WSSongAdded)

	add("Second")
	msg := readUntil(t, conn, models.WSError)
	if msg.Data["code"] != "throttled" {
		t.Fatalf("error code = %v, want throttled", msg.Data["code"])
	}
}

func TestDeliverAfterRoomCloseIsSafe(t *testing.T) {
	f := newWSFixture(t, generousWSRule())
	snap, _ := f.svc.CreateRoom(context.Background(), "alice", "Alice")

	conn := f.dial(t, snap.RoomID, "alice", "Alice")
	readUntil(t, conn, models.WSRoomState)

	f.hub.mu.RLock()
	var client *Client
	for c := range f.hub.rooms[snap.RoomID] {
		client = c
	}
	f.hub.mu.RUnlock()
	if client == nil {
		t.Fatal("no registered client")
	}

	f.hub.DisconnectRoom(snap.RoomID)

	// A command erroring mid-teardown still reports to its sender; the
	// send must degrade to a no-op rather than hit a closed channel.
	client.deliverError("throttled", room.ErrThrottled)
	client.deliver(models.NewWSMessage(models.WSError, map[string]any{"code": "command_failed"}))

	// Removal after the room is already gone must be a no-op too.
	f.hub.remove(client)

	f.hub.Broadcast(snap.RoomID, models.NewWSMessage(models.WSSongAdded, map[string]any{"song": nil}))
	if f.hub.ActiveCount(snap.RoomID) != 0 {
		t.Fatalf("ActiveCount = %d after teardown", f.hub.ActiveCount(snap.RoomID))
	}
}

func TestDisconnectRoomClosesConnections(t *testing.T) {
	f := newWSFixture(t, generousWSRule())
	snap, _ := f.svc.CreateRoom(context.Background(), "alice", "Alice")

	conn := f.dial(t, snap.RoomID, "alice", "Alice")
	readUntil(t, conn, models.WSRoomState)

	f.hub.DisconnectRoom(snap.RoomID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 20; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			if f.hub.ActiveCount(snap.RoomID) != 0 {
				t.Fatalf("ActiveCount = %d after DisconnectRoom", f.hub.ActiveCount(snap.RoomID))
			}
			return
		}
	}
	t.Fatal("connection survived DisconnectRoom")
}
