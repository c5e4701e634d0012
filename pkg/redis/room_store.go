package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/music-room-sync/pkg/models"
)

const snapshotTTL = 24 * time.Hour

// RoomStore caches room snapshots in Redis so operators and sibling services
// can read room state without hitting the authoritative process.
type RoomStore struct {
	client *redis.Client
}

func NewRoomStore(client *redis.Client) *RoomStore {
	return &RoomStore{client: client}
}

func (s *RoomStore) Save(ctx context.Context, snap models.RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("room:%s", snap.RoomID)
	if err := s.client.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, code string) (*models.RoomSnapshot, error) {
	key := fmt.Sprintf("room:%s", code)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("snapshot not found")
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap models.RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RoomStore) Delete(ctx context.Context, code string) error {
	return s.client.Del(ctx, fmt.Sprintf("room:%s", code)).Err()
}
