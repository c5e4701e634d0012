package autoplay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/music-room-sync/pkg/models"
)

// Client asks an external recommendation service for the next track when a
// room with autoplay enabled runs out of queue. A nil or failing service
// simply leaves the room idle.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type recommendation struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Duration    int    `json:"duration"`
	Thumbnail   string `json:"thumbnail"`
}

// Next returns a recommended song seeded by the room's most recent track.
func (c *Client) Next(ctx context.Context, snap models.RoomSnapshot) (*models.Song, error) {
	params := url.Values{}
	params.Set("room_id", snap.RoomID)
	if snap.CurrentSong != nil {
		params.Set("seed", snap.CurrentSong.Fingerprint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/recommend?%s", c.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build recommendation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recommendation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recommendation service returned %d", resp.StatusCode)
	}

	var rec recommendation
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}
	if rec.Fingerprint == "" {
		return nil, nil
	}

	return &models.Song{
		Fingerprint:   rec.Fingerprint,
		Title:         rec.Title,
		Channel:       rec.Channel,
		Duration:      rec.Duration,
		Thumbnail:     rec.Thumbnail,
		RequesterID:   "autoplay",
		RequesterName: "Autoplay",
	}, nil
}
