package audiocache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/music-room-sync/pkg/clock"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

var (
	ErrNotFound     = errors.New("audio not found in cache")
	ErrNotReady     = errors.New("audio not yet available")
	ErrTrackTooLong = errors.New("track exceeds maximum duration")
)

type entry struct {
	fingerprint string
	status      Status
	path        string
	size        int64
	lastAccess  time.Time
	erroredAt   time.Time
	refs        int
}

// Options are the cache tunables.
type Options struct {
	MaxSizeBytes   int64
	MaxAge         time.Duration
	AcquireTimeout time.Duration
	ErrorCooldown  time.Duration
	MaxDuration    int // seconds; 0 disables the cap
}

// Cache guarantees at most one concurrent acquisition per fingerprint,
// reports per-entry status, serves refcounted reads of completed files and
// evicts ready entries under size and age pressure. An entry with a nonzero
// refcount is never evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	dir     string
	fetcher Fetcher
	clock   clock.Clock
	opts    Options
}

func NewCache(dir string, fetcher Fetcher, clk clock.Clock, opts Options) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{
		entries: make(map[string]*entry),
		dir:     dir,
		fetcher: fetcher,
		clock:   clk,
		opts:    opts,
	}, nil
}

// Request reports the entry's status, starting an acquisition when the
// fingerprint is unseen. Concurrent requests for the same fingerprint attach
// to the in-flight acquisition instead of starting duplicate work. Entries in
// error state are retried once the cool-down has elapsed.
func (c *Cache) Request(fingerprint string, durationSec int) (Status, error) {
	if c.opts.MaxDuration > 0 && durationSec > c.opts.MaxDuration {
		return StatusUnknown, fmt.Errorf("%w: %ds > %ds", ErrTrackTooLong, durationSec, c.opts.MaxDuration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries[fingerprint]
	if !ok {
		e = &entry{
			fingerprint: fingerprint,
			status:      StatusDownloading,
			path:        filepath.Join(c.dir, fingerprint+".mp3"),
		}
		c.entries[fingerprint] = e
		go c.acquire(fingerprint, e.path)
		return StatusDownloading, nil
	}

	switch e.status {
	case StatusReady:
		e.lastAccess = now
		return StatusReady, nil
	case StatusDownloading:
		return StatusDownloading, nil
	case StatusError:
		if now.Sub(e.erroredAt) >= c.opts.ErrorCooldown {
			e.status = StatusDownloading
			go c.acquire(fingerprint, e.path)
			return StatusDownloading, nil
		}
		return StatusError, nil
	}
	return StatusUnknown, nil
}

// Status peeks at an entry without triggering an acquisition.
func (c *Cache) Status(fingerprint string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return StatusUnknown
	}
	return e.status
}

func (c *Cache) acquire(fingerprint, dest string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AcquireTimeout)
	defer cancel()

	err := c.fetcher.Fetch(ctx, fingerprint, dest)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		// Entry vanished under us; discard the file.
		os.Remove(dest)
		return
	}

	if err != nil {
		log.Printf("audiocache: acquisition failed for %s: %v", fingerprint, err)
		os.Remove(dest)
		e.status = StatusError
		e.erroredAt = c.clock.Now()
		return
	}

	info, statErr := os.Stat(dest)
	if statErr != nil {
		log.Printf("audiocache: fetched file missing for %s: %v", fingerprint, statErr)
		e.status = StatusError
		e.erroredAt = c.clock.Now()
		return
	}

	e.status = StatusReady
	e.size = info.Size()
	e.lastAccess = c.clock.Now()
	log.Printf("audiocache: %s ready (%d bytes)", fingerprint, e.size)
}

// Reader is a seekable handle on a completed cache file. Closing it releases
// the entry's in-flight reference.
type Reader struct {
	*os.File
	modTime time.Time
	release func()
	once    sync.Once
}

func (r *Reader) ModTime() time.Time { return r.modTime }

func (r *Reader) Close() error {
	err := r.File.Close()
	r.once.Do(r.release)
	return err
}

// Open returns a byte-range-capable reader for a ready entry, incrementing
// its refcount until the reader is closed. Returns ErrNotReady while an
// acquisition is in flight and ErrNotFound for unseen or failed fingerprints.
func (c *Cache) Open(fingerprint string) (*Reader, error) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	switch e.status {
	case StatusDownloading:
		c.mu.Unlock()
		return nil, ErrNotReady
	case StatusError, StatusUnknown:
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	f, err := os.Open(e.path)
	if err != nil {
		// File disappeared out from under the entry; degrade to a retryable error.
		e.status = StatusError
		e.erroredAt = c.clock.Now()
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	e.refs++
	e.lastAccess = c.clock.Now()
	c.mu.Unlock()

	info, _ := f.Stat()
	modTime := time.Time{}
	if info != nil {
		modTime = info.ModTime()
	}

	return &Reader{
		File:    f,
		modTime: modTime,
		release: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.entries[fingerprint]; ok && cur.refs > 0 {
				cur.refs--
			}
		},
	}, nil
}

// Sweep removes ready entries older than the max age and, while total size
// exceeds the cap, evicts least-recently-accessed entries first. Entries with
// a nonzero refcount are always skipped. Error entries whose cool-down has
// elapsed are dropped too, so fingerprints nobody retries do not accumulate.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var total int64
	var ready []*entry
	for _, e := range c.entries {
		if e.status == StatusError && now.Sub(e.erroredAt) >= c.opts.ErrorCooldown {
			delete(c.entries, e.fingerprint)
			continue
		}
		if e.status != StatusReady {
			continue
		}
		if c.opts.MaxAge > 0 && now.Sub(e.lastAccess) > c.opts.MaxAge && e.refs == 0 {
			c.evictLocked(e)
			continue
		}
		total += e.size
		ready = append(ready, e)
	}

	if c.opts.MaxSizeBytes <= 0 || total <= c.opts.MaxSizeBytes {
		return
	}

	sort.Slice(ready, func(i, j int) bool {
		return ready[i].lastAccess.Before(ready[j].lastAccess)
	})
	for _, e := range ready {
		if total <= c.opts.MaxSizeBytes {
			break
		}
		if e.refs > 0 {
			continue
		}
		total -= e.size
		c.evictLocked(e)
	}
}

func (c *Cache) evictLocked(e *entry) {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		log.Printf("audiocache: failed to remove %s: %v", e.path, err)
	}
	delete(c.entries, e.fingerprint)
}

// RunSweeper runs Sweep on a fixed interval until the context is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
