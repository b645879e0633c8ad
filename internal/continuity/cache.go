package continuity

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "continuity:snapshot:"

// CachedStore mirrors the latest committed snapshot per project in
// redis. Reads are served from the mirror when present; every commit and
// seed writes through. The mirror is an optimization only: a cache miss
// or unmarshal failure falls back to the underlying store, never to an
// error.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedStore wraps inner with a redis snapshot mirror.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *log.Logger) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedStore) Snapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	key := snapshotKeyPrefix + projectID
	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var snap Snapshot
		if jerr := json.Unmarshal([]byte(val), &snap); jerr == nil {
			return &snap, nil
		}
		// stale or mangled mirror entry; drop it and fall through
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Printf("snapshot cache read failed for %s: %v", projectID, err)
	}
	snap, err := c.inner.Snapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.mirror(ctx, snap)
	return snap, nil
}

func (c *CachedStore) Commit(ctx context.Context, projectID string, m Mutations) (*Snapshot, error) {
	snap, err := c.inner.Commit(ctx, projectID, m)
	if err != nil {
		return nil, err
	}
	c.mirror(ctx, snap)
	return snap, nil
}

func (c *CachedStore) Seed(ctx context.Context, projectID string, seed Seed) error {
	if err := c.inner.Seed(ctx, projectID, seed); err != nil {
		return err
	}
	_ = c.client.Del(ctx, snapshotKeyPrefix+projectID).Err()
	return nil
}

func (c *CachedStore) mirror(ctx context.Context, snap *Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotKeyPrefix+snap.ProjectID, data, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Printf("snapshot cache write failed for %s: %v", snap.ProjectID, err)
	}
}

var _ Store = (*CachedStore)(nil)
