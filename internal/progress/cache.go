// Package progress caches campaign delivery snapshots in Redis so that
// frequent progress polls do not hammer the recipient table. The cache is a
// pure read accelerator: every entry expires and every miss falls through to
// a recount, so Redis being down degrades latency, never correctness.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailblast/internal/domain"
)

// ErrMiss is returned by Get when no snapshot is cached for the campaign.
var ErrMiss = errors.New("progress: cache miss")

// DefaultTTL bounds staleness when invalidation is missed (worker crash
// between status write and cache refresh).
const DefaultTTL = 5 * time.Minute

// Cache stores progress snapshots keyed by campaign id.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a snapshot cache. A non-positive ttl falls back to
// DefaultTTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func key(campaignID string) string {
	return "mailblast:progress:" + campaignID
}

// Put stores a snapshot, replacing any previous entry and resetting the TTL.
func (c *Cache) Put(ctx context.Context, snap domain.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key(snap.CampaignID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for a campaign, or ErrMiss.
func (c *Cache) Get(ctx context.Context, campaignID string) (domain.ProgressSnapshot, error) {
	var snap domain.ProgressSnapshot
	data, err := c.client.Get(ctx, key(campaignID)).Bytes()
	if err == redis.Nil {
		return snap, ErrMiss
	}
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entry. Treat as a miss so the caller recomputes.
		return domain.ProgressSnapshot{}, ErrMiss
	}
	return snap, nil
}

// Invalidate drops the cached snapshot after a state change so the next read
// recomputes from the database.
func (c *Cache) Invalidate(ctx context.Context, campaignID string) error {
	if err := c.client.Del(ctx, key(campaignID)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}
