package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailsched/internal/model"
)

const snapshotKey = "mailsched:campaigns"

// Lister loads the full campaign set from the entity store.
type Lister interface {
	ListCampaigns(ctx context.Context, activeOnly bool) ([]model.Campaign, error)
}

// SnapshotStore is the slice of the redis client the cache needs.
// *redis.Client satisfies it.
type SnapshotStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CampaignCache keeps a short-lived redis snapshot of the unfiltered
// campaign set so a pass every minute does not hammer the store. It is an
// optimization only: the sent-flag writes always target the live store, so
// a stale snapshot can delay a transition but never corrupt it. Keep the
// TTL at or below the tick interval.
type CampaignCache struct {
	rdb    SnapshotStore
	repo   Lister
	ttl    time.Duration
	logger *zap.Logger
}

func NewCampaignCache(rdb SnapshotStore, repo Lister, ttl time.Duration, logger *zap.Logger) *CampaignCache {
	return &CampaignCache{
		rdb:    rdb,
		repo:   repo,
		ttl:    ttl,
		logger: logger,
	}
}

// ActiveCampaigns returns the active subset of the cached snapshot,
// refreshing it lazily on a miss.
func (c *CampaignCache) ActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	all, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]model.Campaign, 0, len(all))
	for _, campaign := range all {
		if campaign.IsActive {
			active = append(active, campaign)
		}
	}
	return active, nil
}

func (c *CampaignCache) snapshot(ctx context.Context) ([]model.Campaign, error) {
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var all []model.Campaign
		if err := json.Unmarshal(data, &all); err == nil {
			return all, nil
		}
		// Undecodable snapshot: fall through and rebuild it.
		c.logger.Warn("Dropping undecodable campaign snapshot")
	} else if !errors.Is(err, redis.Nil) {
		// Redis down is not fatal: degrade to direct store reads.
		c.logger.Warn("Campaign cache read failed, loading from store", zap.Error(err))
	}

	all, err := c.repo.ListCampaigns(ctx, false)
	if err != nil {
		return nil, err
	}

	if body, err := json.Marshal(all); err == nil {
		if err := c.rdb.Set(ctx, snapshotKey, body, c.ttl).Err(); err != nil {
			c.logger.Warn("Failed to store campaign snapshot", zap.Error(err))
		}
	}

	return all, nil
}

// Invalidate drops the snapshot so the next pass reads fresh data, e.g.
// after the CRUD layer changes a campaign.
func (c *CampaignCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, snapshotKey).Err()
}
