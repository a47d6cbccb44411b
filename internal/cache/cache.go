// Package cache is a cache-aside layer over Redis for hot read paths:
// latest-prediction lookups and metrics window aggregates. The store
// remains the source of truth; every cached read has a database fallback
// and cache failures are logged, never surfaced.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/model"
)

const defaultTTL = 60 * time.Second

// Cache wraps a Redis client. A nil *Cache is valid and disables caching,
// so callers never branch on configuration.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis. An empty addr returns a nil cache (disabled).
func New(addr string, db int, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl: ttl,
	}
}

// Ping verifies connectivity. Nil caches report healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func latestKey(applicationID string, mt model.ModelType) string {
	return fmt.Sprintf("screening:latest:%s:%s", mt, applicationID)
}

func windowKey(mt model.ModelType) string {
	return fmt.Sprintf("screening:window:%s", mt)
}

// tagKey tracks every latest-prediction key written for a model type so
// invalidation can clear them without a scan.
func tagKey(mt model.ModelType) string {
	return fmt.Sprintf("screening:tag:%s", mt)
}

// LatestPrediction returns the cached latest row, or nil on miss.
func (c *Cache) LatestPrediction(ctx context.Context, applicationID string, mt model.ModelType) *model.Prediction {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, latestKey(applicationID, mt)).Bytes()
	if err != nil {
		if err != redis.Nil {
			zap.L().Debug("cache read failed", zap.Error(err))
		}
		return nil
	}
	var p model.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// StoreLatestPrediction caches a row under the latest key and records it
// in the model-type tag set.
func (c *Cache) StoreLatestPrediction(ctx context.Context, p *model.Prediction) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	key := latestKey(p.ApplicationID, p.ModelType)
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, key, raw, c.ttl)
	pipe.SAdd(ctx, tagKey(p.ModelType), key)
	pipe.Expire(ctx, tagKey(p.ModelType), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Debug("cache write failed", zap.Error(err))
	}
}

// WindowStats returns the cached metrics aggregate, or nil on miss.
func (c *Cache) WindowStats(ctx context.Context, mt model.ModelType) *model.WindowStats {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, windowKey(mt)).Bytes()
	if err != nil {
		return nil
	}
	var ws model.WindowStats
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil
	}
	return &ws
}

// StoreWindowStats caches a metrics aggregate.
func (c *Cache) StoreWindowStats(ctx context.Context, mt model.ModelType, ws *model.WindowStats) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(ws)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, windowKey(mt), raw, c.ttl).Err(); err != nil {
		zap.L().Debug("cache write failed", zap.Error(err))
	}
}

// Invalidate clears cached reads for a model type after new rows are
// written: the window aggregate plus every tagged latest key.
func (c *Cache) Invalidate(ctx context.Context, mt model.ModelType) {
	if c == nil {
		return
	}
	keys, err := c.rdb.SMembers(ctx, tagKey(mt)).Result()
	if err != nil && err != redis.Nil {
		zap.L().Debug("cache invalidate failed", zap.Error(err))
		return
	}
	keys = append(keys, windowKey(mt), tagKey(mt))
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		zap.L().Debug("cache invalidate failed", zap.Error(err))
	}
}
