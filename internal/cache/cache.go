// Package cache implements the two-tier view cache described in SPEC_FULL
// §6.3: an in-process mutex-guarded map of views fronting an optional
// shared Redis cache. Keys are `view:{database}:{commit_hash}`; Redis
// values are gzip canonical payload bytes, so the compressed-payload
// invariant holds for the shared tier as well as for store reads.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// Cache is a two-tier view cache satisfying versioning.ViewCache.
type Cache struct {
	local  *localTier
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a Cache. redisClient may be nil to run local-only.
func New(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{local: newLocalTier(), redis: redisClient, ttl: ttl, logger: logger}
}

func key(database, commitHash string) string {
	return "view:" + database + ":" + commitHash
}

// Get satisfies versioning.ViewCache. It checks the in-process tier first,
// then Redis, promoting a Redis hit back into the local tier.
func (c *Cache) Get(ctx context.Context, database, commitHash string) (*model.View, bool) {
	k := key(database, commitHash)
	if view, ok := c.local.get(k); ok {
		return view, true
	}
	if c.redis == nil {
		return nil, false
	}
	compressed, err := c.redis.Get(ctx, k).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis view cache get failed", zap.String("key", k), zap.Error(err))
		}
		return nil, false
	}
	raw, err := gunzip(compressed)
	if err != nil {
		c.logger.Warn("redis view cache payload corrupt", zap.String("key", k), zap.Error(err))
		return nil, false
	}
	var canonical struct {
		Classes   []model.ClassDefinition `json:"classes"`
		Instances []*model.Instance       `json:"instances"`
	}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		c.logger.Warn("redis view cache payload unmarshal failed", zap.String("key", k), zap.Error(err))
		return nil, false
	}
	view := model.View{Schema: model.Schema{Classes: canonical.Classes}, Instances: make(map[string]*model.Instance, len(canonical.Instances))}
	for _, inst := range canonical.Instances {
		view.Instances[inst.ID] = inst
	}
	c.local.put(k, &view)
	return &view, true
}

// Put satisfies versioning.ViewCache, writing through both tiers.
func (c *Cache) Put(ctx context.Context, database, commitHash string, view *model.View) {
	k := key(database, commitHash)
	c.local.put(k, view)
	if c.redis == nil {
		return
	}
	canonical, err := versioning.Canonicalize(view)
	if err != nil {
		c.logger.Warn("canonicalize view for redis cache failed", zap.Error(err))
		return
	}
	compressed, err := versioning.CompressPayload(canonical)
	if err != nil {
		c.logger.Warn("compress view for redis cache failed", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, k, compressed, c.ttl).Err(); err != nil {
		c.logger.Warn("redis view cache set failed", zap.String("key", k), zap.Error(err))
	}
}

// Invalidate drops a commit's view from both tiers, used when a commit is
// superseded (it never is, commits are immutable) or for manual eviction
// during operational maintenance.
func (c *Cache) Invalidate(ctx context.Context, database, commitHash string) {
	k := key(database, commitHash)
	c.local.delete(k)
	if c.redis != nil {
		c.redis.Del(ctx, k)
	}
}

var _ versioning.ViewCache = (*Cache)(nil)
