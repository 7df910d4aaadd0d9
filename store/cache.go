package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Store with redis-backed caching of owner result sets.
// Writes pass through and evict, so the next read re-fills from the base.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided redis client
// and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("store.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Query(ctx context.Context, ownerID string) ([]Document, error) {
	if docs, ok := c.loadFromCache(ctx, ownerID); ok {
		return docs, nil
	}
	docs, err := c.base.Query(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ownerID, docs)
	return docs, nil
}

// Subscribe always reaches the base store; snapshot streams must never be
// served stale.
func (c *Cache) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	return c.base.Subscribe(ctx, ownerID)
}

func (c *Cache) Insert(ctx context.Context, doc Document) (string, error) {
	id, err := c.base.Insert(ctx, doc)
	if err != nil {
		return "", err
	}
	c.evict(ctx, doc.OwnerID)
	return id, nil
}

func (c *Cache) Update(ctx context.Context, ownerID, id string, patch Patch) error {
	if err := c.base.Update(ctx, ownerID, id, patch); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

func (c *Cache) Delete(ctx context.Context, ownerID, id string) error {
	if err := c.base.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

func (c *Cache) Batch(ownerID string) Batch {
	return &cacheBatch{Batch: c.base.Batch(ownerID), cache: c, ownerID: ownerID}
}

type cacheBatch struct {
	Batch
	cache   *Cache
	ownerID string
}

func (b *cacheBatch) Commit(ctx context.Context) error {
	if err := b.Batch.Commit(ctx); err != nil {
		return err
	}
	b.cache.evict(ctx, b.ownerID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, ownerID string) ([]Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		return nil, false
	}
	return docs, true
}

func (c *Cache) store(ctx context.Context, ownerID string, docs []Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(ownerID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Result()
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}
