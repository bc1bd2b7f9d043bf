package storage

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the read-through cache Store optionally sits in front of for
// Pairs and LatestAll — enrichment, not correctness: every Get miss falls
// through to SQLite. Adapted from the teacher's in-memory/Redis cache
// pair (data/cache/cache.go), generalized from byte blobs keyed by a
// caller-chosen TTL to the two query shapes Store needs.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Del(key string)
}

// noopCache is the default when no cache is configured: every Get misses.
type noopCache struct{}

func (noopCache) Get(string) ([]byte, bool)       { return nil, false }
func (noopCache) Set(string, []byte, time.Duration) {}
func (noopCache) Del(string)                        {}

// memoryCache is an in-process TTL cache, used when REDIS_ADDR is unset.
type memoryCache struct {
	mu sync.Mutex
	m  map[string]memEntry
}

type memEntry struct {
	val []byte
	exp time.Time
}

// NewMemoryCache constructs a process-local Cache.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]memEntry)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.val, true
}

func (c *memoryCache) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

func (c *memoryCache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// redisCache fronts Store's hot reads with a shared Redis instance, so a
// multi-process deployment (ingestion HTTP server + standalone poller
// process) shares one warm cache instead of each holding its own.
type redisCache struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCache constructs a Cache backed by a Redis server at addr.
func NewRedisCache(addr string) Cache {
	return &redisCache{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		timeout: 500 * time.Millisecond,
	}
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.client.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Del(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.client.Del(ctx, key).Err()
}

// NewCacheFromAddr returns a Redis-backed cache when addr is non-empty,
// otherwise an in-process cache — the "degrades gracefully without Redis"
// supplement from SPEC_FULL.md §3.
func NewCacheFromAddr(addr string) Cache {
	if addr == "" {
		return NewMemoryCache()
	}
	return NewRedisCache(addr)
}
