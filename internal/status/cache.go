package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// MemoryCache keeps the status in process.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	value   *Pipeline
	expires time.Time
}

// NewMemoryCache creates an in-process cache holding a status for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context) (*Pipeline, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	return c.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, p *Pipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = p
	c.expires = c.now().Add(c.ttl)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	return nil
}

// DefaultRedisKey is where RedisCache stores the status.
const DefaultRedisKey = "outreach:pipeline_status"

// RedisCache shares the status between processes serving the same store.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. An empty key uses
// DefaultRedisKey.
func NewRedisCache(client *redis.Client, key string, ttl time.Duration) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, key: key, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (*Pipeline, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "status: redis get")
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, eris.Wrap(err, "status: decode cached status")
	}
	return &p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, p *Pipeline) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "status: encode status")
	}
	return eris.Wrap(c.client.Set(ctx, c.key, raw, c.ttl).Err(), "status: redis set")
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return eris.Wrap(c.client.Del(ctx, c.key).Err(), "status: redis del")
}
