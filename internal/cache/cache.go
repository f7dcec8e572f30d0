package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobStatusTTL is how long a job snapshot stays in the cache after its last write.
const JobStatusTTL = 30 * time.Minute

// JobSnapshot is the cached view of a job served by the status endpoint.
type JobSnapshot struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	Status        string    `json:"status"`
	ResultLocator string    `json:"result_locator,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJobSnapshot(ctx context.Context, jobID uuid.UUID, snap JobSnapshot) error
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetJobSnapshot(ctx context.Context, jobID uuid.UUID, snap JobSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, JobStatusKey(jobID), b, JobStatusTTL).Err()
}

func (c *RedisCache) GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, bool, error) {
	val, found, err := c.Get(ctx, JobStatusKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var snap JobSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		// Written by an older release; treat as a miss.
		return nil, false, nil
	}
	return &snap, true, nil
}

// IncrWithExpiry increments key in one transaction with setting its expiry.
// The expiry is only set when the key has none, so later calls do not extend
// the window. EXPIRE NX needs Redis 7 or newer.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
