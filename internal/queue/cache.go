package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Newcityvip/bdt-fraud-radar/configs"

	"github.com/redis/go-redis/v9"
)

// CacheClient stores JSON-encoded values in Redis. It backs the scan summary
// cache, the analytics caches, and the cross-process scan mutex (via SetNX).
type CacheClient struct {
	client *redis.Client
}

func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	client, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &CacheClient{client: client}, nil
}

// Set stores value under key. A zero expiration keeps it until overwritten.
func (c *CacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get decodes the value under key into dest. Returns redis.Nil on a miss.
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// SetNX stores value only if key is absent. The scan services use this as a
// mutex with a TTL so a crashed holder cannot wedge scanning forever.
func (c *CacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, key, data, expiration).Result()
}

// Expire resets the TTL on an existing key. Returns false when the key is
// gone, which for a lock means the holder already lost it.
func (c *CacheClient) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return c.client.Expire(ctx, key, expiration).Result()
}

func (c *CacheClient) Close() error {
	return c.client.Close()
}
