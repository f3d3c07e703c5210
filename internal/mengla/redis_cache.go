package mengla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const clearScanCount = 500

type RedisCacheOptions struct {
	KeyPrefix string
	TTL       time.Duration // durable query entries, 0 = no expiry
	ExecTTL   time.Duration // execution entries, 0 = no expiry
}

// RedisCache is a Cache shared across processes through Redis.
type RedisCache struct {
	client redis.UniversalClient
	opts   RedisCacheOptions
}

func NewRedisCache(client redis.UniversalClient, opts RedisCacheOptions) *RedisCache {
	return &RedisCache{client: client, opts: opts}
}

func (c *RedisCache) key(k string) string {
	return c.opts.KeyPrefix + k
}

func (c *RedisCache) ttlFor(k string) time.Duration {
	if strings.HasPrefix(k, ExecKeyPrefix) {
		return c.opts.ExecTTL
	}
	return c.opts.TTL
}

func (c *RedisCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return json.RawMessage(b), true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, value json.RawMessage) error {
	if err := c.client.Set(ctx, c.key(key), []byte(value), c.ttlFor(key)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the prefix. Without a prefix it refuses,
// since the database may be shared with other applications. Keys are collected
// before any delete so the SCAN cursor walks an unchanged keyspace.
func (c *RedisCache) Clear(ctx context.Context) error {
	if c.opts.KeyPrefix == "" {
		return ErrBulkClearUnsupported
	}

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.opts.KeyPrefix+"*", clearScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s*: %w", c.opts.KeyPrefix, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	for start := 0; start < len(keys); start += clearScanCount {
		end := start + clearScanCount
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis del during clear: %w", err)
		}
	}
	return nil
}
