package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/schoolmap/internal/resilience"
)

// DefaultRedisPrefix namespaces result keys.
const DefaultRedisPrefix = "schoolmap:result:"

// Redis stores results in Redis with a TTL. Calls go through a circuit
// breaker; while it is open every Get is a miss and every Set is dropped.
type Redis struct {
	client  redis.Cmdable
	closeFn func() error
	prefix  string
	ttl     time.Duration
	breaker *resilience.Breaker
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewRedis connects to the Redis URL (redis://host:port/db).
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	c := NewRedisWithClient(client, ttl)
	c.closeFn = client.Close
	return c, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    ttl,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("cache: redis breaker state change",
					zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, c.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		c.misses.Add(1)
		return nil, false, eris.Wrap(err, "cache: redis get")
	}
	if data == nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return data, true, nil
}

// Set implements Cache.
func (c *Redis) Set(ctx context.Context, key string, data []byte) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
	})
	return eris.Wrap(err, "cache: redis set")
}

// Purge deletes every key under the prefix, scanning in batches.
func (c *Redis) Purge(ctx context.Context) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var cursor uint64
		for {
			keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return eris.Wrap(err, "cache: redis purge")
}

// Stats implements Cache. Entries is not tracked for Redis.
func (c *Redis) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{Driver: "redis", Hits: hits, Misses: misses, HitRate: hitRate(hits, misses)}
}

// Close implements Cache.
func (c *Redis) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}
