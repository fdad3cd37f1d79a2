package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiterAdapter is the Redis implementation of the
// RateLimiterRepository port, using a fixed-window counter per key.
type RateLimiterAdapter struct {
	rdb *redis.Client
}

// NewRateLimiterAdapter connects to Redis and verifies the connection.
func NewRateLimiterAdapter(addr string) (*RateLimiterAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RateLimiterAdapter{rdb: rdb}, nil
}

// IsAllowed atomically increments the window counter for the key and
// reports whether the caller is still under the limit. The first request
// in a window sets the expiry.
func (a *RateLimiterAdapter) IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis INCR failed: %w", err)
	}

	if count == 1 {
		if err := a.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("redis EXPIRE failed: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// Close gracefully closes the Redis connection.
func (a *RateLimiterAdapter) Close() error {
	return a.rdb.Close()
}
