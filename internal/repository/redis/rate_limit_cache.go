package redis

import (
	"context"
	"fmt"
	"time"

	"travel-auth/internal/client"
)

const rateLimitPrefix = "rate_limit:"

// RateLimitCache is a fixed-window counter shared by every instance.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(c *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: c}
}

func (c *RateLimitCache) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := c.client.IncrWithExpire(ctx, rateLimitPrefix+key, window)
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	return n <= int64(limit), nil
}
