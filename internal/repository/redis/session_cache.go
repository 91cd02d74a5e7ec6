package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"travel-auth/internal/client"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"
)

const sessionPrefix = "session:"

// SessionCache keeps recently resolved sessions keyed by token hash.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(c *client.RedisClient) *SessionCache {
	return &SessionCache{client: c}
}

func (c *SessionCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, sessionPrefix+tokenHash)
	if errors.Is(err, client.ErrKeyNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session cache: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode cached session: %w", err)
	}
	return &s, nil
}

func (c *SessionCache) Set(ctx context.Context, s *models.Session, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionPrefix+s.TokenHash, raw, ttl)
}

func (c *SessionCache) Delete(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Del(ctx, sessionPrefix+tokenHash)
}
