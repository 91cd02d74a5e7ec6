package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"travel-auth/internal/client"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"
	"travel-auth/internal/util"
)

const (
	pendingPrefix = "oauth_pending:"
	// entries outlive ExpiresAt briefly so a late submit reports expiry
	// instead of a missing entry
	pendingGrace = time.Minute
)

type PendingStore struct {
	client *client.RedisClient
	now    func() time.Time
}

func NewPendingStore(c *client.RedisClient) *PendingStore {
	return &PendingStore{client: c, now: time.Now}
}

func pendingKey(provider, providerUserID string) string {
	return pendingPrefix + provider + ":" + providerUserID
}

func (s *PendingStore) Put(ctx context.Context, p *models.OAuthPendingVerification) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl := p.ExpiresAt.Sub(s.now()) + pendingGrace
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending verification: %w", err)
	}
	if err := s.client.Set(ctx, pendingKey(p.Provider, p.ProviderUserID), raw, ttl); err != nil {
		util.Error("Failed to store pending verification", util.String("provider", p.Provider), util.ErrorField(err))
		return fmt.Errorf("store pending verification: %w", err)
	}
	return nil
}

func (s *PendingStore) Get(ctx context.Context, provider, providerUserID string) (*models.OAuthPendingVerification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, pendingKey(provider, providerUserID))
	if errors.Is(err, client.ErrKeyNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending verification: %w", err)
	}
	var p models.OAuthPendingVerification
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode pending verification: %w", err)
	}
	return &p, nil
}

func (s *PendingStore) Delete(ctx context.Context, provider, providerUserID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Del(ctx, pendingKey(provider, providerUserID))
}

// Transition rewrites the state under WATCH so two requests holding the same
// code cannot both move it. The key keeps its TTL.
func (s *PendingStore) Transition(ctx context.Context, provider, providerUserID, codeHash string, from, to models.PendingState) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := pendingKey(provider, providerUserID)
	applied := false
	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var p models.OAuthPendingVerification
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode pending verification: %w", err)
		}
		if p.State != from || p.CodeHash != codeHash {
			return nil
		}
		p.State = to
		next, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("encode pending verification: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetArgs(ctx, key, next, goredis.SetArgs{KeepTTL: true})
			return nil
		}); err != nil {
			return err
		}
		applied = true
		return nil
	}

	err := s.client.Client.Watch(ctx, txf, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transition pending verification: %w", err)
	}
	return applied, nil
}
