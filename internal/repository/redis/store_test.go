package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"travel-auth/internal/client"
	"travel-auth/internal/config"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live server: REDIS_TEST_URL=redis://localhost:6379/15
func testClient(t *testing.T) *client.RedisClient {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	c, err := client.NewRedisClient(&config.Config{Redis: config.RedisConfig{URL: url}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPendingStoreRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPendingStore(c)
	id := uuid.NewString()

	p := &models.OAuthPendingVerification{
		Provider: "google", ProviderUserID: id, PhoneNumber: "+919876543210",
		CodeHash: "hash", State: models.PendingIssued, ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.Put(ctx, p))

	got, err := s.Get(ctx, "google", id)
	require.NoError(t, err)
	assert.Equal(t, p.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, models.PendingIssued, got.State)

	ok, err := s.Transition(ctx, "google", id, "other-hash", models.PendingIssued, models.PendingVerified)
	require.NoError(t, err)
	assert.False(t, ok, "hash changed since the read")

	ok, err = s.Transition(ctx, "google", id, p.CodeHash, models.PendingIssued, models.PendingVerified)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Transition(ctx, "google", id, p.CodeHash, models.PendingIssued, models.PendingVerified)
	require.NoError(t, err)
	assert.False(t, ok, "already verified")

	got, err = s.Get(ctx, "google", id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingVerified, got.State)

	require.NoError(t, s.Delete(ctx, "google", id))
	_, err = s.Get(ctx, "google", id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	cache := NewSessionCache(c)
	hash := uuid.NewString()

	_, err := cache.Get(ctx, hash)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, cache.Set(ctx, &models.Session{TokenHash: hash, UserID: "u1"}, time.Minute))
	s, err := cache.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	require.NoError(t, cache.Delete(ctx, hash))
}

func TestRateLimitWindow(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	rl := NewRateLimitCache(c)
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
