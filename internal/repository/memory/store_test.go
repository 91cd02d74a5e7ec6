package memory

import (
	"context"
	"testing"
	"time"

	"travel-auth/internal/models"
	"travel-auth/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersUniqueKeys(t *testing.T) {
	ctx := context.Background()
	r := NewUsers()

	require.NoError(t, r.Create(ctx, &models.User{UserID: "u1", PhoneNumber: "+919876543210", Email: "Asha@Example.com"}))
	assert.ErrorIs(t, r.Create(ctx, &models.User{UserID: "u2", PhoneNumber: "+919876543210"}), repository.ErrConflict)
	assert.ErrorIs(t, r.Create(ctx, &models.User{UserID: "u3", Email: "asha@example.com"}), repository.ErrConflict)

	u, err := r.GetByEmail(ctx, "ASHA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UserID)

	u.PhoneNumber = "+919000000000"
	require.NoError(t, r.Update(ctx, u))
	_, err = r.GetByPhone(ctx, "+919876543210")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	got, err := r.GetByPhone(ctx, "+919000000000")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestCodesConditionalWrites(t *testing.T) {
	ctx := context.Background()
	r := NewCodes()
	code := &models.OneTimeCode{PhoneNumber: "+919876543210", Purpose: models.PurposeLogin, CodeHash: "h1", MaxAttempts: 5}
	require.NoError(t, r.Replace(ctx, code))

	stale := *code
	require.NoError(t, r.IncrementAttempts(ctx, code))
	assert.ErrorIs(t, r.IncrementAttempts(ctx, &stale), repository.ErrConflict, "attempts moved on")

	cur, err := r.Get(ctx, code.PhoneNumber, code.Purpose)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Attempts)

	require.NoError(t, r.MarkVerified(ctx, cur))
	assert.ErrorIs(t, r.MarkVerified(ctx, cur), repository.ErrConflict, "verified is terminal")

	replaced := &models.OneTimeCode{PhoneNumber: code.PhoneNumber, Purpose: code.Purpose, CodeHash: "h2", MaxAttempts: 5}
	require.NoError(t, r.Replace(ctx, replaced))
	assert.ErrorIs(t, r.IncrementAttempts(ctx, cur), repository.ErrConflict, "old code was replaced")
	assert.Equal(t, 2, r.Writes)
}

func TestPendingExpiresAfterGrace(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewPending(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, &models.OAuthPendingVerification{Provider: "github", ProviderUserID: "42", ExpiresAt: now.Add(10 * time.Minute)}))
	_, err := s.Get(ctx, "github", "42")
	require.NoError(t, err)

	now = now.Add(10*time.Minute + s.Grace + time.Second)
	_, err = s.Get(ctx, "github", "42")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPendingTransition(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewPending(func() time.Time { return now })
	require.NoError(t, s.Put(ctx, &models.OAuthPendingVerification{
		Provider: "github", ProviderUserID: "42", CodeHash: "h1",
		State: models.PendingIssued, ExpiresAt: now.Add(10 * time.Minute),
	}))

	tt := []struct {
		name string
		hash string
		from models.PendingState
		to   models.PendingState
		want bool
	}{
		{name: "stale hash", hash: "h0", from: models.PendingIssued, to: models.PendingVerified},
		{name: "issued to verified", hash: "h1", from: models.PendingIssued, to: models.PendingVerified, want: true},
		{name: "already verified", hash: "h1", from: models.PendingIssued, to: models.PendingVerified},
		{name: "reopen", hash: "h1", from: models.PendingVerified, to: models.PendingIssued, want: true},
	}
	for _, tc := range tt {
		ok, err := s.Transition(ctx, "github", "42", tc.hash, tc.from, tc.to)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, ok, tc.name)
	}

	ok, err := s.Transition(ctx, "github", "missing", "h1", models.PendingIssued, models.PendingVerified)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	r := NewLinks()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Upsert(ctx, &models.OAuthLink{UserID: "u1", Provider: "google", ProviderUserID: "g1", CreatedAt: first}))
	require.NoError(t, r.Upsert(ctx, &models.OAuthLink{UserID: "u1", Provider: "google", ProviderUserID: "g1", ProviderName: "Asha", CreatedAt: first.Add(time.Hour)}))
	require.NoError(t, r.Upsert(ctx, &models.OAuthLink{UserID: "u1", Provider: "github", ProviderUserID: "7"}))

	list, err := r.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "github", list[0].Provider)
	assert.Equal(t, "Asha", list[1].ProviderName)
	assert.Equal(t, first, list[1].CreatedAt, "re-link keeps the original link time")

	l, err := r.GetByIdentity(ctx, "github", "7")
	require.NoError(t, err)
	assert.Equal(t, "u1", l.UserID)

	existed, err := r.Delete(ctx, "u1", "github")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = r.Delete(ctx, "u1", "github")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewLimiter(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k", 3, time.Hour)
	assert.False(t, ok)

	now = now.Add(time.Hour)
	ok, _ = l.Allow(ctx, "k", 3, time.Hour)
	assert.True(t, ok)
}
