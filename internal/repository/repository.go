// Package repository declares the storage contracts shared by the Scylla,
// Redis and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"travel-auth/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write loses a race or a
	// unique key is already taken.
	ErrConflict = errors.New("conflicting write")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

// CodeRepository holds at most one code per (phone, purpose). Conditional
// operations identify the row by its hash so a replaced code is never touched.
type CodeRepository interface {
	Replace(ctx context.Context, code *models.OneTimeCode) error
	Get(ctx context.Context, phone string, purpose models.CodePurpose) (*models.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, code *models.OneTimeCode) error
	MarkVerified(ctx context.Context, code *models.OneTimeCode) error
}

type PendingStore interface {
	Put(ctx context.Context, p *models.OAuthPendingVerification) error
	Get(ctx context.Context, provider, providerUserID string) (*models.OAuthPendingVerification, error)
	Delete(ctx context.Context, provider, providerUserID string) error
	// Transition moves the entry from state from to state to only while it
	// still holds codeHash. It reports false when the entry changed first.
	Transition(ctx context.Context, provider, providerUserID, codeHash string, from, to models.PendingState) (bool, error)
}

type LinkRepository interface {
	Upsert(ctx context.Context, link *models.OAuthLink) error
	GetByIdentity(ctx context.Context, provider, providerUserID string) (*models.OAuthLink, error)
	ListByUser(ctx context.Context, userID string) ([]*models.OAuthLink, error)
	// Delete reports whether a link existed.
	Delete(ctx context.Context, userID, provider string) (bool, error)
}

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Delete(ctx context.Context, tokenHash string) error
}

type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, s *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SendLimiter counts events per key inside a fixed window.
type SendLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
