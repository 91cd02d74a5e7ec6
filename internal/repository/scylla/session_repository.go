package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"travel-auth/internal/models"
	"travel-auth/internal/repository"
)

const (
	insertSession = `INSERT INTO sessions (token_hash, user_id, ip_address, user_agent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS USING TTL ?`
	selectSession = `SELECT token_hash, user_id, ip_address, user_agent, created_at, expires_at
		FROM sessions WHERE token_hash = ?`
	deleteSession = `DELETE FROM sessions WHERE token_hash = ?`
)

// SessionRepository rows expire with the session through the row TTL.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(c *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: c}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	applied, err := r.client.cas(ctx, insertSession, s.TokenHash, s.UserID, s.IPAddress, s.UserAgent,
		s.CreatedAt, s.ExpiresAt, rowTTL(s.ExpiresAt, 0))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	s := &models.Session{}
	err := r.client.query(ctx, selectSession, tokenHash).Scan(
		&s.TokenHash, &s.UserID, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	if err := r.client.exec(ctx, deleteSession, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
