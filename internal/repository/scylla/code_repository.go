package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"travel-auth/internal/models"
	"travel-auth/internal/repository"
)

// spent codes are kept this long after expiry for audit
const codeRetention = time.Hour

const (
	upsertCode = `INSERT INTO one_time_codes (phone_number, purpose, code_hash, code_salt, hash_algorithm,
		pepper_version, attempts, max_attempts, verified, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`
	selectCode = `SELECT phone_number, purpose, code_hash, code_salt, hash_algorithm, pepper_version,
		attempts, max_attempts, verified, expires_at, created_at
		FROM one_time_codes WHERE phone_number = ? AND purpose = ?`
	bumpAttempts = `UPDATE one_time_codes USING TTL ? SET attempts = ?
		WHERE phone_number = ? AND purpose = ? IF code_hash = ? AND attempts = ? AND verified = false`
	markVerified = `UPDATE one_time_codes USING TTL ? SET verified = true
		WHERE phone_number = ? AND purpose = ? IF code_hash = ? AND attempts = ? AND verified = false`
)

// CodeRepository keeps one row per (phone, purpose); issuing a new code
// overwrites the previous one in a single write.
type CodeRepository struct {
	client *ScyllaClient
}

func NewCodeRepository(c *ScyllaClient) *CodeRepository {
	return &CodeRepository{client: c}
}

func (r *CodeRepository) Replace(ctx context.Context, c *models.OneTimeCode) error {
	err := r.client.query(ctx, upsertCode, c.PhoneNumber, string(c.Purpose), c.CodeHash, c.CodeSalt,
		c.HashAlgorithm, c.PepperVersion, c.Attempts, c.MaxAttempts, c.Verified, c.ExpiresAt, c.CreatedAt,
		rowTTL(c.ExpiresAt, codeRetention)).Exec()
	if err != nil {
		return fmt.Errorf("upsert code: %w", err)
	}
	return nil
}

func (r *CodeRepository) Get(ctx context.Context, phone string, purpose models.CodePurpose) (*models.OneTimeCode, error) {
	c := &models.OneTimeCode{}
	var p string
	err := r.client.query(ctx, selectCode, phone, string(purpose)).Scan(
		&c.PhoneNumber, &p, &c.CodeHash, &c.CodeSalt, &c.HashAlgorithm, &c.PepperVersion,
		&c.Attempts, &c.MaxAttempts, &c.Verified, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select code: %w", err)
	}
	c.Purpose = models.CodePurpose(p)
	return c, nil
}

func (r *CodeRepository) IncrementAttempts(ctx context.Context, c *models.OneTimeCode) error {
	return r.conditional(ctx, bumpAttempts, rowTTL(c.ExpiresAt, codeRetention), c.Attempts+1,
		c.PhoneNumber, string(c.Purpose), c.CodeHash, c.Attempts)
}

func (r *CodeRepository) MarkVerified(ctx context.Context, c *models.OneTimeCode) error {
	return r.conditional(ctx, markVerified, rowTTL(c.ExpiresAt, codeRetention),
		c.PhoneNumber, string(c.Purpose), c.CodeHash, c.Attempts)
}

func (r *CodeRepository) conditional(ctx context.Context, stmt string, values ...interface{}) error {
	applied, err := r.client.cas(ctx, stmt, values...)
	if err != nil {
		return fmt.Errorf("update code: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}
	return nil
}
