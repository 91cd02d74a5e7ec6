package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"travel-auth/internal/bucketing"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"
	"travel-auth/internal/util"
)

const (
	insertUser = `INSERT INTO users (user_bucket, user_id, phone_number, email, full_name, is_verified,
		created_at, updated_at, last_login_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectUser = `SELECT user_bucket, user_id, phone_number, email, full_name, is_verified,
		created_at, updated_at, last_login_at FROM users WHERE user_bucket = ? AND user_id = ?`
	claimPhone   = `INSERT INTO users_by_phone (phone_number, user_id) VALUES (?, ?) IF NOT EXISTS`
	releasePhone = `DELETE FROM users_by_phone WHERE phone_number = ? IF user_id = ?`
	lookupPhone  = `SELECT user_id FROM users_by_phone WHERE phone_number = ?`
	claimEmail   = `INSERT INTO users_by_email (email, user_id) VALUES (?, ?) IF NOT EXISTS`
	releaseEmail = `DELETE FROM users_by_email WHERE email = ? IF user_id = ?`
	lookupEmail  = `SELECT user_id FROM users_by_email WHERE email = ?`
)

// UserRepository stores users partitioned by a murmur3 bucket of their id.
// Phone and email uniqueness is enforced by lightweight transactions on the
// lookup tables.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewUserRepository(c *ScyllaClient, buckets *bucketing.Manager) *UserRepository {
	return &UserRepository{client: c, buckets: buckets}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	u.UserBucket = r.buckets.UserBucket(u.UserID)
	email := strings.ToLower(u.Email)

	if u.PhoneNumber != "" {
		if err := r.claim(ctx, claimPhone, u.PhoneNumber, u.UserID); err != nil {
			return err
		}
	}
	if email != "" {
		if err := r.claim(ctx, claimEmail, email, u.UserID); err != nil {
			if u.PhoneNumber != "" {
				r.release(ctx, releasePhone, u.PhoneNumber, u.UserID)
			}
			return err
		}
	}

	if err := r.client.exec(ctx, insertUser, u.UserBucket, u.UserID, u.PhoneNumber, u.Email, u.FullName,
		u.IsVerified, u.CreatedAt, u.UpdatedAt, u.LastLoginAt); err != nil {
		util.Error("Failed to create user", util.String("user_id", u.UserID), util.ErrorField(err))
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) claim(ctx context.Context, stmt, key, userID string) error {
	applied, err := r.client.cas(ctx, stmt, key, userID)
	if err != nil {
		return fmt.Errorf("claim unique key: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}
	return nil
}

func (r *UserRepository) release(ctx context.Context, stmt, key, userID string) {
	if _, err := r.client.cas(ctx, stmt, key, userID); err != nil {
		util.Warn("Failed to release unique key", util.String("user_id", userID), util.ErrorField(err))
	}
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	u := &models.User{}
	err := r.client.query(ctx, selectUser, r.buckets.UserBucket(userID), userID).Scan(
		&u.UserBucket, &u.UserID, &u.PhoneNumber, &u.Email, &u.FullName, &u.IsVerified,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) byIndex(ctx context.Context, stmt, key string) (*models.User, error) {
	var userID string
	err := r.client.query(ctx, stmt, key).Scan(&userID)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.byIndex(ctx, lookupPhone, phone)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.byIndex(ctx, lookupEmail, strings.ToLower(email))
}

// Update rewrites the user row, moving the phone and email claims when they
// change. Both new keys are held before either old key is released.
func (r *UserRepository) Update(ctx context.Context, u *models.User) error {
	old, err := r.GetByID(ctx, u.UserID)
	if err != nil {
		return err
	}

	moves := changedKeys(old, u)
	if err := claimAll(ctx, r, u.UserID, moves); err != nil {
		return err
	}

	u.UserBucket = old.UserBucket
	if err := r.client.exec(ctx, insertUser, u.UserBucket, u.UserID, u.PhoneNumber, u.Email, u.FullName,
		u.IsVerified, u.CreatedAt, u.UpdatedAt, u.LastLoginAt); err != nil {
		releaseClaimed(ctx, r, u.UserID, moves)
		return fmt.Errorf("update user: %w", err)
	}
	releaseOld(ctx, r, u.UserID, moves)
	return nil
}

type claimer interface {
	claim(ctx context.Context, stmt, key, userID string) error
	release(ctx context.Context, stmt, key, userID string)
}

// keyMove is one lookup-table key changing from one value to another.
// Either side may be empty.
type keyMove struct {
	claim, release string
	from, to       string
}

func changedKeys(old, u *models.User) []keyMove {
	var moves []keyMove
	if u.PhoneNumber != old.PhoneNumber {
		moves = append(moves, keyMove{claimPhone, releasePhone, old.PhoneNumber, u.PhoneNumber})
	}
	if from, to := strings.ToLower(old.Email), strings.ToLower(u.Email); from != to {
		moves = append(moves, keyMove{claimEmail, releaseEmail, from, to})
	}
	return moves
}

// claimAll claims every new key or none of them.
func claimAll(ctx context.Context, c claimer, userID string, moves []keyMove) error {
	for i, m := range moves {
		if m.to == "" {
			continue
		}
		if err := c.claim(ctx, m.claim, m.to, userID); err != nil {
			releaseClaimed(ctx, c, userID, moves[:i])
			return err
		}
	}
	return nil
}

func releaseClaimed(ctx context.Context, c claimer, userID string, moves []keyMove) {
	for _, m := range moves {
		if m.to != "" {
			c.release(ctx, m.release, m.to, userID)
		}
	}
}

func releaseOld(ctx context.Context, c claimer, userID string, moves []keyMove) {
	for _, m := range moves {
		if m.from != "" {
			c.release(ctx, m.release, m.from, userID)
		}
	}
}
