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
	upsertLink = `INSERT INTO oauth_links (user_id, provider, provider_user_id, provider_email, provider_name,
		access_token, refresh_token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	upsertLinkIdentity = `INSERT INTO oauth_links_by_identity (provider, provider_user_id, user_id) VALUES (?, ?, ?)`
	selectLinkColumns  = `SELECT user_id, provider, provider_user_id, provider_email, provider_name,
		access_token, refresh_token, created_at, updated_at FROM oauth_links`
	selectLink         = selectLinkColumns + ` WHERE user_id = ? AND provider = ?`
	selectUserLinks    = selectLinkColumns + ` WHERE user_id = ?`
	lookupLinkIdentity = `SELECT user_id FROM oauth_links_by_identity WHERE provider = ? AND provider_user_id = ?`
	deleteLink         = `DELETE FROM oauth_links WHERE user_id = ? AND provider = ?`
	deleteLinkIdentity = `DELETE FROM oauth_links_by_identity WHERE provider = ? AND provider_user_id = ?`
)

type LinkRepository struct {
	client *ScyllaClient
}

func NewLinkRepository(c *ScyllaClient) *LinkRepository {
	return &LinkRepository{client: c}
}

// Upsert writes the link and its identity index in one logged batch. An
// existing link keeps its original creation time.
func (r *LinkRepository) Upsert(ctx context.Context, l *models.OAuthLink) error {
	if prev, err := r.get(ctx, l.UserID, l.Provider); err == nil {
		l.CreatedAt = prev.CreatedAt
	}

	b := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(upsertLink, l.UserID, l.Provider, l.ProviderUserID, l.ProviderEmail, l.ProviderName,
		l.AccessToken, l.RefreshToken, l.CreatedAt, l.UpdatedAt)
	b.Query(upsertLinkIdentity, l.Provider, l.ProviderUserID, l.UserID)
	if err := r.client.Session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("upsert oauth link: %w", err)
	}
	return nil
}

func scanLink(scan func(dest ...interface{}) error) (*models.OAuthLink, error) {
	l := &models.OAuthLink{}
	err := scan(&l.UserID, &l.Provider, &l.ProviderUserID, &l.ProviderEmail, &l.ProviderName,
		&l.AccessToken, &l.RefreshToken, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (r *LinkRepository) get(ctx context.Context, userID, provider string) (*models.OAuthLink, error) {
	l, err := scanLink(r.client.query(ctx, selectLink, userID, provider).Scan)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select oauth link: %w", err)
	}
	return l, nil
}

func (r *LinkRepository) GetByIdentity(ctx context.Context, provider, providerUserID string) (*models.OAuthLink, error) {
	var userID string
	err := r.client.query(ctx, lookupLinkIdentity, provider, providerUserID).Scan(&userID)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup oauth identity: %w", err)
	}
	l, err := r.get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	// the index can briefly point at a link that was re-bound elsewhere
	if l.ProviderUserID != providerUserID {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (r *LinkRepository) ListByUser(ctx context.Context, userID string) ([]*models.OAuthLink, error) {
	iter := r.client.query(ctx, selectUserLinks, userID).Iter()
	scanner := iter.Scanner()
	var out []*models.OAuthLink
	for scanner.Next() {
		l, err := scanLink(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("scan oauth link: %w", err)
		}
		out = append(out, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("list oauth links: %w", err)
	}
	return out, nil
}

func (r *LinkRepository) Delete(ctx context.Context, userID, provider string) (bool, error) {
	l, err := r.get(ctx, userID, provider)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	b := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(deleteLink, userID, provider)
	b.Query(deleteLinkIdentity, provider, l.ProviderUserID)
	if err := r.client.Session.ExecuteBatch(b); err != nil {
		return false, fmt.Errorf("delete oauth link: %w", err)
	}
	return true, nil
}
