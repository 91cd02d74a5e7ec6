package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"travel-auth/internal/config"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"
	"travel-auth/internal/util"
)

const tokenBytes = 32

var (
	ErrNoSession = errors.New("session not found")
	ErrStorage   = errors.New("session storage failure")
)

// Manager issues opaque bearer tokens and resolves them back to sessions.
// Only the SHA-256 of a token is persisted.
type Manager struct {
	repo       repository.SessionRepository
	cache      repository.SessionCache
	ttl        time.Duration
	cacheTTL   time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewManager(cfg *config.Config, repo repository.SessionRepository, cache repository.SessionCache) *Manager {
	return &Manager{
		repo:       repo,
		cache:      cache,
		ttl:        cfg.Session.TTL,
		cacheTTL:   cfg.Session.CacheTTL,
		cookieName: cfg.Session.CookieName,
		secure:     cfg.IsProduction(),
		now:        time.Now,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) CookieName() string { return m.cookieName }

func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a session for userID and returns the bearer token.
func (m *Manager) Issue(ctx context.Context, userID, ip, userAgent string) (string, *models.Session, error) {
	token, err := NewToken()
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	s := &models.Session{
		TokenHash: HashToken(token),
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return token, s, nil
}

// Resolve returns the live session for token, consulting the cache first.
func (m *Manager) Resolve(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	hash := HashToken(token)

	var s *models.Session
	if m.cache != nil {
		cached, err := m.cache.Get(ctx, hash)
		switch {
		case err == nil:
			s = cached
		case !errors.Is(err, repository.ErrNotFound):
			util.Warn("Session cache read failed", util.ErrorField(err))
		}
	}

	if s == nil {
		stored, err := m.repo.Get(ctx, hash)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoSession
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		s = stored
		m.fill(ctx, s)
	}

	if s.Expired(m.now()) {
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Manager) fill(ctx context.Context, s *models.Session) {
	if m.cache == nil {
		return
	}
	ttl := m.cacheTTL
	if left := s.ExpiresAt.Sub(m.now()); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return
	}
	if err := m.cache.Set(ctx, s, ttl); err != nil {
		util.Warn("Session cache write failed", util.ErrorField(err))
	}
}

// Revoke deletes the server-side session. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	hash := HashToken(token)
	if m.cache != nil {
		if err := m.cache.Delete(ctx, hash); err != nil {
			util.Warn("Session cache delete failed", util.ErrorField(err))
		}
	}
	if err := m.repo.Delete(ctx, hash); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
