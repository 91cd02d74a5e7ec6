// Package memory provides map-backed repositories for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"travel-auth/internal/models"
	"travel-auth/internal/repository"
)

// Clock lets tests move time for TTL-bound stores.
type Clock func() time.Time

type Users struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byPhone map[string]string
	byEmail map[string]string
}

func NewUsers() *Users {
	return &Users{
		byID:    map[string]*models.User{},
		byPhone: map[string]string{},
		byEmail: map[string]string{},
	}
}

func (r *Users) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.UserID]; ok {
		return repository.ErrConflict
	}
	if u.PhoneNumber != "" {
		if _, ok := r.byPhone[u.PhoneNumber]; ok {
			return repository.ErrConflict
		}
	}
	email := strings.ToLower(u.Email)
	if email != "" {
		if _, ok := r.byEmail[email]; ok {
			return repository.ErrConflict
		}
	}
	r.put(u)
	return nil
}

func (r *Users) put(u *models.User) {
	c := *u
	r.byID[u.UserID] = &c
	if u.PhoneNumber != "" {
		r.byPhone[u.PhoneNumber] = u.UserID
	}
	if u.Email != "" {
		r.byEmail[strings.ToLower(u.Email)] = u.UserID
	}
}

func (r *Users) get(id string) (*models.User, error) {
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *Users) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id)
}

func (r *Users) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.get(id)
}

func (r *Users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.get(id)
}

func (r *Users) Update(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[u.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	if u.PhoneNumber != old.PhoneNumber && u.PhoneNumber != "" {
		if owner, taken := r.byPhone[u.PhoneNumber]; taken && owner != u.UserID {
			return repository.ErrConflict
		}
		delete(r.byPhone, old.PhoneNumber)
	}
	newEmail, oldEmail := strings.ToLower(u.Email), strings.ToLower(old.Email)
	if newEmail != oldEmail {
		if owner, taken := r.byEmail[newEmail]; taken && newEmail != "" && owner != u.UserID {
			return repository.ErrConflict
		}
		delete(r.byEmail, oldEmail)
	}
	r.put(u)
	return nil
}

type codeKey struct {
	phone   string
	purpose models.CodePurpose
}

type Codes struct {
	mu    sync.Mutex
	codes map[codeKey]*models.OneTimeCode
	// Writes counts Replace calls, for asserting that rejected requests never reach storage.
	Writes int
}

func NewCodes() *Codes {
	return &Codes{codes: map[codeKey]*models.OneTimeCode{}}
}

func (r *Codes) Replace(_ context.Context, c *models.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.codes[codeKey{c.PhoneNumber, c.Purpose}] = &cp
	r.Writes++
	return nil
}

func (r *Codes) Get(_ context.Context, phone string, purpose models.CodePurpose) (*models.OneTimeCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeKey{phone, purpose}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Codes) current(c *models.OneTimeCode) (*models.OneTimeCode, error) {
	stored, ok := r.codes[codeKey{c.PhoneNumber, c.Purpose}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if stored.CodeHash != c.CodeHash {
		return nil, repository.ErrConflict
	}
	return stored, nil
}

func (r *Codes) IncrementAttempts(_ context.Context, c *models.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.current(c)
	if err != nil {
		return err
	}
	if stored.Attempts != c.Attempts || stored.Verified {
		return repository.ErrConflict
	}
	stored.Attempts++
	return nil
}

func (r *Codes) MarkVerified(_ context.Context, c *models.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.current(c)
	if err != nil {
		return err
	}
	if stored.Verified || stored.Attempts != c.Attempts {
		return repository.ErrConflict
	}
	stored.Verified = true
	return nil
}

type Pending struct {
	mu      sync.Mutex
	entries map[string]*models.OAuthPendingVerification
	now     Clock
	// Grace keeps entries past ExpiresAt, like the Redis key TTL slack.
	Grace time.Duration
}

func NewPending(now Clock) *Pending {
	if now == nil {
		now = time.Now
	}
	return &Pending{entries: map[string]*models.OAuthPendingVerification{}, now: now, Grace: time.Minute}
}

func pendingKey(provider, id string) string { return provider + ":" + id }

func (s *Pending) Put(_ context.Context, p *models.OAuthPendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.entries[pendingKey(p.Provider, p.ProviderUserID)] = &cp
	return nil
}

func (s *Pending) Get(_ context.Context, provider, id string) (*models.OAuthPendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pendingKey(provider, id)
	p, ok := s.entries[k]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.now().After(p.ExpiresAt.Add(s.Grace)) {
		delete(s.entries, k)
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Pending) Transition(_ context.Context, provider, id, codeHash string, from, to models.PendingState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[pendingKey(provider, id)]
	if !ok || s.now().After(p.ExpiresAt.Add(s.Grace)) {
		return false, nil
	}
	if p.State != from || p.CodeHash != codeHash {
		return false, nil
	}
	p.State = to
	return true, nil
}

func (s *Pending) Delete(_ context.Context, provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pendingKey(provider, id))
	return nil
}

type Links struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*models.OAuthLink
}

func NewLinks() *Links {
	return &Links{byUser: map[string]map[string]*models.OAuthLink{}}
}

func (r *Links) Upsert(_ context.Context, l *models.OAuthLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byUser[l.UserID]
	if !ok {
		m = map[string]*models.OAuthLink{}
		r.byUser[l.UserID] = m
	}
	cp := *l
	if prev, ok := m[l.Provider]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	m[l.Provider] = &cp
	return nil
}

func (r *Links) GetByIdentity(_ context.Context, provider, providerUserID string) (*models.OAuthLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.byUser {
		if l, ok := m[provider]; ok && l.ProviderUserID == providerUserID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Links) ListByUser(_ context.Context, userID string) ([]*models.OAuthLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.OAuthLink, 0, len(r.byUser[userID]))
	for _, l := range r.byUser[userID] {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r *Links) Delete(_ context.Context, userID, provider string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byUser[userID]
	if _, ok := m[provider]; !ok {
		return false, nil
	}
	delete(m, provider)
	return true, nil
}

type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: map[string]*models.Session{}}
}

func (r *Sessions) Create(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.TokenHash]; ok {
		return repository.ErrConflict
	}
	cp := *s
	r.sessions[s.TokenHash] = &cp
	return nil
}

func (r *Sessions) Get(_ context.Context, tokenHash string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *Sessions) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tokenHash)
	return nil
}

// Count is used by tests.
func (r *Sessions) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     Clock
}

func NewLimiter(now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{windows: map[string]*window{}, now: now}
}

func (l *Limiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= d {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}
