// Package linking holds the state between an OAuth callback and the phone
// verification that completes the account link.
package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"travel-auth/internal/config"
	"travel-auth/internal/encryption"
	"travel-auth/internal/hashing"
	"travel-auth/internal/models"
	"travel-auth/internal/oauth"
	"travel-auth/internal/otp"
	"travel-auth/internal/repository"
)

const sealPurpose = "oauth_pending_cookie"

var (
	ErrSessionExpired   = errors.New("oauth session expired")
	ErrProviderMismatch = errors.New("provider mismatch")
	ErrPhoneMismatch    = errors.New("phone number does not match the verification request")
	ErrStorage          = errors.New("pending verification storage failure")
)

// Payload is the client-held half of a pending link, sealed into a cookie.
type Payload struct {
	oauth.Identity
	IssuedAt time.Time `json:"issued_at"`
}

type Binder struct {
	pending    repository.PendingStore
	codes      *otp.Service
	sealer     *encryption.Manager
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewBinder(cfg *config.Config, pending repository.PendingStore, codes *otp.Service, sealer *encryption.Manager) *Binder {
	return &Binder{
		pending:    pending,
		codes:      codes,
		sealer:     sealer,
		ttl:        cfg.Session.PendingTTL,
		cookieName: cfg.Session.PendingCookie,
		secure:     cfg.IsProduction(),
		now:        time.Now,
	}
}

func (b *Binder) WithClock(now func() time.Time) *Binder {
	b.now = now
	return b
}

// Begin records a fresh pending verification for id, overwriting any earlier
// attempt, and returns the sealed cookie value together with the first code.
func (b *Binder) Begin(ctx context.Context, id *oauth.Identity) (code, cookie string, err error) {
	now := b.now().UTC()
	code, h, err := b.codes.NewCode(models.PurposeOAuthLink)
	if err != nil {
		return "", "", err
	}

	p := &models.OAuthPendingVerification{
		Provider:       id.Provider,
		ProviderUserID: id.ProviderUserID,
		ProviderEmail:  id.Email,
		ProviderName:   id.Name,
		State:          models.PendingIssued,
		ExpiresAt:      now.Add(b.ttl),
		CreatedAt:      now,
	}
	setHash(p, h)
	if err := b.pending.Put(ctx, p); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	raw, err := json.Marshal(Payload{Identity: *id, IssuedAt: now})
	if err != nil {
		return "", "", err
	}
	cookie, err = b.sealer.SealString(ctx, string(raw), sealPurpose)
	if err != nil {
		return "", "", err
	}
	return code, cookie, nil
}

// Load opens the pending cookie and checks it belongs to provider.
func (b *Binder) Load(ctx context.Context, r *http.Request, provider string) (*Payload, error) {
	c, err := r.Cookie(b.cookieName)
	if err != nil || c.Value == "" {
		return nil, ErrSessionExpired
	}
	raw, err := b.sealer.OpenString(ctx, c.Value, sealPurpose)
	if err != nil {
		return nil, ErrSessionExpired
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, ErrSessionExpired
	}
	if b.now().After(p.IssuedAt.Add(b.ttl)) {
		return nil, ErrSessionExpired
	}
	if p.Provider != provider {
		return nil, ErrProviderMismatch
	}
	return &p, nil
}

// SendCode binds phone to the pending verification and rotates its code.
func (b *Binder) SendCode(ctx context.Context, p *Payload, phone string) (string, error) {
	now := b.now().UTC()
	pending, err := b.pending.Get(ctx, p.Provider, p.ProviderUserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// the cookie outlived the stored entry; rebuild it from the payload
		pending = &models.OAuthPendingVerification{
			Provider:       p.Provider,
			ProviderUserID: p.ProviderUserID,
			ProviderEmail:  p.Email,
			ProviderName:   p.Name,
			CreatedAt:      now,
		}
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	code, h, err := b.codes.NewCode(models.PurposeOAuthLink)
	if err != nil {
		return "", err
	}
	setHash(pending, h)
	pending.PhoneNumber = phone
	pending.State = models.PendingIssued
	pending.ExpiresAt = now.Add(b.ttl)

	if err := b.pending.Put(ctx, pending); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return code, nil
}

// Verify checks code against the pending verification and marks it verified.
func (b *Binder) Verify(ctx context.Context, p *Payload, phone, code string) (*models.OAuthPendingVerification, error) {
	pending, err := b.pending.Get(ctx, p.Provider, p.ProviderUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, otp.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	switch pending.StateAt(b.now()) {
	case models.PendingExpired:
		return nil, otp.ErrExpired
	case models.PendingVerified:
		return nil, otp.ErrNotFound
	}
	if pending.PhoneNumber == "" || pending.PhoneNumber != phone {
		return nil, ErrPhoneMismatch
	}

	ok, err := b.codes.Matches(code, models.PurposeOAuthLink, &hashing.HashResult{
		Hash:          pending.CodeHash,
		Salt:          pending.CodeSalt,
		PepperVersion: pending.PepperVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return nil, otp.ErrInvalidCode
	}

	// only one request holding the code wins the move out of issued
	moved, err := b.pending.Transition(ctx, p.Provider, p.ProviderUserID, pending.CodeHash, models.PendingIssued, models.PendingVerified)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !moved {
		return nil, otp.ErrNotFound
	}
	pending.State = models.PendingVerified
	return pending, nil
}

// Reopen returns a verified entry to issued so the same code can be retried
// after the link itself failed.
func (b *Binder) Reopen(ctx context.Context, pending *models.OAuthPendingVerification) error {
	_, err := b.pending.Transition(ctx, pending.Provider, pending.ProviderUserID, pending.CodeHash, models.PendingVerified, models.PendingIssued)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Finish drops the pending verification once the link exists.
func (b *Binder) Finish(ctx context.Context, p *Payload) error {
	if err := b.pending.Delete(ctx, p.Provider, p.ProviderUserID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (b *Binder) SetCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(b.ttl / time.Second),
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (b *Binder) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     b.cookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func setHash(p *models.OAuthPendingVerification, h *hashing.HashResult) {
	p.CodeHash = h.Hash
	p.CodeSalt = h.Salt
	p.PepperVersion = h.PepperVersion
}
