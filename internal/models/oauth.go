package models

import "time"

type PendingState string

const (
	PendingIssued   PendingState = "issued"
	PendingVerified PendingState = "verified"
	PendingExpired  PendingState = "expired"
)

// OAuthPendingVerification bridges a provider identity to a phone number
// until the second OTP round succeeds.
type OAuthPendingVerification struct {
	Provider       string       `json:"provider"`
	ProviderUserID string       `json:"provider_user_id"`
	ProviderEmail  string       `json:"provider_email,omitempty"`
	ProviderName   string       `json:"provider_name,omitempty"`
	PhoneNumber    string       `json:"phone_number,omitempty"`
	CodeHash       string       `json:"code_hash,omitempty"`
	CodeSalt       string       `json:"code_salt,omitempty"`
	PepperVersion  int          `json:"pepper_version,omitempty"`
	State          PendingState `json:"state"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// StateAt folds expiry into the stored state.
func (p *OAuthPendingVerification) StateAt(now time.Time) PendingState {
	if p.State == PendingIssued && now.After(p.ExpiresAt) {
		return PendingExpired
	}
	return p.State
}

// OAuthLink is the durable association between a user and a provider account.
// Tokens are stored as sealed envelopes.
type OAuthLink struct {
	UserID         string    `db:"user_id" json:"-"`
	Provider       string    `db:"provider" json:"provider"`
	ProviderUserID string    `db:"provider_user_id" json:"providerUserId"`
	ProviderEmail  string    `db:"provider_email" json:"providerEmail,omitempty"`
	ProviderName   string    `db:"provider_name" json:"providerName,omitempty"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"linkedAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}
