package models

import "time"

type CodePurpose string

const (
	PurposeLogin     CodePurpose = "login"
	PurposeOAuthLink CodePurpose = "oauth_link"
)

// OneTimeCode is the single active code for a (phone, purpose) pair.
// The clear code is never stored.
type OneTimeCode struct {
	PhoneNumber   string      `db:"phone_number"`
	Purpose       CodePurpose `db:"purpose"`
	CodeHash      string      `db:"code_hash"`
	CodeSalt      string      `db:"code_salt"`
	HashAlgorithm string      `db:"hash_algorithm"`
	PepperVersion int         `db:"pepper_version"`
	Attempts      int         `db:"attempts"`
	MaxAttempts   int         `db:"max_attempts"`
	Verified      bool        `db:"verified"`
	ExpiresAt     time.Time   `db:"expires_at"`
	CreatedAt     time.Time   `db:"created_at"`
}

func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *OneTimeCode) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}
