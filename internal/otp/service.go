package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"travel-auth/internal/config"
	"travel-auth/internal/hashing"
	"travel-auth/internal/models"
	"travel-auth/internal/repository"
	"travel-auth/internal/util"
)

var (
	ErrNotFound         = errors.New("otp not found or expired")
	ErrExpired          = errors.New("otp has expired")
	ErrAttemptsExceeded = errors.New("maximum otp attempts exceeded")
	ErrInvalidCode      = errors.New("invalid otp code")
	ErrTooManyRequests  = errors.New("too many otp requests")
	ErrStorage          = errors.New("otp storage failure")
)

// conditional writes are retried this many times when another request
// changes the same row in between
const maxCASRetries = 3

type Issued struct {
	Code      string
	ExpiresAt time.Time
}

// Service issues and verifies phone codes. Phone numbers must already be
// normalised by the caller.
type Service struct {
	codes       repository.CodeRepository
	hasher      *hashing.Hasher
	limiter     repository.SendLimiter
	length      int
	ttl         time.Duration
	maxAttempts int
	maxSends    int
	now         func() time.Time
}

func NewService(cfg *config.Config, codes repository.CodeRepository, hasher *hashing.Hasher, limiter repository.SendLimiter) *Service {
	return &Service{
		codes:       codes,
		hasher:      hasher,
		limiter:     limiter,
		length:      cfg.OTP.Length,
		ttl:         cfg.OTP.TTL,
		maxAttempts: cfg.OTP.MaxAttempts,
		maxSends:    cfg.OTP.MaxSendsPerHour,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL() time.Duration { return s.ttl }

// NewCode generates and hashes a code for purpose without storing it.
func (s *Service) NewCode(purpose models.CodePurpose) (string, *hashing.HashResult, error) {
	code, err := GenerateCode(s.length)
	if err != nil {
		return "", nil, err
	}
	h, err := s.hasher.HashOTP(code, string(purpose))
	if err != nil {
		return "", nil, err
	}
	return code, h, nil
}

// Matches checks code against a stored digest.
func (s *Service) Matches(code string, purpose models.CodePurpose, h *hashing.HashResult) (bool, error) {
	return s.hasher.VerifyOTP(code, string(purpose), h)
}

// Throttle counts a send to phone against the hourly limit for purpose.
func (s *Service) Throttle(ctx context.Context, phone string, purpose models.CodePurpose) error {
	if s.limiter == nil || s.maxSends <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "otp_send:"+string(purpose)+":"+phone, s.maxSends, time.Hour)
	if err != nil {
		// a broken counter must not lock users out
		util.Warn("OTP send limiter unavailable", util.Phone(phone), util.ErrorField(err))
		return nil
	}
	if !ok {
		return ErrTooManyRequests
	}
	return nil
}

// Issue replaces any active code for phone with a fresh one.
func (s *Service) Issue(ctx context.Context, phone string, purpose models.CodePurpose) (*Issued, error) {
	if err := s.Throttle(ctx, phone, purpose); err != nil {
		return nil, err
	}

	code, h, err := s.NewCode(purpose)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	row := &models.OneTimeCode{
		PhoneNumber:   phone,
		Purpose:       purpose,
		CodeHash:      h.Hash,
		CodeSalt:      h.Salt,
		HashAlgorithm: h.Algorithm,
		PepperVersion: h.PepperVersion,
		MaxAttempts:   s.maxAttempts,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
	}
	if err := s.codes.Replace(ctx, row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &Issued{Code: code, ExpiresAt: row.ExpiresAt}, nil
}

// Verify consumes the active code for phone. A code verifies at most once.
func (s *Service) Verify(ctx context.Context, phone, code string, purpose models.CodePurpose) error {
	for i := 0; i < maxCASRetries; i++ {
		err := s.verifyOnce(ctx, phone, code, purpose)
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: concurrent updates", ErrStorage)
}

func (s *Service) verifyOnce(ctx context.Context, phone, code string, purpose models.CodePurpose) error {
	row, err := s.codes.Get(ctx, phone, purpose)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if row.Verified {
		return ErrNotFound
	}
	if row.Expired(s.now()) {
		return ErrExpired
	}
	if row.Exhausted() {
		return ErrAttemptsExceeded
	}

	ok, err := s.Matches(code, purpose, &hashing.HashResult{
		Hash:          row.CodeHash,
		Salt:          row.CodeSalt,
		PepperVersion: row.PepperVersion,
		Algorithm:     row.HashAlgorithm,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if !ok {
		if err := s.codes.IncrementAttempts(ctx, row); err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
				return repository.ErrConflict
			}
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return ErrInvalidCode
	}

	if err := s.codes.MarkVerified(ctx, row); err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			return repository.ErrConflict
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
