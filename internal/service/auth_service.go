package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"travel-auth/internal/encryption"
	"travel-auth/internal/events"
	"travel-auth/internal/linking"
	"travel-auth/internal/models"
	"travel-auth/internal/oauth"
	"travel-auth/internal/otp"
	"travel-auth/internal/phone"
	"travel-auth/internal/repository"
	"travel-auth/internal/session"
	"travel-auth/internal/util"
)

var (
	ErrInvalidPhone  = errors.New("invalid phone number format")
	ErrOTPRequired   = errors.New("phone number and otp are required")
	ErrMissingFields = errors.New("missing required fields")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUserNotFound  = errors.New("user not found")
	ErrContactTaken  = errors.New("phone number or email already belongs to another account")
	ErrStorage       = errors.New("storage failure")
)

const tokenSealPurpose = "oauth_token:"

var validate = validator.New()

// Client describes who is calling, for sessions and audit events.
type Client struct {
	IP        string
	UserAgent string
}

// Login is the outcome of a completed sign-in.
type Login struct {
	User    *models.User
	Token   string
	Session *models.Session
}

// SentCode is returned by the send endpoints. Code is only filled when codes
// may be shown to the caller.
type SentCode struct {
	Phone     string
	Code      string
	ExpiresAt time.Time
}

type AuthService struct {
	users     repository.UserRepository
	links     repository.LinkRepository
	codes     *otp.Service
	binder    *linking.Binder
	sessions  *session.Manager
	providers *oauth.Registry
	sealer    *encryption.Manager
	resolver  *UserResolver
	deliverer Deliverer
	events    *events.Dispatcher
	exposeOTP bool
	now       func() time.Time
}

type Deps struct {
	Users     repository.UserRepository
	Links     repository.LinkRepository
	Codes     *otp.Service
	Binder    *linking.Binder
	Sessions  *session.Manager
	Providers *oauth.Registry
	Sealer    *encryption.Manager
	Deliverer Deliverer
	Events    *events.Dispatcher
	ExposeOTP bool
}

func NewAuthService(d Deps) *AuthService {
	if d.Deliverer == nil {
		d.Deliverer = LogDeliverer{RevealCode: d.ExposeOTP}
	}
	return &AuthService{
		users:     d.Users,
		links:     d.Links,
		codes:     d.Codes,
		binder:    d.Binder,
		sessions:  d.Sessions,
		providers: d.Providers,
		sealer:    d.Sealer,
		resolver:  NewUserResolver(d.Users, d.Links),
		deliverer: d.Deliverer,
		events:    d.Events,
		exposeOTP: d.ExposeOTP,
		now:       time.Now,
	}
}

// WithClock replaces the time source of the service and its resolver.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.resolver.now = now
	return s
}

func (s *AuthService) emit(ctx context.Context, e *models.AuthEvent, c Client) {
	e.IPAddress = c.IP
	e.UserAgent = c.UserAgent
	s.events.Emit(ctx, e)
}

func normalize(raw string) (string, error) {
	p, err := phone.Normalize(raw)
	if err != nil {
		return "", ErrInvalidPhone
	}
	return p, nil
}

func (s *AuthService) deliver(ctx context.Context, p, code string, purpose models.CodePurpose, expires time.Time) (*SentCode, error) {
	if err := s.deliverer.Deliver(ctx, p, code, purpose); err != nil {
		return nil, fmt.Errorf("deliver otp: %w", err)
	}
	sent := &SentCode{Phone: p, ExpiresAt: expires}
	if s.exposeOTP {
		sent.Code = code
	}
	return sent, nil
}

// SendOTP issues a login code for rawPhone.
func (s *AuthService) SendOTP(ctx context.Context, rawPhone string, c Client) (*SentCode, error) {
	p, err := normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	issued, err := s.codes.Issue(ctx, p, models.PurposeLogin)
	if errors.Is(err, otp.ErrTooManyRequests) {
		s.emit(ctx, &models.AuthEvent{Type: models.EventOTPRateLimited, Phone: p}, c)
		return nil, err
	}
	if err != nil {
		util.Error("Failed to issue OTP", util.Phone(p), util.ErrorField(err))
		return nil, err
	}

	s.emit(ctx, &models.AuthEvent{Type: models.EventOTPSent, Phone: p}, c)
	return s.deliver(ctx, p, issued.Code, models.PurposeLogin, issued.ExpiresAt)
}

// VerifyOTP consumes a login code and signs the phone owner in.
func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, code, fullName string, c Client) (*Login, error) {
	if strings.TrimSpace(rawPhone) == "" || strings.TrimSpace(code) == "" {
		return nil, ErrOTPRequired
	}
	p, err := normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	if err := s.codes.Verify(ctx, p, strings.TrimSpace(code), models.PurposeLogin); err != nil {
		s.emit(ctx, &models.AuthEvent{
			Type:    models.EventOTPFailed,
			Phone:   p,
			Details: map[string]string{"reason": err.Error()},
		}, c)
		return nil, err
	}

	u, err := s.resolver.ByPhone(ctx, p, util.SanitizeInput(fullName))
	if err != nil {
		return nil, err
	}
	s.emit(ctx, &models.AuthEvent{Type: models.EventOTPVerified, UserID: u.UserID, Phone: p}, c)
	return s.login(ctx, u, c)
}

func (s *AuthService) login(ctx context.Context, u *models.User, c Client) (*Login, error) {
	token, sess, err := s.sessions.Issue(ctx, u.UserID, c.IP, c.UserAgent)
	if err != nil {
		util.Error("Failed to issue session", util.String("user_id", u.UserID), util.ErrorField(err))
		return nil, err
	}
	s.emit(ctx, &models.AuthEvent{Type: models.EventSessionIssued, UserID: u.UserID}, c)
	return &Login{User: u, Token: token, Session: sess}, nil
}

// BeginOAuth returns the provider consent URL and the state it carries.
func (s *AuthService) BeginOAuth(name string) (authURL, state string, err error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return "", "", err
	}
	state, err = session.NewToken()
	if err != nil {
		return "", "", err
	}
	authURL, err = p.AuthCodeURL(state)
	if err != nil {
		return "", "", err
	}
	return authURL, state, nil
}

// HandleCallback exchanges code for the provider identity and opens a
// pending link. It returns the sealed value for the pending cookie.
func (s *AuthService) HandleCallback(ctx context.Context, name, code string, c Client) (string, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return "", err
	}
	if !p.Configured() {
		return "", oauth.ErrProviderConfig
	}

	id, err := p.Exchange(ctx, code)
	if err != nil {
		s.emit(ctx, &models.AuthEvent{
			Type:     models.EventOAuthCallbackFail,
			Provider: name,
			Details:  map[string]string{"reason": err.Error()},
		}, c)
		return "", err
	}

	// the first code has no phone to go to yet; a fresh one is sent once the
	// user names their number
	_, cookie, err := s.binder.Begin(ctx, id)
	if err != nil {
		util.Error("Failed to start pending link", util.String("provider", name), util.ErrorField(err))
		return "", err
	}
	s.emit(ctx, &models.AuthEvent{
		Type:     models.EventOAuthCallback,
		Provider: name,
		Details:  map[string]string{"provider_user_id": id.ProviderUserID},
	}, c)
	return cookie, nil
}

// SendLinkCode binds rawPhone to the pending link in p and sends it a code.
func (s *AuthService) SendLinkCode(ctx context.Context, p *linking.Payload, rawPhone string, c Client) (*SentCode, error) {
	ph, err := normalize(rawPhone)
	if err != nil {
		return nil, err
	}
	if err := s.codes.Throttle(ctx, ph, models.PurposeOAuthLink); err != nil {
		s.emit(ctx, &models.AuthEvent{Type: models.EventOTPRateLimited, Phone: ph, Provider: p.Provider}, c)
		return nil, err
	}

	code, err := s.binder.SendCode(ctx, p, ph)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, &models.AuthEvent{Type: models.EventOAuthCodeSent, Phone: ph, Provider: p.Provider}, c)
	return s.deliver(ctx, ph, code, models.PurposeOAuthLink, s.now().Add(s.codes.TTL()))
}

// CompleteLink verifies the second-stage code, links the provider account
// to the resolved user and signs them in.
func (s *AuthService) CompleteLink(ctx context.Context, p *linking.Payload, rawPhone, code string, c Client) (*Login, error) {
	ph, err := normalize(rawPhone)
	if err != nil {
		return nil, err
	}

	pending, err := s.binder.Verify(ctx, p, ph, strings.TrimSpace(code))
	if err != nil {
		s.emit(ctx, &models.AuthEvent{
			Type:     models.EventOAuthLinkFailed,
			Phone:    ph,
			Provider: p.Provider,
			Details:  map[string]string{"reason": err.Error()},
		}, c)
		return nil, err
	}

	u, err := s.resolver.ByIdentity(ctx, &p.Identity, ph)
	if err == nil {
		err = s.link(ctx, u.UserID, &p.Identity)
	}
	if err != nil {
		if rerr := s.binder.Reopen(ctx, pending); rerr != nil {
			util.Warn("Failed to reopen pending link", util.String("provider", p.Provider), util.ErrorField(rerr))
		}
		return nil, err
	}
	if err := s.binder.Finish(ctx, p); err != nil {
		util.Warn("Failed to drop pending link", util.String("provider", p.Provider), util.ErrorField(err))
	}

	s.emit(ctx, &models.AuthEvent{Type: models.EventOAuthLinked, UserID: u.UserID, Phone: ph, Provider: p.Provider}, c)
	return s.login(ctx, u, c)
}

func (s *AuthService) link(ctx context.Context, userID string, id *oauth.Identity) error {
	purpose := tokenSealPurpose + id.Provider
	seal := func(v string) (string, error) {
		if v == "" {
			return "", nil
		}
		return s.sealer.SealString(ctx, v, purpose)
	}
	access, err := seal(id.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := seal(id.RefreshToken)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	l := &models.OAuthLink{
		UserID:         userID,
		Provider:       id.Provider,
		ProviderUserID: id.ProviderUserID,
		ProviderEmail:  id.Email,
		ProviderName:   id.Name,
		AccessToken:    access,
		RefreshToken:   refresh,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.links.Upsert(ctx, l); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return u, nil
}

func (s *AuthService) LinkedProviders(ctx context.Context, userID string) ([]*models.OAuthLink, error) {
	links, err := s.links.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if links == nil {
		links = []*models.OAuthLink{}
	}
	return links, nil
}

// UpdateProfile sets the display name and, when given, the email. An empty
// email clears it.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, fullName, email string, c Client) (*models.User, error) {
	fullName = util.SanitizeInput(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if fullName == "" {
		return nil, ErrMissingFields
	}
	if email != "" {
		if err := validate.Var(email, "email,max=254"); err != nil {
			return nil, ErrInvalidInput
		}
	}

	u, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.FullName = fullName
	u.Email = email
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrContactTaken
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.emit(ctx, &models.AuthEvent{Type: models.EventProfileUpdated, UserID: userID}, c)
	return u, nil
}

// Disconnect removes the link to provider. It reports whether one existed;
// removing a missing link is not an error.
func (s *AuthService) Disconnect(ctx context.Context, userID, provider string, c Client) (bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return false, ErrMissingFields
	}
	existed, err := s.links.Delete(ctx, userID, provider)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.emit(ctx, &models.AuthEvent{
		Type:     models.EventOAuthDisconnected,
		UserID:   userID,
		Provider: provider,
		Details:  map[string]string{"existed": fmt.Sprint(existed)},
	}, c)
	return existed, nil
}

func (s *AuthService) Logout(ctx context.Context, token, userID string, c Client) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return err
	}
	s.emit(ctx, &models.AuthEvent{Type: models.EventSessionRevoked, UserID: userID}, c)
	return nil
}
