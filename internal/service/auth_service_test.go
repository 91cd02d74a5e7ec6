package service

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-auth/internal/config"
	"travel-auth/internal/encryption"
	"travel-auth/internal/events"
	"travel-auth/internal/hashing"
	"travel-auth/internal/linking"
	"travel-auth/internal/models"
	"travel-auth/internal/oauth"
	"travel-auth/internal/otp"
	"travel-auth/internal/repository/memory"
	"travel-auth/internal/session"
)

const rawPhone = "9876543210"

type stubProvider struct {
	name       string
	configured bool
	identity   *oauth.Identity
	err        error
}

func (p *stubProvider) Name() string     { return p.name }
func (p *stubProvider) Configured() bool { return p.configured }

func (p *stubProvider) AuthCodeURL(state string) (string, error) {
	if !p.configured {
		return "", oauth.ErrProviderConfig
	}
	return "https://provider.test/authorize?state=" + state, nil
}

func (p *stubProvider) Exchange(_ context.Context, code string) (*oauth.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	id := *p.identity
	return &id, nil
}

type eventLog struct {
	mu    sync.Mutex
	types []models.AuthEventType
}

func (l *eventLog) Name() string { return "test" }

func (l *eventLog) Write(_ context.Context, e *models.AuthEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, e.Type)
	return nil
}

// flakyLinks fails upserts while err is set.
type flakyLinks struct {
	*memory.Links
	err error
}

func (l *flakyLinks) Upsert(ctx context.Context, link *models.OAuthLink) error {
	if l.err != nil {
		return l.err
	}
	return l.Links.Upsert(ctx, link)
}

type env struct {
	svc      *AuthService
	factory  *ServiceFactory
	users    *memory.Users
	links    *memory.Links
	flaky    *flakyLinks
	codes    *memory.Codes
	sessions *memory.Sessions
	github   *stubProvider
	events   *eventLog
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }

	cfg := &config.Config{
		Environment: config.EnvDevelopment,
		OTP:         config.OTPConfig{Length: 6, TTL: 10 * time.Minute, MaxAttempts: 5, MaxSendsPerHour: 3, ExposeCode: true},
		Hashing:     config.HashingConfig{Argon2MemoryCost: 1024, Argon2TimeCost: 1, Argon2Parallelism: 1, Peppers: []string{"p"}},
		Session: config.SessionConfig{
			TTL: 30 * 24 * time.Hour, CookieName: "session_token",
			PendingTTL: 10 * time.Minute, PendingCookie: "oauth_pending",
		},
		KMS: config.KMSConfig{MasterKey: base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))},
	}
	sealer, err := encryption.NewManager(cfg, nil)
	require.NoError(t, err)

	e.users, e.links, e.codes, e.sessions = memory.NewUsers(), memory.NewLinks(), memory.NewCodes(), memory.NewSessions()
	e.github = &stubProvider{name: oauth.GitHub, configured: true, identity: &oauth.Identity{
		Provider: oauth.GitHub, ProviderUserID: "4242", Email: "asha@example.com", Name: "Asha", AccessToken: "gho_secret",
	}}
	e.events = &eventLog{}
	e.flaky = &flakyLinks{Links: e.links}

	e.factory = NewServiceFactory(cfg, Stores{
		Users:    e.users,
		Codes:    e.codes,
		Pending:  memory.NewPending(clock),
		Links:    e.flaky,
		Sessions: e.sessions,
		Limiter:  memory.NewLimiter(clock),
	}, hashing.NewHasher(cfg), sealer,
		oauth.NewRegistry(e.github, &stubProvider{name: oauth.Google}),
		events.NewDispatcher(nil, e.events)).WithClock(clock)
	e.svc = e.factory.AuthService()
	return e
}

func (e *env) pending(t *testing.T) *linking.Payload {
	t.Helper()
	cookie, err := e.svc.HandleCallback(context.Background(), oauth.GitHub, "code", Client{})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: "oauth_pending", Value: cookie})
	p, err := e.factory.Binder().Load(context.Background(), r, oauth.GitHub)
	require.NoError(t, err)
	return p
}

func TestPhoneLoginCreatesVerifiedUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", sent.Phone)
	require.Len(t, sent.Code, 6)

	login, err := e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "Asha <b>", Client{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", login.User.PhoneNumber)
	assert.True(t, login.User.IsVerified)
	assert.Equal(t, "Asha &lt;b&gt;", login.User.FullName)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, 1, e.sessions.Count())

	again, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)
	second, err := e.svc.VerifyOTP(ctx, rawPhone, again.Code, "", Client{})
	require.NoError(t, err)
	assert.Equal(t, login.User.UserID, second.User.UserID)
	assert.Equal(t, 2, e.sessions.Count())

	assert.Contains(t, e.events.types, models.EventOTPSent)
	assert.Contains(t, e.events.types, models.EventSessionIssued)
}

func TestSendOTPRejectsBadPhoneWithoutWriting(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.SendOTP(context.Background(), "123", Client{})
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Zero(t, e.codes.Writes)
}

func TestVerifyOTPRequiresFields(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.VerifyOTP(context.Background(), rawPhone, " ", "", Client{})
	assert.ErrorIs(t, err, ErrOTPRequired)
}

func TestVerifyOTPExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)

	e.now = e.now.Add(10*time.Minute + time.Second)
	_, err = e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "", Client{})
	assert.ErrorIs(t, err, otp.ErrExpired)
	assert.Contains(t, e.events.types, models.EventOTPFailed)
}

func TestSendOTPHourlyLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.svc.SendOTP(ctx, rawPhone, Client{})
		require.NoError(t, err)
	}
	_, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	assert.ErrorIs(t, err, otp.ErrTooManyRequests)
	assert.Contains(t, e.events.types, models.EventOTPRateLimited)

	e.now = e.now.Add(time.Hour)
	_, err = e.svc.SendOTP(ctx, rawPhone, Client{})
	assert.NoError(t, err)
}

func TestBeginOAuth(t *testing.T) {
	e := newEnv(t)

	authURL, state, err := e.svc.BeginOAuth("GitHub")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, state)

	_, _, err = e.svc.BeginOAuth(oauth.Google)
	assert.ErrorIs(t, err, oauth.ErrProviderConfig)

	_, _, err = e.svc.BeginOAuth("gitlab")
	assert.ErrorIs(t, err, oauth.ErrUnknownProvider)
}

func TestCallbackExchangeFailure(t *testing.T) {
	e := newEnv(t)
	e.github.err = oauth.ErrTokenExchange

	_, err := e.svc.HandleCallback(context.Background(), oauth.GitHub, "bad", Client{})
	assert.ErrorIs(t, err, oauth.ErrTokenExchange)
	assert.Contains(t, e.events.types, models.EventOAuthCallbackFail)
}

func TestOAuthLinkCreatesUserAndLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pending(t)

	sent, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)
	require.Len(t, sent.Code, 6)

	login, err := e.svc.CompleteLink(ctx, p, rawPhone, sent.Code, Client{})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", login.User.PhoneNumber)
	assert.Equal(t, "asha@example.com", login.User.Email)
	assert.Equal(t, "Asha", login.User.FullName)
	assert.True(t, login.User.IsVerified)

	links, err := e.svc.LinkedProviders(ctx, login.User.UserID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "4242", links[0].ProviderUserID)
	assert.NotEqual(t, "gho_secret", links[0].AccessToken)

	token, err := e.factory.sealer.OpenString(ctx, links[0].AccessToken, tokenSealPurpose+oauth.GitHub)
	require.NoError(t, err)
	assert.Equal(t, "gho_secret", token)

	// the pending entry is consumed
	_, err = e.svc.CompleteLink(ctx, p, rawPhone, sent.Code, Client{})
	assert.ErrorIs(t, err, otp.ErrNotFound)
}

func TestFailedLinkKeepsCodeUsable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pending(t)

	sent, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)

	e.flaky.err = errors.New("scylla unavailable")
	_, err = e.svc.CompleteLink(ctx, p, rawPhone, sent.Code, Client{})
	assert.ErrorIs(t, err, ErrStorage)

	e.flaky.err = nil
	login, err := e.svc.CompleteLink(ctx, p, rawPhone, sent.Code, Client{})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", login.User.PhoneNumber)
	assert.Equal(t, 1, e.sessions.Count())
}

func TestOAuthLinkJoinsExistingPhoneUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)
	phoneLogin, err := e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "Asha K", Client{})
	require.NoError(t, err)

	p := e.pending(t)
	code, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)
	login, err := e.svc.CompleteLink(ctx, p, rawPhone, code.Code, Client{})
	require.NoError(t, err)

	assert.Equal(t, phoneLogin.User.UserID, login.User.UserID)
	assert.Equal(t, "Asha K", login.User.FullName)
	assert.Equal(t, "asha@example.com", login.User.Email)
}

func TestOAuthRelinkUsesExistingLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p := e.pending(t)
	code, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)
	first, err := e.svc.CompleteLink(ctx, p, rawPhone, code.Code, Client{})
	require.NoError(t, err)

	p = e.pending(t)
	code, err = e.svc.SendLinkCode(ctx, p, "919876543210", Client{})
	require.NoError(t, err)
	second, err := e.svc.CompleteLink(ctx, p, rawPhone, code.Code, Client{})
	require.NoError(t, err)
	assert.Equal(t, first.User.UserID, second.User.UserID)
}

func TestCompleteLinkWrongCode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pending(t)
	sent, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)

	wrong := "000000"
	if sent.Code == wrong {
		wrong = "111111"
	}
	_, err = e.svc.CompleteLink(ctx, p, rawPhone, wrong, Client{})
	assert.ErrorIs(t, err, otp.ErrInvalidCode)

	_, err = e.svc.CompleteLink(ctx, p, "9123456789", sent.Code, Client{})
	assert.ErrorIs(t, err, linking.ErrPhoneMismatch)
	assert.Zero(t, e.sessions.Count())
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)
	login, err := e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "", Client{})
	require.NoError(t, err)
	id := login.User.UserID

	tt := []struct {
		name     string
		fullName string
		email    string
		wantErr  error
	}{
		{name: "name required", fullName: "  ", wantErr: ErrMissingFields},
		{name: "bad email", fullName: "Asha", email: "not-an-email", wantErr: ErrInvalidInput},
		{name: "name and email", fullName: "Asha", email: "Asha@Example.com"},
		{name: "clear email", fullName: "Asha"},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			u, err := e.svc.UpdateProfile(ctx, id, tc.fullName, tc.email, Client{})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.ToLower(tc.email), u.Email)
		})
	}

	_, err = e.svc.UpdateProfile(ctx, "missing", "Asha", "", Client{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfileEmailTaken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.users.Create(ctx, &models.User{UserID: "other", Email: "taken@example.com"}))

	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)
	login, err := e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "", Client{})
	require.NoError(t, err)

	_, err = e.svc.UpdateProfile(ctx, login.User.UserID, "Asha", "taken@example.com", Client{})
	assert.ErrorIs(t, err, ErrContactTaken)
}

func TestDisconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pending(t)
	code, err := e.svc.SendLinkCode(ctx, p, rawPhone, Client{})
	require.NoError(t, err)
	login, err := e.svc.CompleteLink(ctx, p, rawPhone, code.Code, Client{})
	require.NoError(t, err)

	existed, err := e.svc.Disconnect(ctx, login.User.UserID, "GitHub", Client{})
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = e.svc.Disconnect(ctx, login.User.UserID, oauth.Google, Client{})
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = e.svc.Disconnect(ctx, login.User.UserID, "", Client{})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestLogoutRevokesSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent, err := e.svc.SendOTP(ctx, rawPhone, Client{})
	require.NoError(t, err)
	login, err := e.svc.VerifyOTP(ctx, rawPhone, sent.Code, "", Client{})
	require.NoError(t, err)

	require.NoError(t, e.svc.Logout(ctx, login.Token, login.User.UserID, Client{}))
	_, err = e.factory.Sessions().Resolve(ctx, login.Token)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Zero(t, e.sessions.Count())
}
