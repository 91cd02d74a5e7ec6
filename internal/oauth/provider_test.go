package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"travel-auth/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tokenStatus int
	tokenBody   string
	profile     interface{}
	emails      interface{}
	emailCalls  int
}

func (f *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := f.tokenStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(f.profile)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		f.emailCalls++
		_ = json.NewEncoder(w).Encode(f.emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func providerConfig(srv *httptest.Server) config.OAuthProviderConfig {
	return config.OAuthProviderConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		ProfileURL:   srv.URL + "/user",
		EmailsURL:    srv.URL + "/user/emails",
	}
}

const okToken = `{"access_token":"at-123","token_type":"bearer","refresh_token":"rt-1"}`

func TestGoogleExchange(t *testing.T) {
	f := &fakeProvider{tokenBody: okToken, profile: map[string]interface{}{"id": "1087", "email": "asha@example.com", "verified_email": true, "name": "Asha Rao"}}
	srv := f.server(t)
	p := NewGoogle(providerConfig(srv), "http://localhost/cb", srv.Client())

	id, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, &Identity{
		Provider: Google, ProviderUserID: "1087", Email: "asha@example.com", Name: "Asha Rao",
		AccessToken: "at-123", RefreshToken: "rt-1", TokenExpiry: id.TokenExpiry,
	}, id)
}

func TestGitHubFallsBackToEmailsAndLogin(t *testing.T) {
	f := &fakeProvider{
		tokenBody: okToken,
		profile:   map[string]interface{}{"id": 583231, "login": "octocat", "name": "", "email": nil},
		emails: []githubEmail{
			{Email: "work@example.com", Verified: true},
			{Email: "me@example.com", Primary: true, Verified: true},
		},
	}
	srv := f.server(t)
	p := NewGitHub(providerConfig(srv), "http://localhost/cb", srv.Client())

	id, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "583231", id.ProviderUserID)
	assert.Equal(t, "octocat", id.Name)
	assert.Equal(t, "me@example.com", id.Email)
	assert.Equal(t, 1, f.emailCalls)
}

func TestGitHubPublicEmailSkipsLookup(t *testing.T) {
	f := &fakeProvider{tokenBody: okToken, profile: map[string]interface{}{"id": 1, "login": "x", "email": "pub@example.com"}}
	srv := f.server(t)
	p := NewGitHub(providerConfig(srv), "http://localhost/cb", srv.Client())

	id, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "pub@example.com", id.Email)
	assert.Zero(t, f.emailCalls)
}

func TestGoogleUnverifiedEmailDropped(t *testing.T) {
	f := &fakeProvider{tokenBody: okToken, profile: map[string]interface{}{"id": "1087", "email": "asha@example.com", "verified_email": false}}
	srv := f.server(t)
	p := NewGoogle(providerConfig(srv), "http://localhost/cb", srv.Client())

	id, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "1087", id.ProviderUserID)
	assert.Empty(t, id.Email)
}

func TestPickEmail(t *testing.T) {
	tt := []struct {
		name   string
		emails []githubEmail
		want   string
	}{
		{name: "none", want: ""},
		{name: "first verified", emails: []githubEmail{{Email: "a@x"}, {Email: "b@x", Verified: true}, {Email: "c@x", Verified: true}}, want: "b@x"},
		{name: "primary verified", emails: []githubEmail{{Email: "a@x", Verified: true}, {Email: "b@x", Primary: true, Verified: true}}, want: "b@x"},
		{name: "unverified primary skipped", emails: []githubEmail{{Email: "a@x", Primary: true}, {Email: "b@x", Verified: true}}, want: "b@x"},
		{name: "nothing verified", emails: []githubEmail{{Email: "a@x", Primary: true}}, want: ""},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pickEmail(tc.emails))
		})
	}
}

func TestExchangeErrors(t *testing.T) {
	tt := []struct {
		name    string
		f       *fakeProvider
		wantErr error
	}{
		{name: "no access token", f: &fakeProvider{tokenBody: `{"token_type":"bearer"}`}, wantErr: ErrTokenExchange},
		{name: "error in body", f: &fakeProvider{tokenBody: `{"error":"bad_verification_code"}`}, wantErr: ErrTokenExchange},
		{name: "token endpoint 500", f: &fakeProvider{tokenStatus: 500, tokenBody: `{}`}, wantErr: ErrUpstream},
		{name: "profile unauthorized", f: &fakeProvider{tokenBody: `{"access_token":"other","token_type":"bearer"}`}, wantErr: ErrUpstream},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			srv := tc.f.server(t)
			p := NewGoogle(providerConfig(srv), "http://localhost/cb", srv.Client())
			_, err := p.Exchange(context.Background(), "code")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestUnconfiguredProvider(t *testing.T) {
	p := NewGitHub(config.OAuthProviderConfig{}, "http://localhost/cb", nil)
	assert.False(t, p.Configured())

	_, err := p.AuthCodeURL("s")
	assert.ErrorIs(t, err, ErrProviderConfig)
	_, err = p.Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, ErrProviderConfig)
}

func TestAuthCodeURL(t *testing.T) {
	cfg := &config.Config{
		App: config.AppConfig{BaseURL: "https://trips.example.com"},
		OAuth: config.OAuthConfig{
			Google: config.OAuthProviderConfig{ClientID: "gid", ClientSecret: "gs"},
			GitHub: config.OAuthProviderConfig{ClientID: "hid", ClientSecret: "hs"},
		},
	}
	reg := NewRegistryFromConfig(cfg, nil)
	assert.Equal(t, []string{GitHub, Google}, reg.Names())

	g, err := reg.Get("Google")
	require.NoError(t, err)
	raw, err := g.AuthCodeURL("st4te")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "gid", q.Get("client_id"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "https://trips.example.com/auth/oauth/google/callback", q.Get("redirect_uri"))

	_, err = reg.Get("facebook")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
