package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"travel-auth/internal/config"

	"golang.org/x/oauth2"
)

const (
	Google = "google"
	GitHub = "github"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrProviderConfig  = errors.New("oauth provider not configured")
	ErrTokenExchange   = errors.New("oauth token exchange failed")
	ErrUpstream        = errors.New("oauth provider request failed")
)

// Identity is what a provider tells us about the signed-in account.
type Identity struct {
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	Email          string    `json:"provider_email,omitempty"`
	Name           string    `json:"provider_name,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
	RefreshToken   string    `json:"refresh_token,omitempty"`
	TokenExpiry    time.Time `json:"token_expiry,omitempty"`
}

type Provider interface {
	Name() string
	Configured() bool
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*Identity, error)
}

type profileFunc func(ctx context.Context, c *http.Client, p *provider) (*Identity, error)

type provider struct {
	name       string
	oauth      *oauth2.Config
	profileURL string
	emailsURL  string
	authOpts   []oauth2.AuthCodeOption
	httpClient *http.Client
	profile    profileFunc
}

func (p *provider) Name() string { return p.name }

func (p *provider) Configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != ""
}

func (p *provider) AuthCodeURL(state string) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("%w: %s", ErrProviderConfig, p.name)
	}
	return p.oauth.AuthCodeURL(state, p.authOpts...), nil
}

// Exchange trades an authorization code for tokens and loads the profile.
func (p *provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrProviderConfig, p.name)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(p.name, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s returned no access token", ErrTokenExchange, p.name)
	}

	id, err := p.profile(ctx, p.oauth.Client(ctx, tok), p)
	if err != nil {
		return nil, err
	}
	id.Provider = p.name
	id.AccessToken = tok.AccessToken
	id.RefreshToken = tok.RefreshToken
	id.TokenExpiry = tok.Expiry
	if id.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: %s profile has no id", ErrUpstream, p.name)
	}
	return id, nil
}

func classifyExchangeError(name string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s token endpoint status %d", ErrUpstream, name, re.Response.StatusCode)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, name, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTokenExchange, name, err)
}

func getJSON(ctx context.Context, c *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: GET %s: status %d", ErrUpstream, rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, rawURL, err)
	}
	return nil
}

// Registry resolves providers by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRegistryFromConfig builds the Google and GitHub providers.
func NewRegistryFromConfig(cfg *config.Config, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return NewRegistry(
		NewGoogle(cfg.OAuth.Google, cfg.CallbackURL(Google), httpClient),
		NewGitHub(cfg.OAuth.GitHub, cfg.CallbackURL(GitHub), httpClient),
	)
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func endpoint(def oauth2.Endpoint, pc config.OAuthProviderConfig) oauth2.Endpoint {
	if pc.AuthURL != "" {
		def.AuthURL = pc.AuthURL
	}
	if pc.TokenURL != "" {
		def.TokenURL = pc.TokenURL
	}
	return def
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
