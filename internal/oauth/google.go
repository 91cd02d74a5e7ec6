package oauth

import (
	"context"
	"net/http"

	"travel-auth/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"

func NewGoogle(pc config.OAuthProviderConfig, redirectURL string, httpClient *http.Client) Provider {
	return &provider{
		name: Google,
		oauth: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint(google.Endpoint, pc),
		},
		profileURL: orDefault(pc.ProfileURL, googleProfileURL),
		authOpts:   []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")},
		httpClient: httpClient,
		profile:    googleProfile,
	}
}

func googleProfile(ctx context.Context, c *http.Client, p *provider) (*Identity, error) {
	var body struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := getJSON(ctx, c, p.profileURL, &body); err != nil {
		return nil, err
	}
	id := &Identity{ProviderUserID: body.ID, Name: body.Name}
	if body.VerifiedEmail {
		id.Email = body.Email
	}
	return id, nil
}
