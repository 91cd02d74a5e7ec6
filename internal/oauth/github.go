package oauth

import (
	"context"
	"net/http"
	"strconv"

	"travel-auth/internal/config"
	"travel-auth/internal/util"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	githubProfileURL = "https://api.github.com/user"
	githubEmailsURL  = "https://api.github.com/user/emails"
)

func NewGitHub(pc config.OAuthProviderConfig, redirectURL string, httpClient *http.Client) Provider {
	return &provider{
		name: GitHub,
		oauth: &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email"},
			Endpoint:     endpoint(github.Endpoint, pc),
		},
		profileURL: orDefault(pc.ProfileURL, githubProfileURL),
		emailsURL:  orDefault(pc.EmailsURL, githubEmailsURL),
		authOpts:   []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("allow_signup", "true")},
		httpClient: httpClient,
		profile:    githubProfile,
	}
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func githubProfile(ctx context.Context, c *http.Client, p *provider) (*Identity, error) {
	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, c, p.profileURL, &user); err != nil {
		return nil, err
	}

	id := &Identity{Email: user.Email, Name: user.Name}
	if user.ID != 0 {
		id.ProviderUserID = strconv.FormatInt(user.ID, 10)
	}
	if id.Name == "" {
		id.Name = user.Login
	}

	// Users with a private email need the emails endpoint.
	if id.Email == "" {
		var emails []githubEmail
		if err := getJSON(ctx, c, p.emailsURL, &emails); err != nil {
			util.Warn("GitHub email lookup failed", util.ErrorField(err))
		} else {
			id.Email = pickEmail(emails)
		}
	}
	return id, nil
}

// pickEmail returns the primary verified address, else the first verified
// one. Unverified addresses are never used since accounts merge by email.
func pickEmail(emails []githubEmail) string {
	first := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if first == "" {
			first = e.Email
		}
	}
	return first
}
