package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"travel-auth/internal/config"
	"travel-auth/internal/linking"
	"travel-auth/internal/oauth"
	"travel-auth/internal/service"
	"travel-auth/internal/session"
	"travel-auth/internal/util"
)

var providerTitles = map[string]string{
	oauth.Google: "Google",
	oauth.GitHub: "GitHub",
}

type oauthPhoneRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Provider    string `json:"provider" validate:"required"`
}

type oauthVerifyRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	OTP         string `json:"otp" validate:"required"`
	Provider    string `json:"provider" validate:"required"`
}

// OAuthHandler runs the provider redirect, the callback and the two phone
// verification steps that finish a link.
type OAuthHandler struct {
	auth        *service.AuthService
	binder      *linking.Binder
	sessions    *session.Manager
	baseURL     string
	loginPath   string
	verifyPath  string
	stateCookie string
	stateTTL    time.Duration
	secure      bool
}

func NewOAuthHandler(cfg *config.Config, auth *service.AuthService, binder *linking.Binder, sessions *session.Manager) *OAuthHandler {
	return &OAuthHandler{
		auth:        auth,
		binder:      binder,
		sessions:    sessions,
		baseURL:     strings.TrimSuffix(cfg.App.BaseURL, "/"),
		loginPath:   cfg.App.LoginPath,
		verifyPath:  cfg.App.VerifyPhonePath,
		stateCookie: cfg.Session.StateCookie,
		stateTTL:    cfg.Session.PendingTTL,
		secure:      cfg.IsProduction(),
	}
}

func (h *OAuthHandler) RegisterRoutes(r chi.Router, limited func(http.Handler) http.Handler) {
	r.With(limited).Post("/oauth/verify-phone", h.VerifyPhone)
	r.With(limited).Post("/oauth/verify-otp", h.VerifyOTP)
	r.Get("/oauth/{provider}", h.Begin)
	r.Get("/oauth/{provider}/callback", h.Callback)
}

func providerParam(r *http.Request) string {
	return strings.ToLower(chi.URLParam(r, "provider"))
}

func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	name := providerParam(r)
	authURL, state, err := h.auth.BeginOAuth(name)
	if errors.Is(err, oauth.ErrProviderConfig) {
		util.Warn("OAuth provider not configured", util.String("provider", name))
		respondWithJSON(w, http.StatusBadRequest, Response{Error: providerTitles[name] + " OAuth not configured"})
		return
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.setState(w, state)
	respondWithJSON(w, http.StatusOK, Response{Success: true, AuthURL: authURL})
}

// Callback never answers with JSON; every outcome is a redirect to a page.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	name := providerParam(r)
	q := r.URL.Query()
	state := h.takeState(w, r)

	if e := q.Get("error"); e != "" {
		util.Warn("OAuth provider returned an error", util.String("provider", name), util.String("error", e))
		h.redirectLogin(w, r, e)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.redirectLogin(w, r, "no_code")
		return
	}
	if state == "" || q.Get("state") != state {
		h.redirectLogin(w, r, "invalid_state")
		return
	}

	cookie, err := h.auth.HandleCallback(r.Context(), name, code, clientFrom(r))
	if err != nil {
		util.Warn("OAuth callback failed", util.String("provider", name), util.ErrorField(err))
		h.redirectLogin(w, r, callbackErrorCode(err))
		return
	}

	h.binder.SetCookie(w, cookie)
	target := h.baseURL + h.verifyPath + "?" + url.Values{
		"provider": {name},
		"otp_sent": {"true"},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, oauth.ErrProviderConfig), errors.Is(err, oauth.ErrUnknownProvider):
		return "config_error"
	case errors.Is(err, oauth.ErrTokenExchange):
		return "token_error"
	default:
		return "callback_error"
	}
}

func (h *OAuthHandler) redirectLogin(w http.ResponseWriter, r *http.Request, code string) {
	target := h.baseURL + h.loginPath + "?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *OAuthHandler) setState(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.stateCookie,
		Value:    state,
		Path:     "/auth/oauth",
		MaxAge:   int(h.stateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeState reads the state cookie and expires it; a state is good for one
// callback.
func (h *OAuthHandler) takeState(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(h.stateCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.stateCookie,
		Path:     "/auth/oauth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Value
}

func (h *OAuthHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req oauthPhoneRequest
	if err := decode(w, r, &req, service.ErrMissingFields); err != nil {
		respondWithError(w, r, err)
		return
	}

	p, err := h.binder.Load(r.Context(), r, strings.ToLower(req.Provider))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	sent, err := h.auth.SendLinkCode(r.Context(), p, req.PhoneNumber, clientFrom(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, Response{
		Success:   true,
		Message:   "OTP sent successfully",
		OTP:       sent.Code,
		ExpiresAt: &sent.ExpiresAt,
	})
}

func (h *OAuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req oauthVerifyRequest
	if err := decode(w, r, &req, service.ErrMissingFields); err != nil {
		respondWithError(w, r, err)
		return
	}

	p, err := h.binder.Load(r.Context(), r, strings.ToLower(req.Provider))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	login, err := h.auth.CompleteLink(r.Context(), p, req.PhoneNumber, req.OTP, clientFrom(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	h.sessions.SetCookie(w, login.Token)
	h.binder.ClearCookie(w)
	respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Account linked", User: login.User})
}
