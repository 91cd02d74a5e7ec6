package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"travel-auth/internal/service"
	"travel-auth/internal/session"
	"travel-auth/internal/util"
)

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	OTP         string `json:"otp" validate:"required"`
	FullName    string `json:"fullName" validate:"max=100"`
}

type updateProfileRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
}

type disconnectRequest struct {
	Provider string `json:"provider" validate:"required"`
}

// AuthHandler serves phone sign-in and the session-scoped account routes.
type AuthHandler struct {
	auth     *service.AuthService
	sessions *session.Manager
}

func NewAuthHandler(auth *service.AuthService, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

// RegisterRoutes mounts the handlers. limited wraps the code-sending and
// code-checking routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router, limited func(http.Handler) http.Handler) {
	r.With(limited).Post("/send-otp", h.SendOTP)
	r.With(limited).Post("/verify-otp", h.VerifyOTP)

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(h.sessions))
		r.Get("/me", h.Me)
		r.Get("/oauth-providers", h.LinkedProviders)
		r.Post("/update-profile", h.UpdateProfile)
		r.Post("/disconnect-oauth", h.Disconnect)
		r.Get("/logout", h.Logout)
	})
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decode(w, r, &req, errPhoneRequired); err != nil {
		respondWithError(w, r, err)
		return
	}

	sent, err := h.auth.SendOTP(r.Context(), req.PhoneNumber, clientFrom(r))
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

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decode(w, r, &req, service.ErrOTPRequired); err != nil {
		respondWithError(w, r, err)
		return
	}

	login, err := h.auth.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP, req.FullName, clientFrom(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.sessions.SetCookie(w, login.Token)
	respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Phone number verified", User: login.User})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.CurrentUser(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, Response{Success: true, User: u})
}

func (h *AuthHandler) LinkedProviders(w http.ResponseWriter, r *http.Request) {
	links, err := h.auth.LinkedProviders(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, providersResponse{Success: true, Providers: links})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decode(w, r, &req, nil); err != nil {
		if !errors.Is(err, errBadBody) {
			err = profileError(err)
		}
		respondWithError(w, r, err)
		return
	}

	u, err := h.auth.UpdateProfile(r.Context(), sessionFrom(r.Context()).UserID, req.FullName, req.Email, clientFrom(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Profile updated successfully", User: u})
}

// profileError tells a bad email apart from a missing name.
func profileError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 && ve[0].Field() == "Email" {
		return service.ErrInvalidInput
	}
	return service.ErrMissingFields
}

func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := decode(w, r, &req, service.ErrMissingFields); err != nil {
		respondWithError(w, r, err)
		return
	}

	s := sessionFrom(r.Context())
	existed, err := h.auth.Disconnect(r.Context(), s.UserID, req.Provider, clientFrom(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	msg := req.Provider + " disconnected"
	if !existed {
		msg = req.Provider + " was not connected"
	}
	respondWithJSON(w, http.StatusOK, Response{Success: true, Message: msg})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	if err := h.auth.Logout(r.Context(), h.sessions.TokenFromRequest(r), s.UserID, clientFrom(r)); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.sessions.ClearCookie(w)
	util.Info("User logged out", util.String("user_id", s.UserID))
	respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Logged out"})
}
