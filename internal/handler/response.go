package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"travel-auth/internal/linking"
	"travel-auth/internal/models"
	"travel-auth/internal/oauth"
	"travel-auth/internal/otp"
	"travel-auth/internal/service"
	"travel-auth/internal/session"
	"travel-auth/internal/util"
)

var (
	errBadBody       = errors.New("invalid request body")
	errPhoneRequired = errors.New("phone number is required")
)

var validate = validator.New()

// Response is the JSON envelope of every auth endpoint.
type Response struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	User      *models.User `json:"user,omitempty"`
	AuthURL   string       `json:"authUrl,omitempty"`
	OTP       string       `json:"otp,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	Data      interface{}  `json:"data,omitempty"`
}

type providersResponse struct {
	Success   bool                `json:"success"`
	Providers []*models.OAuthLink `json:"providers"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError writes the public message for err. Internal detail only
// goes to the log.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := getStatusCode(err)
	if status >= http.StatusInternalServerError {
		util.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", status),
			util.String("path", r.URL.Path),
		)
	} else {
		util.Warn("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", status),
			util.String("path", r.URL.Path),
		)
	}
	respondWithJSON(w, status, Response{Success: false, Error: publicMessage(err)})
}

func getStatusCode(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, errPhoneRequired),
		errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrOTPRequired),
		errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, otp.ErrNotFound),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrAttemptsExceeded),
		errors.Is(err, otp.ErrInvalidCode),
		errors.Is(err, linking.ErrSessionExpired),
		errors.Is(err, linking.ErrProviderMismatch),
		errors.Is(err, linking.ErrPhoneMismatch),
		errors.Is(err, oauth.ErrProviderConfig):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, oauth.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, service.ErrContactTaken):
		return http.StatusConflict
	case errors.Is(err, otp.ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var publicMessages = []struct {
	err error
	msg string
}{
	{errBadBody, "Invalid request body"},
	{errPhoneRequired, "Phone number is required"},
	{service.ErrInvalidPhone, "Invalid phone number format"},
	{service.ErrOTPRequired, "Phone number and OTP are required"},
	{service.ErrMissingFields, "Missing required fields"},
	{service.ErrInvalidInput, "Invalid input"},
	{service.ErrUserNotFound, "User not found"},
	{service.ErrContactTaken, "Phone number or email already in use"},
	{otp.ErrNotFound, "OTP not found or expired"},
	{otp.ErrExpired, "OTP has expired"},
	{otp.ErrAttemptsExceeded, "Maximum OTP attempts exceeded"},
	{otp.ErrInvalidCode, "Invalid OTP code"},
	{otp.ErrTooManyRequests, "Too many OTP requests"},
	{linking.ErrSessionExpired, "OAuth session expired"},
	{linking.ErrProviderMismatch, "Provider mismatch"},
	{linking.ErrPhoneMismatch, "Phone number does not match the verification request"},
	{session.ErrNoSession, "Not authenticated"},
	{oauth.ErrUnknownProvider, "Unknown OAuth provider"},
	{oauth.ErrProviderConfig, "OAuth provider not configured"},
}

func publicMessage(err error) string {
	for _, m := range publicMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Internal server error"
}

// decode reads a JSON body into dst and checks its validate tags. A failed
// check is reported as invalid when it is set.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}, invalid error) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		return errBadBody
	}
	if err := validate.Struct(dst); err != nil {
		if invalid == nil {
			return err
		}
		return invalid
	}
	return nil
}
