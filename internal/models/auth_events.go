package models

import "time"

type AuthEventType string

const (
	EventOTPSent           AuthEventType = "otp_sent"
	EventOTPVerified       AuthEventType = "otp_verified"
	EventOTPFailed         AuthEventType = "otp_failed"
	EventOTPRateLimited    AuthEventType = "otp_rate_limited"
	EventOAuthCallback     AuthEventType = "oauth_callback"
	EventOAuthCallbackFail AuthEventType = "oauth_callback_failed"
	EventOAuthCodeSent     AuthEventType = "oauth_code_sent"
	EventOAuthLinked       AuthEventType = "oauth_linked"
	EventOAuthLinkFailed   AuthEventType = "oauth_link_failed"
	EventOAuthDisconnected AuthEventType = "oauth_disconnected"
	EventSessionIssued     AuthEventType = "session_issued"
	EventSessionRevoked    AuthEventType = "session_revoked"
	EventProfileUpdated    AuthEventType = "profile_updated"
)

type AuthEvent struct {
	EventID     string            `json:"event_id" ch:"event_id"`
	EventBucket int               `json:"event_bucket" ch:"event_bucket"`
	EventDate   string            `json:"event_date" ch:"event_date"`
	Type        AuthEventType     `json:"type" ch:"event_type"`
	UserID      string            `json:"user_id,omitempty" ch:"user_id"`
	Phone       string            `json:"phone,omitempty" ch:"phone_masked"`
	Provider    string            `json:"provider,omitempty" ch:"provider"`
	IPAddress   string            `json:"ip_address,omitempty" ch:"ip_address"`
	UserAgent   string            `json:"user_agent,omitempty" ch:"user_agent"`
	OccurredAt  time.Time         `json:"occurred_at" ch:"occurred_at"`
	Details     map[string]string `json:"details,omitempty" ch:"details"`
}
