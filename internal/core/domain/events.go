package domain

import "time"

// TokenRevokedEvent represents the payload for auth.token.revoked messages.
type TokenRevokedEvent struct {
	EventID   string
	JTI       string
	SubjectID string
	TokenType TokenType
	ExpiresAt time.Time
	Reason    string
	RevokedAt time.Time
}

// LoginFailedEvent represents the payload for auth.login.failed messages.
// Identity is already masked by the caller.
type LoginFailedEvent struct {
	EventID   string
	Identity  string
	ClientIP  string
	Reason    string
	AttemptAt time.Time
}

// LoginRateLimitedEvent represents the payload for auth.login.rate_limited messages.
type LoginRateLimitedEvent struct {
	EventID    string
	Tier       string
	Identity   string
	ClientIP   string
	RetryAfter time.Duration
	RejectedAt time.Time
}

// Revocation reasons.
const (
	RevocationReasonLogout  = "logout"
	RevocationReasonRefresh = "refresh_rotation"
	RevocationReasonManual  = "manual"
)
