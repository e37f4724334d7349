package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/transport/http/middleware"
)

// APIResponse is the envelope every endpoint responds with.
type APIResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// NewSuccessResponse wraps data in a successful envelope.
func NewSuccessResponse(c *gin.Context, message string, data any) APIResponse {
	return APIResponse{
		Success: true,
		Code:    middleware.CodeOK,
		Message: message,
		TraceID: middleware.GetTraceID(c),
		Data:    data,
	}
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, code, message string) APIResponse {
	return APIResponse{
		Success: false,
		Code:    code,
		Message: message,
		TraceID: middleware.GetTraceID(c),
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents the payload to rotate a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest optionally names a refresh token to revoke with the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID     string            `json:"id"`
	Email  string            `json:"email"`
	Role   string            `json:"role"`
	Status domain.UserStatus `json:"status"`
}

func newUserSummary(user domain.User) UserSummary {
	return UserSummary{
		ID:     user.ID,
		Email:  user.Email,
		Role:   user.EffectiveRole(),
		Status: user.Status,
	}
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	TokenType        string       `json:"tokenType"`
	ExpiresIn        int          `json:"expiresIn"`
	RefreshExpiresIn int          `json:"refreshExpiresIn"`
	User             *UserSummary `json:"user,omitempty"`
}

func newTokenResponse(pair domain.TokenPair, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        domain.CeilSeconds(pair.AccessExpiresAt.Sub(now)),
		RefreshExpiresIn: domain.CeilSeconds(pair.RefreshExpiresAt.Sub(now)),
	}
}

// IdentityPayload is the public view of an authenticated request.
type IdentityPayload struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newIdentityPayload(identity domain.Identity) IdentityPayload {
	return IdentityPayload{
		Subject:   identity.Subject,
		Role:      identity.Role,
		IssuedAt:  identity.IssuedAt,
		ExpiresAt: identity.ExpiresAt,
	}
}

// SessionResponse reports whether the caller presented a valid access token.
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	Identity      *IdentityPayload `json:"identity,omitempty"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}
