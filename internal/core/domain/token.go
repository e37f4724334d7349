package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether the value names a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// SessionClaims is the signed claim set carried by every session token.
// Tokens are never persisted; a token is reconstructed from these claims.
type SessionClaims struct {
	Type  TokenType      `json:"type"`
	Role  string         `json:"role,omitempty"`
	Extra map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (c *SessionClaims) TokenID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// IssuedAtTime returns the iat claim or the zero time.
func (c *SessionClaims) IssuedAtTime() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns the exp claim or the zero time.
func (c *SessionClaims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// RemainingLifetime is the time left before the token expires, never negative.
func (c *SessionClaims) RemainingLifetime(now time.Time) time.Duration {
	exp := c.ExpiresAtTime()
	if exp.IsZero() {
		return 0
	}
	remaining := exp.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Identity is attached to an authenticated request for downstream authorization.
type Identity struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	TokenID   string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IdentityFromClaims projects verified claims onto a request identity.
func IdentityFromClaims(claims *SessionClaims) Identity {
	if claims == nil {
		return Identity{}
	}
	return Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAtTime(),
		ExpiresAt: claims.ExpiresAtTime(),
	}
}

// TokenPair is the result of a login or a refresh rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
