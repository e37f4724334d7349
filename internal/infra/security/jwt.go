package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

// Token verification failures. Callers branch on these with errors.Is.
var (
	ErrTokenMalformed        = fmt.Errorf("%w: token malformed", domain.ErrValidation)
	ErrTokenSignatureInvalid = fmt.Errorf("%w: token signature invalid", domain.ErrAuthenticationFailed)
	ErrTokenExpired          = fmt.Errorf("%w: token expired", domain.ErrAuthenticationFailed)
	ErrTokenNotYetValid      = fmt.Errorf("%w: token not yet valid", domain.ErrAuthenticationFailed)
	ErrTokenWrongType        = fmt.Errorf("%w: unexpected token type", domain.ErrAuthenticationFailed)
	ErrTokenInvalidClaims    = fmt.Errorf("%w: token claims invalid", domain.ErrAuthenticationFailed)
)

var signingMethod = jwt.SigningMethodHS256

// TokenConfig holds the signing secrets and lifetimes for session tokens.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Leeway tolerates clock skew on exp/nbf/iat checks.
	Leeway time.Duration
}

// TokenManager issues and verifies HS256 session tokens. It performs no I/O.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenClock overrides the clock used for iat/exp and validation.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager refuses to build a manager from an unsafe configuration.
func NewTokenManager(cfg TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	switch {
	case strings.TrimSpace(cfg.AccessSecret) == "":
		return nil, fmt.Errorf("%w: access token secret is required", domain.ErrConfiguration)
	case strings.TrimSpace(cfg.RefreshSecret) == "":
		return nil, fmt.Errorf("%w: refresh token secret is required", domain.ErrConfiguration)
	case cfg.AccessSecret == cfg.RefreshSecret:
		return nil, fmt.Errorf("%w: refresh token secret must differ from access token secret", domain.ErrConfiguration)
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, fmt.Errorf("%w: token lifetimes must be positive", domain.ErrConfiguration)
	case cfg.AccessTTL >= cfg.RefreshTTL:
		return nil, fmt.Errorf("%w: access token lifetime must be shorter than refresh token lifetime", domain.ErrConfiguration)
	case cfg.Leeway < 0:
		return nil, fmt.Errorf("%w: token leeway must not be negative", domain.ErrConfiguration)
	}

	m := &TokenManager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *TokenManager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// IssueAccess signs a short-lived access token for subject.
func (m *TokenManager) IssueAccess(subject, role string, extra map[string]any) (string, *domain.SessionClaims, error) {
	if role == "" {
		role = domain.RoleUser
	}
	claims, err := m.newClaims(subject, domain.TokenTypeAccess, m.cfg.AccessTTL)
	if err != nil {
		return "", nil, err
	}
	claims.Role = role
	if len(extra) > 0 {
		claims.Extra = make(map[string]any, len(extra))
		for k, v := range extra {
			claims.Extra[k] = v
		}
	}

	token, err := m.sign(claims, m.cfg.AccessSecret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// IssueRefresh signs a long-lived refresh token for subject with the refresh secret.
func (m *TokenManager) IssueRefresh(subject string) (string, *domain.SessionClaims, error) {
	claims, err := m.newClaims(subject, domain.TokenTypeRefresh, m.cfg.RefreshTTL)
	if err != nil {
		return "", nil, err
	}

	token, err := m.sign(claims, m.cfg.RefreshSecret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// IssuePair issues a fresh access and refresh token for subject.
func (m *TokenManager) IssuePair(subject, role string, extra map[string]any) (domain.TokenPair, error) {
	access, accessClaims, err := m.IssueAccess(subject, role, extra)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, refreshClaims, err := m.IssueRefresh(subject)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAtTime(),
		RefreshExpiresAt: refreshClaims.ExpiresAtTime(),
	}, nil
}

// Verify checks signature, expiry and type. It has no side effects, so
// verifying the same token twice yields the same claims.
func (m *TokenManager) Verify(token string, expected domain.TokenType) (*domain.SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	if !expected.Valid() {
		return nil, fmt.Errorf("%w: unknown token type %q", domain.ErrValidation, expected)
	}

	claims := &domain.SessionClaims{}
	_, err := m.parser().ParseWithClaims(token, claims, m.keyFunc(m.secretFor(expected)))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) && m.signedWithOther(token, expected) {
			return nil, ErrTokenWrongType
		}
		return nil, classifyJWTError(err)
	}

	if claims.Type != expected {
		return nil, ErrTokenWrongType
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalidClaims)
	}
	return claims, nil
}

// Decode extracts claims without checking the signature or expiry.
func (m *TokenManager) Decode(token string) (*domain.SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	claims := &domain.SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return claims, nil
}

func (m *TokenManager) newClaims(subject string, typ domain.TokenType, ttl time.Duration) (*domain.SessionClaims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: token subject is required", domain.ErrValidation)
	}

	now := m.now().UTC()
	return &domain.SessionClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}, nil
}

func (m *TokenManager) sign(claims *domain.SessionClaims, secret string) (string, error) {
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

func (m *TokenManager) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.cfg.Leeway),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	return jwt.NewParser(opts...)
}

func (m *TokenManager) keyFunc(secret string) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}
}

func (m *TokenManager) secretFor(typ domain.TokenType) string {
	if typ == domain.TokenTypeRefresh {
		return m.cfg.RefreshSecret
	}
	return m.cfg.AccessSecret
}

// signedWithOther reports whether token carries a valid signature under the
// secret of the other token type.
func (m *TokenManager) signedWithOther(token string, expected domain.TokenType) bool {
	other := domain.TokenTypeRefresh
	if expected == domain.TokenTypeRefresh {
		other = domain.TokenTypeAccess
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, &domain.SessionClaims{}, m.keyFunc(m.secretFor(other)))
	return err == nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalidClaims, err)
	}
}
