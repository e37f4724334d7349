package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	appLogger "github.com/arklim/marketplace-auth/internal/infra/logger"
)

const bearerPrefix = "Bearer "

// TokenValidator verifies an access token and checks it against the revocation store.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*domain.SessionClaims, error)
}

// BearerToken extracts the credential from "Authorization: Bearer <token>".
// The scheme match is case-sensitive.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func RequireAuth(validator TokenValidator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, CodeAuthRequired, "authentication required")
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			appLogger.WithContext(c.Request.Context(), log).Warn("access token rejected",
				zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			if errors.Is(err, domain.ErrStoreUnavailable) {
				AbortWithError(c, http.StatusServiceUnavailable, CodeStoreUnavailable, "service temporarily unavailable")
				return
			}
			AbortWithError(c, http.StatusUnauthorized, CodeAuthenticationFailed, "authentication failed")
			return
		}

		setAuthenticated(c, token, claims)
		c.Next()
	}
}

// OptionalAuth attaches an identity when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(validator TokenValidator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			appLogger.WithContext(c.Request.Context(), log).Debug("optional token ignored", zap.Error(err))
			c.Next()
			return
		}

		setAuthenticated(c, token, claims)
		c.Next()
	}
}

// RequireRole checks that the authenticated identity carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, CodeAuthRequired, "authentication required")
			return
		}
		if _, ok := allowed[identity.Role]; !ok {
			AbortWithError(c, http.StatusForbidden, CodeForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}
