package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// UserIDKey is the context key for authenticated user ID
	UserIDKey = "user_id"

	identityKey     = "identity"
	claimsKey       = "claims"
	accessTokenKey  = "access_token"
	requestCtxKey   = "request_context"
	requestStartKey = "request_start"
)

// RequestContext holds request-scoped information
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
	StartedAt time.Time
}

// EnrichContext adds trace ID and request context to each request. When a
// span is active its trace id is reused.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()

		traceID := c.GetHeader(TraceIDHeader)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Set(requestStartKey, startedAt)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestCtxKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			StartedAt: startedAt,
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestStart returns when the request entered the middleware chain, or
// the zero time when EnrichContext did not run.
func GetRequestStart(c *gin.Context) time.Time {
	if v, exists := c.Get(requestStartKey); exists {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// GetRequestContext retrieves the full request context
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestCtxKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}

func setAuthenticated(c *gin.Context, token string, claims *domain.SessionClaims) {
	identity := domain.IdentityFromClaims(claims)
	c.Set(identityKey, identity)
	c.Set(claimsKey, claims)
	c.Set(accessTokenKey, token)
	c.Set(UserIDKey, identity.Subject)

	if reqCtx := GetRequestContext(c); reqCtx != nil {
		reqCtx.UserID = identity.Subject
	}
}

// GetIdentity returns the identity attached by RequireAuth or OptionalAuth.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	if v, exists := c.Get(identityKey); exists {
		if identity, ok := v.(domain.Identity); ok {
			return identity, true
		}
	}
	return domain.Identity{}, false
}

// GetClaims returns the verified access token claims.
func GetClaims(c *gin.Context) *domain.SessionClaims {
	if v, exists := c.Get(claimsKey); exists {
		if claims, ok := v.(*domain.SessionClaims); ok {
			return claims
		}
	}
	return nil
}

// GetAccessToken returns the raw bearer token of an authenticated request.
func GetAccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
