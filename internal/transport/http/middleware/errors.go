package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

// Machine-readable response codes.
const (
	CodeOK                   = "OK"
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeValidation           = "VALIDATION_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// RateLimitTierHeader names the tier that rejected a request.
const RateLimitTierHeader = "X-RateLimit-Tier"

// ErrorResponse is the envelope used for every error the middleware writes.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
}

// NewErrorResponse creates an error response with trace ID
func NewErrorResponse(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Success: false,
		Code:    code,
		Message: message,
		TraceID: GetTraceID(c),
	}
}

// AbortWithError writes the envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, NewErrorResponse(c, code, message))
}

// AbortRateLimited writes a 429 with Retry-After in whole seconds, rounded up.
func AbortRateLimited(c *gin.Context, rlErr *domain.RateLimitError) {
	seconds := rlErr.RetryAfterSeconds()
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header(RateLimitTierHeader, rlErr.Tier)

	resp := NewErrorResponse(c, CodeRateLimited, "too many attempts, try again later")
	resp.RetryAfter = &seconds
	c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
}
