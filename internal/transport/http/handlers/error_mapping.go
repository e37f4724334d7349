package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/transport/http/middleware"
)

// ErrorCase maps an error kind to an HTTP status code and response message.
type ErrorCase struct {
	Kind    domain.ErrorKind
	Status  int
	Code    string
	Message string
}

// defaultErrorCases never echo error text so failures stay indistinguishable.
var defaultErrorCases = []ErrorCase{
	{Kind: domain.KindValidation, Status: http.StatusBadRequest, Code: middleware.CodeValidation, Message: "invalid request"},
	{Kind: domain.KindAuthenticationFailed, Status: http.StatusUnauthorized, Code: middleware.CodeAuthenticationFailed, Message: "authentication failed"},
	{Kind: domain.KindStoreUnavailable, Status: http.StatusServiceUnavailable, Code: middleware.CodeStoreUnavailable, Message: "service temporarily unavailable"},
	{Kind: domain.KindConfiguration, Status: http.StatusInternalServerError, Code: middleware.CodeInternal, Message: "internal server error"},
}

// RespondWithMappedError resolves err against cases by kind or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) {
		middleware.AbortRateLimited(c, rlErr)
		return
	}

	kind := domain.KindOf(err)
	for _, cs := range cases {
		if cs.Kind == kind && kind != domain.KindUnknown {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Code, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, middleware.CodeInternal, fallbackMessage))
}

// RespondWithError applies the default kind table.
func RespondWithError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, defaultErrorCases, http.StatusInternalServerError, "internal server error")
}
