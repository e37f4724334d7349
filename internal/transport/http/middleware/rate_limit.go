package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	appLogger "github.com/arklim/marketplace-auth/internal/infra/logger"
	"github.com/arklim/marketplace-auth/internal/usecase"
)

// LoginGuard consumes rate limit points before credentials are checked.
type LoginGuard interface {
	CheckLogin(ctx context.Context, attempt usecase.LoginAttempt) error
	CheckRefresh(ctx context.Context, clientIP string) error
}

// loginIdentity is the subset of the login body the limiter keys on.
type loginIdentity struct {
	Email string `json:"email"`
}

// LoginRateLimit throttles login attempts by address, claimed identity and
// their combination. The body is cached so the handler can bind it again.
func LoginRateLimit(guard LoginGuard, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if guard == nil {
			c.Next()
			return
		}

		var body loginIdentity
		// A malformed body is still throttled by address; the handler reports the validation error.
		_ = c.ShouldBindBodyWith(&body, binding.JSON)

		attempt := usecase.LoginAttempt{
			ClientIP: c.ClientIP(),
			Identity: body.Email,
		}

		if err := guard.CheckLogin(c.Request.Context(), attempt); err != nil {
			abortRateLimitError(c, log, err)
			return
		}

		c.Next()
	}
}

// RefreshRateLimit throttles refresh rotation per client address.
func RefreshRateLimit(guard LoginGuard, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if guard == nil {
			c.Next()
			return
		}

		if err := guard.CheckRefresh(c.Request.Context(), c.ClientIP()); err != nil {
			abortRateLimitError(c, log, err)
			return
		}

		c.Next()
	}
}

func abortRateLimitError(c *gin.Context, log *zap.Logger, err error) {
	var rlErr *domain.RateLimitError
	switch {
	case errors.As(err, &rlErr):
		AbortRateLimited(c, rlErr)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.Abort()
	case errors.Is(err, domain.ErrStoreUnavailable):
		appLogger.WithContext(c.Request.Context(), log).Error("rate limit store unavailable", zap.Error(err))
		AbortWithError(c, http.StatusServiceUnavailable, CodeStoreUnavailable, "service temporarily unavailable")
	default:
		appLogger.WithContext(c.Request.Context(), log).Error("rate limit check failed", zap.Error(err))
		AbortWithError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
