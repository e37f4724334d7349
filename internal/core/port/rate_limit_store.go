package port

import (
	"context"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

// RateLimitStore consumes points from a tier counter atomically.
type RateLimitStore interface {
	Consume(ctx context.Context, tier domain.RateLimitTier, key string, points int) (domain.RateLimitDecision, error)
	// Reset clears the window counter for key without lifting an active lockout.
	Reset(ctx context.Context, tier domain.RateLimitTier, key string) error
}
