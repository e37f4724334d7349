package port

import (
	"context"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

// EventPublisher publishes security events to the message bus.
type EventPublisher interface {
	PublishTokenRevoked(ctx context.Context, event domain.TokenRevokedEvent) error
	PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error
	PublishLoginRateLimited(ctx context.Context, event domain.LoginRateLimitedEvent) error
}
