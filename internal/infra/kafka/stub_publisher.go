package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no
// brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now()
	}

	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishTokenRevoked logs auth.token.revoked events.
func (p *StubPublisher) PublishTokenRevoked(_ context.Context, event domain.TokenRevokedEvent) error {
	p.logEvent(EventTokenRevoked, event.RevokedAt,
		zap.String("jti", event.JTI),
		zap.String("subject_id", event.SubjectID),
		zap.String("token_type", string(event.TokenType)),
		zap.String("reason", event.Reason),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishLoginFailed logs auth.login.failed events.
func (p *StubPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	p.logEvent(EventLoginFailed, event.AttemptAt,
		zap.String("identity", event.Identity),
		zap.String("client_ip", event.ClientIP),
		zap.String("reason", event.Reason),
	)
	return nil
}

// PublishLoginRateLimited logs auth.login.rate_limited events.
func (p *StubPublisher) PublishLoginRateLimited(_ context.Context, event domain.LoginRateLimitedEvent) error {
	p.logEvent(EventLoginRateLimited, event.RejectedAt,
		zap.String("tier", event.Tier),
		zap.String("identity", event.Identity),
		zap.String("client_ip", event.ClientIP),
		zap.Duration("retry_after", event.RetryAfter),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
