package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
	"github.com/arklim/marketplace-auth/internal/infra/logger"
	"github.com/arklim/marketplace-auth/internal/infra/security"
	"github.com/arklim/marketplace-auth/internal/infra/telemetry"
)

// LoginTiers groups the tiers consulted by the limiter.
type LoginTiers struct {
	Address  domain.RateLimitTier
	Identity domain.RateLimitTier
	Combined domain.RateLimitTier
	Refresh  domain.RateLimitTier
}

// LoginAttempt identifies who is trying to authenticate.
type LoginAttempt struct {
	ClientIP string
	// Identity is the claimed email. Empty when the request carried none.
	Identity string
}

// LoginLimiter composes the address, identity and combined tiers for login
// attempts and the refresh tier for token rotation.
type LoginLimiter struct {
	store   port.RateLimitStore
	tiers   LoginTiers
	events  port.EventPublisher
	metrics *telemetry.AuthMetrics
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLoginLimiter constructs a LoginLimiter.
func NewLoginLimiter(store port.RateLimitStore, tiers LoginTiers, events port.EventPublisher, metrics *telemetry.AuthMetrics, logger *zap.Logger) *LoginLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginLimiter{
		store:   store,
		tiers:   tiers,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (l *LoginLimiter) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// WithSleep overrides how exec-evenly delays are waited out.
func (l *LoginLimiter) WithSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		l.sleep = sleep
	}
}

// CheckLogin consumes one point from the address tier, then the identity tier
// when an identity is present, then the combined tier. The first rejection
// stops evaluation and is returned as *domain.RateLimitError.
func (l *LoginLimiter) CheckLogin(ctx context.Context, attempt LoginAttempt) error {
	ip := strings.TrimSpace(attempt.ClientIP)
	if ip == "" {
		ip = "unknown"
	}
	identity := strings.TrimSpace(attempt.Identity)

	if err := l.consume(ctx, l.tiers.Address, ip, attempt); err != nil {
		return err
	}
	if identity != "" {
		if err := l.consume(ctx, l.tiers.Identity, security.IdentityKey(identity), attempt); err != nil {
			return err
		}
	}
	return l.consume(ctx, l.tiers.Combined, combinedKey(ip, identity), attempt)
}

// CheckRefresh consumes one point from the refresh tier keyed by address.
func (l *LoginLimiter) CheckRefresh(ctx context.Context, clientIP string) error {
	ip := strings.TrimSpace(clientIP)
	if ip == "" {
		ip = "unknown"
	}
	return l.consume(ctx, l.tiers.Refresh, ip, LoginAttempt{ClientIP: ip})
}

// RecordSuccess clears the identity counter after a successful login. An
// active lockout is not lifted.
func (l *LoginLimiter) RecordSuccess(ctx context.Context, identity string) {
	identity = strings.TrimSpace(identity)
	if identity == "" || !l.tiers.Identity.Enabled() {
		return
	}
	if err := l.store.Reset(ctx, l.tiers.Identity, security.IdentityKey(identity)); err != nil {
		l.metrics.IncStoreError("rate_limit")
		logger.WithContext(ctx, l.logger).Warn("failed to reset identity counter",
			zap.String("identity", logger.MaskEmail(identity)),
			zap.Error(err),
		)
	}
}

func (l *LoginLimiter) consume(ctx context.Context, tier domain.RateLimitTier, key string, attempt LoginAttempt) error {
	if !tier.Enabled() {
		return nil
	}
	log := logger.WithContext(ctx, l.logger).With(
		zap.String("tier", tier.Name),
		zap.String("client_ip", logger.MaskIP(attempt.ClientIP)),
	)

	decision, err := l.store.Consume(ctx, tier, key, 1)
	if err != nil {
		l.metrics.IncStoreError("rate_limit")
		if tier.Policy.AllowsFallback(domain.DegradationReasonRateLimitConsume) {
			log.Warn("rate limit store unavailable, allowing attempt", zap.Error(err))
			return nil
		}
		log.Error("rate limit store unavailable, rejecting attempt", zap.Error(err))
		return fmt.Errorf("%w: rate limit tier %s: %w", domain.ErrStoreUnavailable, tier.Name, err)
	}

	if !decision.Allowed {
		l.reject(ctx, log, tier, decision, attempt)
		return &domain.RateLimitError{Tier: tier.Name, RetryAfter: decision.RetryAfter}
	}

	if tier.ExecEvenly {
		if delay := EvenDelay(decision); delay > 0 {
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *LoginLimiter) reject(ctx context.Context, log *zap.Logger, tier domain.RateLimitTier, decision domain.RateLimitDecision, attempt LoginAttempt) {
	l.metrics.IncRateLimitRejection(tier.Name)
	masked := logger.MaskEmail(strings.TrimSpace(attempt.Identity))
	log.Warn("login attempt rate limited",
		zap.String("identity", masked),
		zap.Duration("retry_after", decision.RetryAfter),
	)

	if l.events == nil {
		return
	}
	event := domain.LoginRateLimitedEvent{
		Tier:       tier.Name,
		Identity:   masked,
		ClientIP:   logger.MaskIP(attempt.ClientIP),
		RetryAfter: decision.RetryAfter,
		RejectedAt: l.now(),
	}
	if err := l.events.PublishLoginRateLimited(ctx, event); err != nil {
		log.Warn("failed to publish rate limit event", zap.Error(err))
	}
}

// EvenDelay spreads the remaining points of a window evenly over the time
// left in it: msBeforeNext / (remaining + 2).
func EvenDelay(decision domain.RateLimitDecision) time.Duration {
	if !decision.Allowed || decision.RetryAfter <= 0 || decision.Remaining < 0 {
		return 0
	}
	return decision.RetryAfter / time.Duration(decision.Remaining+2)
}

func combinedKey(ip, identity string) string {
	return ip + ":" + security.IdentityKey(identity)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
