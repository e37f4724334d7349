package usecase

import (
	"context"
	"errors"
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

var (
	// ErrTokenRevoked indicates a token that verifies but has been revoked.
	ErrTokenRevoked = fmt.Errorf("%w: token revoked", domain.ErrAuthenticationFailed)
	// ErrRefreshTokenReused indicates a refresh token that was already exchanged.
	ErrRefreshTokenReused = fmt.Errorf("%w: refresh token already used", domain.ErrAuthenticationFailed)
)

// TokenDecoder reads claims without verifying the signature.
type TokenDecoder interface {
	Decode(token string) (*domain.SessionClaims, error)
}

// RevocationService records revoked tokens with a TTL bounded by the token's
// remaining lifetime and answers revocation lookups under the configured
// degradation policy.
type RevocationService struct {
	store   port.RevocationStore
	decoder TokenDecoder
	policy  domain.DegradationPolicy
	events  port.EventPublisher
	metrics *telemetry.AuthMetrics
	logger  *zap.Logger
	local   *security.RevocationCache
	now     func() time.Time
}

// NewRevocationService constructs a RevocationService.
func NewRevocationService(store port.RevocationStore, decoder TokenDecoder, policy domain.DegradationPolicy, events port.EventPublisher, metrics *telemetry.AuthMetrics, logger *zap.Logger) *RevocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationService{
		store:   store,
		decoder: decoder,
		policy:  policy,
		events:  events,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RevocationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithLocalCache puts an in-process cache of revoked keys in front of the
// store. Hits are answered locally, including while the store is unreachable.
func (s *RevocationService) WithLocalCache(cache *security.RevocationCache) {
	s.local = cache
}

// Policy returns the degradation policy applied to lookups.
func (s *RevocationService) Policy() domain.DegradationPolicy {
	return s.policy
}

// Revoke decodes token without verifying its signature and records it as
// revoked. It returns false without writing when the token has already expired.
func (s *RevocationService) Revoke(ctx context.Context, token, reason string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	claims, err := s.decoder.Decode(token)
	if err != nil {
		return false, err
	}
	return s.RevokeClaims(ctx, token, claims, reason)
}

// RevokeClaims records already decoded claims as revoked. The entry TTL is
// exp - now.
func (s *RevocationService) RevokeClaims(ctx context.Context, token string, claims *domain.SessionClaims, reason string) (bool, error) {
	if claims == nil {
		return false, fmt.Errorf("%w: claims are required", domain.ErrValidation)
	}
	now := s.now()
	ttl := claims.RemainingLifetime(now)
	if ttl <= 0 {
		return false, nil
	}

	key := RevocationKey(token, claims)
	created, err := s.store.MarkRevoked(ctx, key, claims.ExpiresAtTime(), ttl)
	if err != nil {
		s.metrics.IncStoreError("revocation")
		return false, fmt.Errorf("%w: revoke token: %w", domain.ErrStoreUnavailable, err)
	}
	s.local.Add(key, claims.ExpiresAtTime())
	if created {
		s.recordRevocation(ctx, claims, reason, now)
	}
	return true, nil
}

// ConsumeRefresh marks a verified refresh token as spent. Exactly one caller
// wins for a given token; every other caller gets ErrRefreshTokenReused. A
// store failure always rejects the refresh.
func (s *RevocationService) ConsumeRefresh(ctx context.Context, token string, claims *domain.SessionClaims) error {
	if claims == nil {
		return fmt.Errorf("%w: claims are required", domain.ErrValidation)
	}
	now := s.now()
	ttl := claims.RemainingLifetime(now)
	if ttl <= 0 {
		return security.ErrTokenExpired
	}

	key := RevocationKey(token, claims)
	if s.local.Contains(key) {
		return ErrRefreshTokenReused
	}
	created, err := s.store.MarkRevoked(ctx, key, claims.ExpiresAtTime(), ttl)
	if err != nil {
		s.metrics.IncStoreError("revocation")
		logger.WithContext(ctx, s.logger).Error("revocation store unavailable, rejecting refresh",
			zap.String("jti", claims.TokenID()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: consume refresh token: %w", domain.ErrStoreUnavailable, err)
	}
	if !created {
		logger.WithContext(ctx, s.logger).Warn("refresh token replay rejected",
			zap.String("jti", claims.TokenID()),
			zap.String("subject", claims.Subject),
		)
		s.local.Add(key, claims.ExpiresAtTime())
		return ErrRefreshTokenReused
	}

	s.local.Add(key, claims.ExpiresAtTime())
	s.recordRevocation(ctx, claims, domain.RevocationReasonRefresh, now)
	return nil
}

// IsRevoked reports whether the token has been revoked. When the store cannot
// be reached a lenient policy answers false and a strict policy returns
// domain.ErrStoreUnavailable.
func (s *RevocationService) IsRevoked(ctx context.Context, token string, claims *domain.SessionClaims) (bool, error) {
	key := RevocationKey(token, claims)
	if s.local.Contains(key) {
		return true, nil
	}

	revoked, err := s.store.IsRevoked(ctx, key)
	if err == nil {
		if revoked {
			s.local.Add(key, claims.ExpiresAtTime())
		}
		return revoked, nil
	}

	s.metrics.IncStoreError("revocation")
	log := logger.WithContext(ctx, s.logger).With(zap.String("jti", claims.TokenID()), zap.Error(err))
	if s.policy.AllowsFallback(domain.DegradationReasonRevocationLookup) {
		log.Warn("revocation store unavailable, treating token as not revoked")
		return false, nil
	}
	log.Error("revocation store unavailable, rejecting token")
	return false, fmt.Errorf("%w: revocation lookup: %w", domain.ErrStoreUnavailable, err)
}

// Sweep removes entries whose recorded expiry has passed.
func (s *RevocationService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	s.local.Prune(now)
	removed, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		s.metrics.IncStoreError("revocation")
		return removed, fmt.Errorf("sweep revocations: %w", err)
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (s *RevocationService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("revocation sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Warn("revocation sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("revocation sweep removed expired entries", zap.Int("removed", removed))
			}
		}
	}
}

func (s *RevocationService) recordRevocation(ctx context.Context, claims *domain.SessionClaims, reason string, now time.Time) {
	s.metrics.IncRevocation(reason)
	logger.WithContext(ctx, s.logger).Info("token revoked",
		zap.String("jti", claims.TokenID()),
		zap.String("type", string(claims.Type)),
		zap.String("reason", reason),
	)

	if s.events == nil {
		return
	}
	event := domain.TokenRevokedEvent{
		JTI:       claims.TokenID(),
		SubjectID: claims.Subject,
		TokenType: claims.Type,
		ExpiresAt: claims.ExpiresAtTime(),
		Reason:    reason,
		RevokedAt: now,
	}
	if err := s.events.PublishTokenRevoked(ctx, event); err != nil {
		s.logger.Warn("failed to publish token revoked event", zap.String("jti", claims.TokenID()), zap.Error(err))
	}
}

// RevocationKey is the jti when present, otherwise the SHA-256 of the token.
func RevocationKey(token string, claims *domain.SessionClaims) string {
	if id := claims.TokenID(); id != "" {
		return id
	}
	return security.HashToken(token)
}
