package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
	"github.com/arklim/marketplace-auth/internal/infra/logger"
	"github.com/arklim/marketplace-auth/internal/infra/security"
	"github.com/arklim/marketplace-auth/internal/infra/telemetry"
	"github.com/arklim/marketplace-auth/internal/repository"
)

var (
	// ErrInvalidCredentials covers an unknown account, a wrong password and an
	// account that may not sign in. Callers cannot tell these apart.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrAuthenticationFailed)
	// ErrSubjectUnavailable indicates a token whose subject no longer exists or is inactive.
	ErrSubjectUnavailable = fmt.Errorf("%w: subject unavailable", domain.ErrAuthenticationFailed)
)

const tracerName = "github.com/arklim/marketplace-auth/internal/usecase"

// LoginInput carries a login attempt. RequestStart anchors the minimum delay
// floor and defaults to the time Login is entered.
type LoginInput struct {
	Email        string
	Password     string
	ClientIP     string
	RequestStart time.Time
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	User   domain.User
	Tokens domain.TokenPair
}

// AuthServiceDeps lists the collaborators of AuthService.
type AuthServiceDeps struct {
	Users         port.UserRepository
	Tokens        *security.TokenManager
	Verifier      *security.CredentialVerifier
	Revocations   *RevocationService
	Limiter       *LoginLimiter
	Events        port.EventPublisher
	Metrics       *telemetry.AuthMetrics
	Tracer        trace.Tracer
	Logger        *zap.Logger
	MinLoginDelay time.Duration
}

// AuthService coordinates login, refresh rotation, logout and access token validation.
type AuthService struct {
	users       port.UserRepository
	tokens      *security.TokenManager
	verifier    *security.CredentialVerifier
	revocations *RevocationService
	limiter     *LoginLimiter
	events      port.EventPublisher
	metrics     *telemetry.AuthMetrics
	tracer      trace.Tracer
	logger      *zap.Logger
	minDelay    time.Duration
	now         func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthServiceDeps) (*AuthService, error) {
	switch {
	case deps.Users == nil:
		return nil, fmt.Errorf("%w: user repository is required", domain.ErrConfiguration)
	case deps.Tokens == nil:
		return nil, fmt.Errorf("%w: token manager is required", domain.ErrConfiguration)
	case deps.Verifier == nil:
		return nil, fmt.Errorf("%w: credential verifier is required", domain.ErrConfiguration)
	case deps.Revocations == nil:
		return nil, fmt.Errorf("%w: revocation service is required", domain.ErrConfiguration)
	case deps.MinLoginDelay < 0:
		return nil, fmt.Errorf("%w: minimum login delay must not be negative", domain.ErrConfiguration)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}

	return &AuthService{
		users:       deps.Users,
		tokens:      deps.Tokens,
		verifier:    deps.Verifier,
		revocations: deps.Revocations,
		limiter:     deps.Limiter,
		events:      deps.Events,
		metrics:     deps.Metrics,
		tracer:      tracer,
		logger:      log,
		minDelay:    deps.MinLoginDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login verifies credentials and issues a token pair. Rate limiting happens
// before Login is called. Every credential failure returns
// ErrInvalidCredentials no sooner than the minimum delay after RequestStart.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := in.RequestStart
	if start.IsZero() {
		start = s.now()
	}

	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", domain.ErrValidation)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.verifier.EnforceFloor(ctx, start, s.minDelay)
		s.metrics.IncLoginAttempt(telemetry.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	var storedHash string
	if user != nil {
		storedHash = user.PasswordHash
	}

	matched := s.verifier.TimedVerify(ctx, in.Password, storedHash, start, s.minDelay)
	switch {
	case !matched || user == nil:
		s.failLogin(ctx, span, in, start, "invalid_credentials")
		return nil, ErrInvalidCredentials
	case !user.CanAuthenticate():
		s.failLogin(ctx, span, in, start, "account_inactive")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID, user.EffectiveRole(), nil)
	if err != nil {
		s.metrics.IncLoginAttempt(telemetry.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	if s.limiter != nil {
		s.limiter.RecordSuccess(ctx, email)
	}

	s.metrics.IncLoginAttempt(telemetry.OutcomeSuccess)
	s.metrics.ObserveLoginDuration(s.now().Sub(start))
	span.SetAttributes(attribute.String("auth.outcome", telemetry.OutcomeSuccess))

	logger.WithContext(ctx, s.logger).Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("client_ip", logger.MaskIP(in.ClientIP)),
	)

	sanitized := *user
	sanitized.PasswordHash = ""
	return &LoginResult{User: sanitized, Tokens: pair}, nil
}

func (s *AuthService) failLogin(ctx context.Context, span trace.Span, in LoginInput, start time.Time, reason string) {
	s.metrics.IncLoginAttempt(telemetry.OutcomeFailure)
	s.metrics.ObserveLoginDuration(s.now().Sub(start))
	span.SetAttributes(attribute.String("auth.outcome", telemetry.OutcomeFailure))

	maskedEmail := logger.MaskEmail(strings.TrimSpace(in.Email))
	maskedIP := logger.MaskIP(in.ClientIP)
	logger.WithContext(ctx, s.logger).Warn("login failed",
		zap.String("identity", maskedEmail),
		zap.String("client_ip", maskedIP),
		zap.String("reason", reason),
	)

	if s.events == nil {
		return
	}
	event := domain.LoginFailedEvent{
		Identity:  maskedEmail,
		ClientIP:  maskedIP,
		Reason:    reason,
		AttemptAt: start,
	}
	if err := s.events.PublishLoginFailed(ctx, event); err != nil {
		s.logger.Warn("failed to publish login failed event", zap.Error(err))
	}
}

// Refresh exchanges a refresh token for a new pair. The submitted token is
// consumed atomically so it can be used at most once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	claims, err := s.tokens.Verify(refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		span.SetStatus(codes.Error, "refresh token rejected")
		return domain.TokenPair{}, err
	}
	span.SetAttributes(attribute.String("auth.jti", claims.TokenID()))

	revoked, err := s.revocations.IsRevoked(ctx, refreshToken, claims)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	if revoked {
		logger.WithContext(ctx, s.logger).Warn("revoked refresh token presented",
			zap.String("jti", claims.TokenID()),
			zap.String("subject", claims.Subject),
		)
		return domain.TokenPair{}, ErrTokenRevoked
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.TokenPair{}, ErrSubjectUnavailable
		}
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanAuthenticate() {
		return domain.TokenPair{}, ErrSubjectUnavailable
	}

	if err := s.revocations.ConsumeRefresh(ctx, refreshToken, claims); err != nil {
		span.SetStatus(codes.Error, "refresh token not consumed")
		return domain.TokenPair{}, err
	}

	pair, err := s.tokens.IssuePair(user.ID, user.EffectiveRole(), nil)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return pair, nil
}

// Logout revokes the presented access token and, when supplied, a refresh
// token belonging to the same subject.
func (s *AuthService) Logout(ctx context.Context, accessToken string, accessClaims *domain.SessionClaims, refreshToken string) error {
	if accessClaims == nil {
		return fmt.Errorf("%w: access claims are required", domain.ErrValidation)
	}

	if _, err := s.revocations.RevokeClaims(ctx, accessToken, accessClaims, domain.RevocationReasonLogout); err != nil {
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	refreshClaims, err := s.tokens.Verify(refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil
		}
		return err
	}
	if refreshClaims.Subject != accessClaims.Subject {
		return fmt.Errorf("%w: refresh token belongs to another subject", domain.ErrValidation)
	}
	if _, err := s.revocations.RevokeClaims(ctx, refreshToken, refreshClaims, domain.RevocationReasonLogout); err != nil {
		return err
	}
	return nil
}

// ValidateAccessToken verifies signature, expiry and type, then consults the
// revocation store.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*domain.SessionClaims, error) {
	claims, err := s.tokens.Verify(token, domain.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, token, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		logger.WithContext(ctx, s.logger).Warn("revoked access token presented",
			zap.String("jti", claims.TokenID()),
			zap.String("subject", claims.Subject),
		)
		return nil, ErrTokenRevoked
	}
	return claims, nil
}
