package security

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/marketplace-auth/internal/core/port"
)

// CredentialVerifier compares submitted secrets against stored hashes so that
// a missing account and a wrong password cost the same time.
type CredentialVerifier struct {
	hasher    port.PasswordHasher
	dummyHash string
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// VerifierOption customises a CredentialVerifier.
type VerifierOption func(*CredentialVerifier)

// WithVerifierClock overrides the clock used to measure elapsed time.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *CredentialVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVerifierSleep overrides how the latency floor is waited out.
func WithVerifierSleep(sleep func(ctx context.Context, d time.Duration)) VerifierOption {
	return func(v *CredentialVerifier) {
		if sleep != nil {
			v.sleep = sleep
		}
	}
}

// NewCredentialVerifier precomputes a dummy hash with the hasher's own
// parameters. The dummy is fixed for the lifetime of the verifier.
func NewCredentialVerifier(hasher port.PasswordHasher, logger *zap.Logger, opts ...VerifierOption) (*CredentialVerifier, error) {
	if hasher == nil {
		return nil, fmt.Errorf("credential verifier: hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	secret, err := GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("credential verifier: dummy secret: %w", err)
	}
	dummy, err := hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("credential verifier: dummy hash: %w", err)
	}

	v := &CredentialVerifier{
		hasher:    hasher,
		dummyHash: dummy,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify reports whether password matches storedHash. An empty storedHash is
// replaced by the dummy hash and the comparison still runs; the result is then
// always false.
func (v *CredentialVerifier) Verify(password, storedHash string) bool {
	target := storedHash
	if target == "" {
		target = v.dummyHash
	}

	matched, err := v.hasher.Verify(password, target)
	if err != nil {
		v.logger.Warn("stored password hash could not be decoded", zap.Error(err))
		return false
	}
	return matched && storedHash != ""
}

// TimedVerify runs Verify and then holds the caller until minDelay has passed
// since requestStart. Only ctx cancellation shortens the wait.
func (v *CredentialVerifier) TimedVerify(ctx context.Context, password, storedHash string, requestStart time.Time, minDelay time.Duration) bool {
	matched := v.Verify(password, storedHash)
	v.EnforceFloor(ctx, requestStart, minDelay)
	return matched
}

// EnforceFloor sleeps for max(0, minDelay - elapsed since requestStart).
func (v *CredentialVerifier) EnforceFloor(ctx context.Context, requestStart time.Time, minDelay time.Duration) {
	if remaining := RemainingDelay(v.now().Sub(requestStart), minDelay); remaining > 0 {
		v.sleep(ctx, remaining)
	}
}

// RemainingDelay is the part of minDelay not yet covered by elapsed.
func RemainingDelay(elapsed, minDelay time.Duration) time.Duration {
	if remaining := minDelay - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
