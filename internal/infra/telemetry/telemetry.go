package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Login outcomes recorded by AuthMetrics.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// RegisterCollector registers c, reusing an identical collector that is
// already registered.
func RegisterCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// AuthMetrics holds the security-core counters. A nil *AuthMetrics is a no-op.
type AuthMetrics struct {
	LoginAttempts       *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	TokenRevocations    *prometheus.CounterVec
	StoreErrors         *prometheus.CounterVec
	LoginDuration       prometheus.Histogram
	RevocationSyncLag   prometheus.Histogram
}

// NewAuthMetrics registers the auth collectors with reg.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	loginAttempts, err := RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	rejections, err := RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by a rate-limit tier.",
	}, []string{"tier"}))
	if err != nil {
		return nil, err
	}

	revocations, err := RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_revocations_total",
		Help:      "Tokens written to the revocation store partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	storeErrors, err := RegisterCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Shared store failures partitioned by component.",
	}, []string{"component"}))
	if err != nil {
		return nil, err
	}

	loginDuration, err := RegisterCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "login_duration_seconds",
		Help:      "Wall-clock duration of login attempts including the minimum delay floor.",
		Buckets:   []float64{0.1, 0.2, 0.25, 0.3, 0.5, 0.75, 1, 2, 5},
	}))
	if err != nil {
		return nil, err
	}

	syncLag, err := RegisterCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "revocation_sync_lag_seconds",
		Help:      "Delay between a peer revoking a token and this instance caching it.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}))
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		LoginAttempts:       loginAttempts,
		RateLimitRejections: rejections,
		TokenRevocations:    revocations,
		StoreErrors:         storeErrors,
		LoginDuration:       loginDuration,
		RevocationSyncLag:   syncLag,
	}, nil
}

func (m *AuthMetrics) IncLoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) IncRateLimitRejection(tier string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(tier).Inc()
}

func (m *AuthMetrics) IncRevocation(reason string) {
	if m == nil {
		return
	}
	m.TokenRevocations.WithLabelValues(reason).Inc()
}

func (m *AuthMetrics) IncStoreError(component string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(component).Inc()
}

func (m *AuthMetrics) ObserveLoginDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.LoginDuration.Observe(d.Seconds())
}

func (m *AuthMetrics) ObserveRevocationSyncLag(d time.Duration) {
	if m == nil {
		return
	}
	m.RevocationSyncLag.Observe(d.Seconds())
}
