package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/marketplace-auth/internal/infra/config"
)

func TestAuthMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewAuthMetrics(reg)
	if err != nil {
		t.Fatalf("NewAuthMetrics returned error: %v", err)
	}

	metrics.IncLoginAttempt(OutcomeFailure)
	metrics.IncLoginAttempt(OutcomeFailure)
	metrics.IncRateLimitRejection("identity")
	metrics.IncRevocation("logout")
	metrics.IncStoreError("revocation")
	metrics.ObserveLoginDuration(210 * time.Millisecond)

	if got := testutil.ToFloat64(metrics.LoginAttempts.WithLabelValues(OutcomeFailure)); got != 2 {
		t.Fatalf("expected 2 failed attempts, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RateLimitRejections.WithLabelValues("identity")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.LoginDuration); got != 1 {
		t.Fatalf("expected histogram to be collected, got %d", got)
	}
}

func TestNewAuthMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewAuthMetrics(reg)
	if err != nil {
		t.Fatalf("first NewAuthMetrics returned error: %v", err)
	}
	second, err := NewAuthMetrics(reg)
	if err != nil {
		t.Fatalf("second NewAuthMetrics returned error: %v", err)
	}

	first.IncRevocation("manual")
	if got := testutil.ToFloat64(second.TokenRevocations.WithLabelValues("manual")); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilAuthMetricsIsNoop(t *testing.T) {
	var metrics *AuthMetrics
	metrics.IncLoginAttempt(OutcomeSuccess)
	metrics.IncStoreError("rate_limit")
	metrics.ObserveLoginDuration(time.Second)
}

func TestDisabledTracerProvider(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), config.TelemetrySettings{TracingEnabled: false}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewTracerProvider returned error: %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
