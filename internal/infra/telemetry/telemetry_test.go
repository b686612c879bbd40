package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthMetricsRecordsObservations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewAuthMetrics(registry)
	if err != nil {
		t.Fatalf("NewAuthMetrics returned error: %v", err)
	}

	metrics.ObserveLogin("success")
	metrics.ObserveLogin("success")
	metrics.ObserveLogin("RATE_LIMIT_EXCEEDED")
	metrics.IncSessionsEvicted(2)
	metrics.IncSessionsEvicted(0)
	metrics.IncTokensRevoked("logout")
	metrics.IncTamper("AUTHENTICATION_TAG_MISMATCH")

	if got := testutil.ToFloat64(metrics.Logins.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful logins, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.Logins.WithLabelValues("RATE_LIMIT_EXCEEDED")); got != 1 {
		t.Fatalf("expected 1 limited login, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsEvicted); got != 2 {
		t.Fatalf("expected 2 evictions, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.TokensRevoked.WithLabelValues("logout")); got != 1 {
		t.Fatalf("expected 1 revocation, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.TamperDetected.WithLabelValues("AUTHENTICATION_TAG_MISMATCH")); got != 1 {
		t.Fatalf("expected 1 tamper event, got %f", got)
	}
}

func TestAuthMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewAuthMetrics(registry)
	if err != nil {
		t.Fatalf("NewAuthMetrics returned error: %v", err)
	}
	second, err := NewAuthMetrics(registry)
	if err != nil {
		t.Fatalf("second NewAuthMetrics returned error: %v", err)
	}

	first.IncRateLimited("login")
	if got := testutil.ToFloat64(second.RateLimited.WithLabelValues("login")); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}
