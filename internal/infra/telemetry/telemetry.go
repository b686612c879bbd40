package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

const namespace = "saas_metrics_auth"

// AuthMetrics exposes Prometheus collectors for the authentication core.
type AuthMetrics struct {
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	Verifications   *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	SessionsEvicted prometheus.Counter
	TokensRevoked   *prometheus.CounterVec
	KeyRotations    *prometheus.CounterVec
	TamperDetected  *prometheus.CounterVec
}

// NewAuthMetrics registers the auth collectors with reg, reusing collectors that are already registered.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &AuthMetrics{}
	var err error
	if m.Logins, err = registerCounterVec(reg, "logins_total", "Sign-in attempts partitioned by outcome.", "outcome"); err != nil {
		return nil, err
	}
	if m.Refreshes, err = registerCounterVec(reg, "refreshes_total", "Token refresh attempts partitioned by outcome.", "outcome"); err != nil {
		return nil, err
	}
	if m.Verifications, err = registerCounterVec(reg, "verifications_total", "Access token verifications partitioned by outcome.", "outcome"); err != nil {
		return nil, err
	}
	if m.RateLimited, err = registerCounterVec(reg, "rate_limited_total", "Requests rejected by the rate limiter partitioned by scope.", "scope"); err != nil {
		return nil, err
	}
	if m.TokensRevoked, err = registerCounterVec(reg, "tokens_revoked_total", "Revoked token identifiers partitioned by reason.", "reason"); err != nil {
		return nil, err
	}
	if m.KeyRotations, err = registerCounterVec(reg, "key_rotations_total", "Encryption key rotations partitioned by outcome.", "outcome"); err != nil {
		return nil, err
	}
	if m.TamperDetected, err = registerCounterVec(reg, "tamper_detected_total", "Credentials rejected as tampered partitioned by error code.", "code"); err != nil {
		return nil, err
	}

	evicted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Sessions evicted to enforce the concurrent session limit.",
	})
	if err := reg.Register(evicted); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register sessions_evicted_total: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing sessions_evicted_total collector has unexpected type %T", already.ExistingCollector)
		}
		evicted = existing
	}
	m.SessionsEvicted = evicted

	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, name, help, label string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{label})

	if err := reg.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", name, already.ExistingCollector)
		}
		return existing, nil
	}
	return vec, nil
}

func (m *AuthMetrics) ObserveLogin(outcome string)   { m.Logins.WithLabelValues(outcome).Inc() }
func (m *AuthMetrics) ObserveRefresh(outcome string) { m.Refreshes.WithLabelValues(outcome).Inc() }
func (m *AuthMetrics) ObserveVerify(outcome string)  { m.Verifications.WithLabelValues(outcome).Inc() }
func (m *AuthMetrics) IncRateLimited(scope string)   { m.RateLimited.WithLabelValues(scope).Inc() }
func (m *AuthMetrics) IncTokensRevoked(reason string) {
	m.TokensRevoked.WithLabelValues(reason).Inc()
}
func (m *AuthMetrics) IncKeyRotation(outcome string) { m.KeyRotations.WithLabelValues(outcome).Inc() }
func (m *AuthMetrics) IncTamper(code string)         { m.TamperDetected.WithLabelValues(code).Inc() }

// IncSessionsEvicted adds count evictions; non-positive counts are ignored.
func (m *AuthMetrics) IncSessionsEvicted(count int) {
	if count > 0 {
		m.SessionsEvicted.Add(float64(count))
	}
}

var _ port.AuthMetrics = (*AuthMetrics)(nil)
