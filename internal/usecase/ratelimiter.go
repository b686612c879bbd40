package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

// RateLimitScope names an operation guarded by its own counter.
type RateLimitScope string

const (
	RateLimitScopeLogin   RateLimitScope = "login"
	RateLimitScopeRefresh RateLimitScope = "refresh"
)

const (
	defaultRateLimitWindow = 15 * time.Minute
	defaultLoginAttempts   = 5
	defaultRefreshAttempts = 20
	defaultStoreTimeout    = 2 * time.Second
)

// RateLimitPolicy configures the fixed windows.
type RateLimitPolicy struct {
	Window       time.Duration
	Limits       map[RateLimitScope]int
	StoreTimeout time.Duration
	Degradation  domain.DegradationPolicy
}

// DefaultRateLimitPolicy returns a 15 minute window allowing 5 logins and 20 refreshes.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Window: defaultRateLimitWindow,
		Limits: map[RateLimitScope]int{
			RateLimitScopeLogin:   defaultLoginAttempts,
			RateLimitScopeRefresh: defaultRefreshAttempts,
		},
		StoreTimeout: defaultStoreTimeout,
		Degradation:  domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict),
	}
}

// RateLimiter counts attempts per scope and identity in fixed windows.
// The counter lives in the shared store, so the limit holds across instances.
// Bursts straddling a window boundary can reach twice the limit; that approximation is accepted.
type RateLimiter struct {
	store     port.RateLimitStore
	policy    RateLimitPolicy
	logger    *zap.Logger
	metrics   port.AuthMetrics
	publisher port.EventPublisher
	now       func() time.Time
}

// NewRateLimiter constructs a limiter over store.
func NewRateLimiter(store port.RateLimitStore, policy RateLimitPolicy, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Window <= 0 {
		policy.Window = defaultRateLimitWindow
	}
	if policy.StoreTimeout <= 0 {
		policy.StoreTimeout = defaultStoreTimeout
	}
	if policy.Limits == nil {
		policy.Limits = DefaultRateLimitPolicy().Limits
	}
	return &RateLimiter{
		store:   store,
		policy:  policy,
		logger:  log,
		metrics: port.NopAuthMetrics{},
		now:     time.Now,
	}
}

// WithMetrics attaches metric hooks.
func (l *RateLimiter) WithMetrics(metrics port.AuthMetrics) *RateLimiter {
	if metrics != nil {
		l.metrics = metrics
	}
	return l
}

// WithPublisher attaches the audit publisher used for breach events.
func (l *RateLimiter) WithPublisher(publisher port.EventPublisher) *RateLimiter {
	l.publisher = publisher
	return l
}

// WithClock overrides the clock stamped on audit events.
func (l *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Limit returns the configured maximum for scope.
func (l *RateLimiter) Limit(scope RateLimitScope) int {
	return l.policy.Limits[scope]
}

// Consume records one attempt for identity and fails with RATE_LIMIT_EXCEEDED once the window's maximum is passed.
func (l *RateLimiter) Consume(ctx context.Context, scope RateLimitScope, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.ErrValidation.WithMessage("rate limit identity is required")
	}
	limit := l.policy.Limits[scope]
	if limit <= 0 {
		return domain.ErrValidation.WithMessage("unknown rate limit scope %q", scope)
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.policy.StoreTimeout)
	defer cancel()

	count, resetIn, err := l.store.Increment(storeCtx, fmt.Sprintf("%s:%s", scope, identity), l.policy.Window)
	if err != nil {
		if l.policy.Degradation.AllowsFallback() {
			l.logger.Warn("rate limit store unavailable, allowing attempt",
				zap.String("scope", string(scope)),
				zap.String("identity", logger.MaskString(identity)),
				zap.Error(err),
			)
			return nil
		}
		l.logger.Error("rate limit store unavailable",
			zap.String("scope", string(scope)),
			zap.Error(err),
		)
		return translateStoreError("rate limit store", err)
	}

	if count <= int64(limit) {
		return nil
	}

	l.metrics.IncRateLimited(string(scope))
	l.logger.Warn("rate limit exceeded",
		zap.String("scope", string(scope)),
		zap.String("identity", logger.MaskString(identity)),
		zap.Int64("count", count),
		zap.Int("limit", limit),
		zap.Duration("retry_after", resetIn),
	)
	l.publishBreach(ctx, scope, identity, count)

	return domain.ErrRateLimitExceeded.
		WithMessage("too many %s attempts", scope).
		WithRetryAfter(resetIn)
}

func (l *RateLimiter) publishBreach(ctx context.Context, scope RateLimitScope, identity string, count int64) {
	if l.publisher == nil {
		return
	}
	event := domain.SecurityEvent{
		EventID:  uuid.NewString(),
		Type:     domain.EventRateLimitBreached,
		Code:     domain.CodeRateLimitExceeded,
		Identity: logger.MaskString(identity),
		Detail:   fmt.Sprintf("scope=%s count=%d", scope, count),
		At:       l.now().UTC(),
	}
	if err := l.publisher.PublishSecurityEvent(ctx, event); err != nil {
		l.logger.Warn("publish rate limit event failed", zap.Error(err))
	}
}
