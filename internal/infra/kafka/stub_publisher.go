package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	appLogger "github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
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

func (p *StubPublisher) logEvent(ctx context.Context, eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	appLogger.WithContext(ctx, p.logger).Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishSessionEvent logs session lifecycle events.
func (p *StubPublisher) PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error {
	p.logEvent(ctx, event.Type, event.UserID, event.At,
		zap.String("session_id", event.SessionID),
		zap.String("reason", event.Reason),
	)
	return nil
}

// PublishTokenEvent logs revocations and replay detections.
func (p *StubPublisher) PublishTokenEvent(ctx context.Context, event domain.TokenEvent) error {
	p.logEvent(ctx, event.Type, event.UserID, event.At,
		zap.String("token_id", event.TokenID),
		zap.String("reason", event.Reason),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishKeyRotated logs key rotation events.
func (p *StubPublisher) PublishKeyRotated(ctx context.Context, event domain.KeyRotatedEvent) error {
	p.logEvent(ctx, domain.EventKeyRotated, "", event.At,
		zap.Int("new_version", event.NewVersion),
		zap.Ints("purged_versions", event.PurgedVersions),
	)
	return nil
}

// PublishSecurityEvent logs tamper evidence and rate-limit breaches.
func (p *StubPublisher) PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	p.logEvent(ctx, event.Type, "", event.At,
		zap.String("code", string(event.Code)),
		zap.String("identity", event.Identity),
		zap.Int("key_version", event.KeyVersion),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
