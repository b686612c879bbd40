package port

import (
	"context"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

// EventPublisher publishes audit events to the message bus.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error
	PublishTokenEvent(ctx context.Context, event domain.TokenEvent) error
	PublishKeyRotated(ctx context.Context, event domain.KeyRotatedEvent) error
	PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
}
