package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
	appLogger "github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher on Kafka. Messages are keyed by user so per-user order holds.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   json.RawMessage  `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type sessionPayload struct {
	SessionID         string `json:"session_id"`
	UserID            string `json:"user_id"`
	Role              string `json:"role,omitempty"`
	IPAddress         string `json:"ip_address,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type tokenPayload struct {
	TokenID   string    `json:"token_id"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type keyRotatedPayload struct {
	NewVersion     int   `json:"new_version"`
	PurgedVersions []int `json:"purged_versions,omitempty"`
}

type securityPayload struct {
	Code       string `json:"code"`
	Identity   string `json:"identity,omitempty"`
	KeyVersion int    `json:"key_version,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}
	if requestID := appLogger.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   raw,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionEvent publishes session lifecycle events.
func (p *EventPublisher) PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error {
	return p.publish(ctx, event.EventID, event.Type, event.UserID, event.At, sessionPayload{
		SessionID:         event.SessionID,
		UserID:            event.UserID,
		Role:              string(event.Role),
		IPAddress:         event.IPAddress,
		DeviceFingerprint: event.DeviceFingerprint,
		Reason:            event.Reason,
	})
}

// PublishTokenEvent publishes revocations and replay detections.
func (p *EventPublisher) PublishTokenEvent(ctx context.Context, event domain.TokenEvent) error {
	return p.publish(ctx, event.EventID, event.Type, event.UserID, event.At, tokenPayload{
		TokenID:   event.TokenID,
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Reason:    event.Reason,
		IPAddress: event.IPAddress,
		ExpiresAt: event.ExpiresAt.UTC(),
	})
}

// PublishKeyRotated publishes key rotation events. Key material never leaves the key manager.
func (p *EventPublisher) PublishKeyRotated(ctx context.Context, event domain.KeyRotatedEvent) error {
	return p.publish(ctx, event.EventID, domain.EventKeyRotated, "", event.At, keyRotatedPayload{
		NewVersion:     event.NewVersion,
		PurgedVersions: event.PurgedVersions,
	})
}

// PublishSecurityEvent publishes tamper evidence and rate-limit breaches.
func (p *EventPublisher) PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	return p.publish(ctx, event.EventID, event.Type, "", event.At, securityPayload{
		Code:       string(event.Code),
		Identity:   event.Identity,
		KeyVersion: event.KeyVersion,
		Detail:     event.Detail,
	})
}

var _ port.EventPublisher = (*EventPublisher)(nil)
