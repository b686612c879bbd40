package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
	appLogger "github.com/danielp1234/saas-metrics-sub000/internal/infra/logger"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 4),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "saas-metrics"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "saas-metrics-auth",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receive(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-producer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, nil
}

func TestPublishSessionEvent(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	event := domain.SessionEvent{
		EventID:           "event-123",
		Type:              domain.EventSessionEvicted,
		SessionID:         "session-456",
		UserID:            "user-789",
		Role:              domain.RoleAdmin,
		DeviceFingerprint: "fp-1",
		Reason:            "session_limit",
		At:                at,
	}
	if err := publisher.PublishSessionEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionEvent returned error: %v", err)
	}

	msg, envelope := receive(t, asyncProducer)
	if msg.Topic != "saas-metrics.auth.session.evicted" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != event.UserID {
		t.Fatalf("expected message keyed by user, got %q (%v)", key, err)
	}
	if got := envelope["event_id"]; got != event.EventID {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["event_type"]; got != domain.EventSessionEvicted {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["timestamp"]; got != at.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if payload["session_id"] != event.SessionID || payload["reason"] != event.Reason || payload["role"] != "ADMIN" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if metadata["service"] != "saas-metrics-auth" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}
	if _, ok := metadata["trace_id"]; ok {
		t.Fatalf("expected no trace_id without an active span")
	}
	if _, ok := metadata["request_id"]; ok {
		t.Fatalf("expected no request_id outside a request")
	}
}

func TestPublishSecurityEventCarriesRequestID(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	ctx := appLogger.ContextWithRequestID(context.Background(), "req-42")
	event := domain.SecurityEvent{
		Type:     domain.EventRateLimitBreached,
		Code:     domain.CodeRateLimitExceeded,
		Identity: "203.0.113.*",
	}
	if err := publisher.PublishSecurityEvent(ctx, event); err != nil {
		t.Fatalf("PublishSecurityEvent returned error: %v", err)
	}

	_, envelope := receive(t, asyncProducer)
	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if metadata["request_id"] != "req-42" {
		t.Fatalf("expected request_id req-42 in metadata, got %v", metadata)
	}
}

func TestPublishKeyRotatedCarriesNoKeyMaterial(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	err := publisher.PublishKeyRotated(context.Background(), domain.KeyRotatedEvent{
		NewVersion:     4,
		PurgedVersions: []int{1},
	})
	if err != nil {
		t.Fatalf("PublishKeyRotated returned error: %v", err)
	}

	msg, envelope := receive(t, asyncProducer)
	if msg.Key != nil {
		t.Fatalf("expected unkeyed message")
	}
	if envelope["event_id"] == "" {
		t.Fatalf("expected generated event id")
	}
	payload := envelope["payload"].(map[string]any)
	if len(payload) != 2 || payload["new_version"].(float64) != 4 {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishRespectsCancelledContext(t *testing.T) {
	asyncProducer := &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage),
		errors: make(chan *sarama.ProducerError, 1),
	}
	producer := newProducer(asyncProducer, config.KafkaSettings{}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })
	publisher := NewEventPublisher(producer, config.AppSettings{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := publisher.PublishSecurityEvent(ctx, domain.SecurityEvent{Type: domain.EventTamperDetected, Code: domain.CodeAuthenticationTagMismatch})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTopicName(t *testing.T) {
	cases := map[string]struct{ prefix, event, want string }{
		"no prefix":       {"", "auth.token.revoked", "auth.token.revoked"},
		"prefixed":        {"saas-metrics", "auth.token.revoked", "saas-metrics.auth.token.revoked"},
		"already present": {"saas-metrics", "saas-metrics.auth.token.revoked", "saas-metrics.auth.token.revoked"},
	}
	for name, tc := range cases {
		if got := topicName(tc.prefix, tc.event); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, got)
		}
	}
}
