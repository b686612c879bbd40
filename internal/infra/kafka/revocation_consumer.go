package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
	"github.com/danielp1234/saas-metrics-sub000/internal/infra/config"
)

// RevocationConsumerOptions controls lag monitoring.
type RevocationConsumerOptions struct {
	MaxEventLag time.Duration
}

// RevocationConsumer warms the local denylist from token revocation events published by any instance.
// The shared revocation set stays authoritative; a missed event only costs a store round trip.
type RevocationConsumer struct {
	cache       port.JTIDenylistCache
	logger      *zap.Logger
	maxEventLag time.Duration
	now         func() time.Time
}

// NewRevocationConsumer constructs a consumer that keeps the denylist cache current.
func NewRevocationConsumer(cache port.JTIDenylistCache, logger *zap.Logger, opts RevocationConsumerOptions) *RevocationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationConsumer{
		cache:       cache,
		logger:      logger,
		maxEventLag: opts.MaxEventLag,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes an event envelope and applies it when it carries a revocation.
func (c *RevocationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.EventType != domain.EventTokenRevoked {
		return nil
	}

	var payload tokenPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("decode token revoked payload: %w", err)
	}

	return c.HandleEvent(ctx, domain.TokenEvent{
		EventID:   envelope.EventID,
		Type:      envelope.EventType,
		TokenID:   payload.TokenID,
		SessionID: payload.SessionID,
		UserID:    payload.UserID,
		Reason:    payload.Reason,
		ExpiresAt: payload.ExpiresAt,
		At:        envelope.Timestamp,
	})
}

// HandleEvent applies the revocation to the local cache and prunes expired entries.
func (c *RevocationConsumer) HandleEvent(ctx context.Context, event domain.TokenEvent) error {
	if c.cache == nil || event.TokenID == "" {
		return nil
	}

	now := c.now()
	if !event.ExpiresAt.IsZero() && !event.ExpiresAt.After(now) {
		c.logger.Debug("skip expired revocation", zap.String("jti", event.TokenID))
		return nil
	}

	if !event.At.IsZero() {
		lag := now.Sub(event.At)
		if c.maxEventLag > 0 && lag > c.maxEventLag {
			c.logger.Warn("token revocation event lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxEventLag),
				zap.String("jti", event.TokenID),
			)
		}
	}

	if err := c.cache.AddRevocation(ctx, domain.TokenRevocation{
		TokenID:   event.TokenID,
		Reason:    event.Reason,
		ExpiresAt: event.ExpiresAt.UTC(),
	}); err != nil {
		return fmt.Errorf("cache revocation: %w", err)
	}

	if err := c.cache.Prune(ctx, now); err != nil {
		c.logger.Warn("prune denylist cache failed", zap.Error(err))
	}
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim applies every message of the claim and marks it. Undecodable messages are logged and skipped.
func (c *RevocationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("skip revocation message",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// RunRevocationConsumer joins a consumer group private to this instance so every instance sees every revocation.
// It blocks until ctx is cancelled.
func RunRevocationConsumer(ctx context.Context, cfg config.KafkaSettings, handler *RevocationConsumer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = false

	groupID := fmt.Sprintf("%s.revocations.%s", cfg.TopicPrefix, uuid.NewString())
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return fmt.Errorf("create revocation consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			logger.Warn("close revocation consumer group", zap.Error(err))
		}
	}()

	topic := topicName(cfg.TopicPrefix, domain.EventTokenRevoked)
	logger.Info("revocation consumer started", zap.String("topic", topic), zap.String("group_id", groupID))

	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warn("revocation consumer session ended", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*RevocationConsumer)(nil)
