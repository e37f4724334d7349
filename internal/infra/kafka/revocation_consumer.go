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

	"github.com/arklim/marketplace-auth/internal/infra/config"
	"github.com/arklim/marketplace-auth/internal/infra/telemetry"
)

// RevocationCache receives revoked keys learned from peers.
type RevocationCache interface {
	Add(key string, expiresAt time.Time)
}

// RevocationConsumer hydrates the local revocation cache from auth.token.revoked
// events so a token revoked on one instance is rejected locally by every other
// instance, even while the shared store is unreachable.
type RevocationConsumer struct {
	cache   RevocationCache
	metrics *telemetry.AuthMetrics
	logger  *zap.Logger
	maxLag  time.Duration
	now     func() time.Time
}

// NewRevocationConsumer constructs a RevocationConsumer. Events older than
// maxLag are still applied but logged; zero disables the warning.
func NewRevocationConsumer(cache RevocationCache, metrics *telemetry.AuthMetrics, logger *zap.Logger, maxLag time.Duration) *RevocationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationConsumer{
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		maxLag:  maxLag,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

type inboundEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type tokenRevokedPayload struct {
	JTI       string    `json:"jti"`
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// HandleMessage decodes one envelope and caches the revoked key. Messages of
// other event types are ignored.
func (c *RevocationConsumer) HandleMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return errors.New("message is nil")
	}

	var envelope inboundEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	if envelope.EventType != EventTokenRevoked {
		return nil
	}

	var payload tokenRevokedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("decode token revoked payload: %w", err)
	}
	if payload.JTI == "" {
		return nil
	}

	now := c.now()
	if !payload.ExpiresAt.After(now) {
		c.logger.Debug("skip expired revocation", zap.String("jti", payload.JTI))
		return nil
	}

	if !payload.RevokedAt.IsZero() {
		lag := now.Sub(payload.RevokedAt)
		if lag < 0 {
			lag = 0
		}
		c.metrics.ObserveRevocationSyncLag(lag)
		if c.maxLag > 0 && lag > c.maxLag {
			c.logger.Warn("token revocation event lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxLag),
				zap.String("jti", payload.JTI),
			)
		}
	}

	c.cache.Add(payload.JTI, payload.ExpiresAt.UTC())
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim applies every message of the claim. Undecodable messages are
// logged and skipped so one bad record cannot stall the partition.
func (c *RevocationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("skip revocation event",
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

// RevocationSync runs a consumer group subscribed to the revocation topic.
type RevocationSync struct {
	group   sarama.ConsumerGroup
	handler sarama.ConsumerGroupHandler
	topic   string
	logger  *zap.Logger
}

// NewRevocationSync joins a consumer group unique to this instance, so every
// instance receives every revocation, starting from the newest offset.
func NewRevocationSync(cfg config.KafkaSettings, handler sarama.ConsumerGroupHandler, logger *zap.Logger) (*RevocationSync, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	groupID := fmt.Sprintf("%s-%s", cfg.ConsumerGroup, uuid.NewString())
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	rs := newRevocationSync(group, handler, topicName(cfg.TopicPrefix, EventTokenRevoked), logger)
	rs.logger.Info("kafka revocation sync initialized",
		zap.String("group_id", groupID),
		zap.String("topic", rs.topic),
	)
	return rs, nil
}

func newRevocationSync(group sarama.ConsumerGroup, handler sarama.ConsumerGroupHandler, topic string, logger *zap.Logger) *RevocationSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationSync{group: group, handler: handler, topic: topic, logger: logger}
}

// Run consumes until ctx is cancelled, rejoining the group after rebalances.
func (s *RevocationSync) Run(ctx context.Context) {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	for {
		if err := s.group.Consume(ctx, []string{s.topic}, s.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			s.logger.Warn("kafka consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close leaves the consumer group.
func (s *RevocationSync) Close() error {
	if err := s.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

var _ sarama.ConsumerGroupHandler = (*RevocationConsumer)(nil)
