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

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/core/port"
	"github.com/arklim/marketplace-auth/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types published by the security core.
const (
	EventTokenRevoked     = "auth.token.revoked"
	EventLoginFailed      = "auth.login.failed"
	EventLoginRateLimited = "auth.login.rate_limited"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
	now      func() time.Time
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger, now: time.Now}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Subject   string           `json:"subject,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = p.now()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		Subject:   key,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishTokenRevoked publishes auth.token.revoked events.
func (p *EventPublisher) PublishTokenRevoked(ctx context.Context, event domain.TokenRevokedEvent) error {
	payload := struct {
		JTI       string    `json:"jti"`
		SubjectID string    `json:"subject_id"`
		TokenType string    `json:"token_type"`
		ExpiresAt time.Time `json:"expires_at"`
		Reason    string    `json:"reason"`
		RevokedAt time.Time `json:"revoked_at"`
	}{
		JTI:       event.JTI,
		SubjectID: event.SubjectID,
		TokenType: string(event.TokenType),
		ExpiresAt: event.ExpiresAt.UTC(),
		Reason:    event.Reason,
		RevokedAt: event.RevokedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventTokenRevoked, event.SubjectID, event.RevokedAt, payload)
}

// PublishLoginFailed publishes auth.login.failed events. Identity and
// address are expected to be masked already.
func (p *EventPublisher) PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error {
	payload := struct {
		Identity  string    `json:"identity"`
		ClientIP  string    `json:"client_ip"`
		Reason    string    `json:"reason"`
		AttemptAt time.Time `json:"attempt_at"`
	}{
		Identity:  event.Identity,
		ClientIP:  event.ClientIP,
		Reason:    event.Reason,
		AttemptAt: event.AttemptAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventLoginFailed, "", event.AttemptAt, payload)
}

// PublishLoginRateLimited publishes auth.login.rate_limited events.
func (p *EventPublisher) PublishLoginRateLimited(ctx context.Context, event domain.LoginRateLimitedEvent) error {
	payload := struct {
		Tier              string    `json:"tier"`
		Identity          string    `json:"identity,omitempty"`
		ClientIP          string    `json:"client_ip"`
		RetryAfterSeconds int       `json:"retry_after_seconds"`
		RejectedAt        time.Time `json:"rejected_at"`
	}{
		Tier:              event.Tier,
		Identity:          event.Identity,
		ClientIP:          event.ClientIP,
		RetryAfterSeconds: domain.CeilSeconds(event.RetryAfter),
		RejectedAt:        event.RejectedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventLoginRateLimited, "", event.RejectedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
