package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
	closed bool
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error {
	f.closed = true
	return nil
}

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
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "marketplace"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "marketplace-auth",
		Env:  "test",
	}, zaptest.NewLogger(t))

	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, f *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()

	select {
	case msg := <-f.input:
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

func TestPublishTokenRevoked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	revokedAt := time.Date(2025, 10, 31, 12, 0, 0, 0, time.UTC)
	event := domain.TokenRevokedEvent{
		EventID:   "event-123",
		JTI:       "jti-456",
		SubjectID: "user-789",
		TokenType: domain.TokenTypeRefresh,
		ExpiresAt: revokedAt.Add(6 * 24 * time.Hour),
		Reason:    domain.RevocationReasonRefresh,
		RevokedAt: revokedAt,
	}

	if err := publisher.PublishTokenRevoked(context.Background(), event); err != nil {
		t.Fatalf("PublishTokenRevoked returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "marketplace.auth.token.revoked" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != event.SubjectID {
		t.Fatalf("expected message keyed by subject, got %q", key)
	}

	if got := envelope["event_type"]; got != EventTokenRevoked {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["event_id"]; got != event.EventID {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["timestamp"]; got != revokedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if payload["jti"] != event.JTI || payload["token_type"] != "refresh" || payload["reason"] != "refresh_rotation" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if metadata["service"] != "marketplace-auth" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}
}

func TestPublishLoginRateLimited(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	event := domain.LoginRateLimitedEvent{
		Tier:       domain.TierIdentity,
		Identity:   "a***@example.com",
		ClientIP:   "1.2.*.*",
		RetryAfter: 7199500 * time.Millisecond,
		RejectedAt: time.Now(),
	}

	if err := publisher.PublishLoginRateLimited(context.Background(), event); err != nil {
		t.Fatalf("PublishLoginRateLimited returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "marketplace.auth.login.rate_limited" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if msg.Key != nil {
		t.Fatalf("expected unkeyed message")
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatalf("expected generated event id")
	}

	payload := envelope["payload"].(map[string]any)
	if payload["retry_after_seconds"] != float64(7200) {
		t.Fatalf("expected retry rounded up to 7200, got %v", payload["retry_after_seconds"])
	}
}

func TestPublishLoginFailed(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	if err := publisher.PublishLoginFailed(context.Background(), domain.LoginFailedEvent{
		Identity: "joh***@example.com",
		ClientIP: "10.0.*.*",
		Reason:   "invalid_credentials",
	}); err != nil {
		t.Fatalf("PublishLoginFailed returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "marketplace.auth.login.failed" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	payload := envelope["payload"].(map[string]any)
	if payload["identity"] != "joh***@example.com" {
		t.Fatalf("unexpected identity: %v", payload["identity"])
	}
}

func TestPublishHonoursContextCancellation(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	// Fill the single-slot input so the next send blocks.
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishLoginFailed(ctx, domain.LoginFailedEvent{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTopicName(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{TopicPrefix: "marketplace"}}
	if got := p.TopicName("auth.login.failed"); got != "marketplace.auth.login.failed" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := p.TopicName("marketplace.auth.login.failed"); got != "marketplace.auth.login.failed" {
		t.Fatalf("prefix should not be doubled, got %s", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("auth.token.revoked"); got != "auth.token.revoked" {
		t.Fatalf("unexpected topic %s", got)
	}
}

func TestProducerLogsAsyncErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{}, zap.New(core))

	asyncProducer.errors <- &sarama.ProducerError{
		Msg: &sarama.ProducerMessage{Topic: "auth.login.failed"},
		Err: errors.New("broker down"),
	}

	deadline := time.Now().Add(time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if logs.Len() == 0 {
		t.Fatal("expected producer error to be logged")
	}
	if !asyncProducer.closed {
		t.Fatal("expected underlying producer to be closed")
	}
}

func TestStubPublisherLogsEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	stub := NewStubPublisher(zap.New(core))
	ctx := context.Background()

	_ = stub.PublishTokenRevoked(ctx, domain.TokenRevokedEvent{JTI: "j"})
	_ = stub.PublishLoginFailed(ctx, domain.LoginFailedEvent{Reason: "invalid_credentials"})
	_ = stub.PublishLoginRateLimited(ctx, domain.LoginRateLimitedEvent{Tier: domain.TierAddress})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	if entries[2].ContextMap()["event_type"] != EventLoginRateLimited {
		t.Fatalf("unexpected event type: %v", entries[2].ContextMap()["event_type"])
	}
}
