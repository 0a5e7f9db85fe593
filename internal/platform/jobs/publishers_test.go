package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/attarhouse/storefront/internal/services"
)

var orderCreated = services.Event{
	Type:        "order.created",
	AggregateID: "ord_01HX",
	OccurredAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("PKT", 5*3600)),
	Data:        map[string]any{"orderNumber": "AH-2026-000001", "totalAmount": 2700},
}

func TestPubSubEventPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "storefront-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	defer publisher.Stop()

	if err := publisher.Publish(ctx, orderCreated); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var env Envelope
	if err := json.Unmarshal(messages[0].Data, &env); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if env.Type != "order.created" || env.AggregateID != "ord_01HX" || !strings.HasPrefix(env.ID, "evt_") {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.OccurredAt.Location() != time.UTC || !env.OccurredAt.Equal(orderCreated.OccurredAt) {
		t.Fatalf("expected UTC occurrence time, got %v", env.OccurredAt)
	}
	if messages[0].Attributes["type"] != "order.created" || messages[0].Attributes["aggregateId"] != "ord_01HX" {
		t.Fatalf("unexpected attributes %v", messages[0].Attributes)
	}
	if messages[0].OrderingKey != "ord_01HX" {
		t.Fatalf("expected ordering key, got %q", messages[0].OrderingKey)
	}
}

type stubKafkaWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (s *stubKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msgs...)
	return nil
}

func (s *stubKafkaWriter) Close() error {
	s.closed = true
	return nil
}

func TestKafkaEventPublisherKeysByAggregate(t *testing.T) {
	writer := &stubKafkaWriter{}
	publisher := &KafkaEventPublisher{writer: writer}

	if err := publisher.Publish(context.Background(), orderCreated); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_01HX" {
		t.Fatalf("expected aggregate key, got %q", msg.Key)
	}
	if len(msg.Headers) == 0 || msg.Headers[0].Key != "type" || string(msg.Headers[0].Value) != "order.created" {
		t.Fatalf("unexpected headers %v", msg.Headers)
	}

	writer.err = errors.New("broker down")
	if err := publisher.Publish(context.Background(), orderCreated); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	_ = publisher.Close()
	if !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestNewKafkaEventPublisherValidates(t *testing.T) {
	if _, err := NewKafkaEventPublisher(nil, "events"); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaEventPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Fatalf("expected error without topic")
	}
}

func TestLogEventPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	publisher := NewLogEventPublisher(zap.New(core))

	if err := publisher.Publish(context.Background(), orderCreated); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := publisher.Publish(context.Background(), services.Event{}); err == nil {
		t.Fatalf("expected error for event without type")
	}
	entries := logs.FilterMessage("domain event").All()
	if len(entries) != 1 || entries[0].ContextMap()["type"] != "order.created" {
		t.Fatalf("unexpected log entries %+v", entries)
	}
}
