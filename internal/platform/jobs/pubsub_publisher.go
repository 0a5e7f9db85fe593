package jobs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/attarhouse/storefront/internal/services"
)

// PubSubEventPublisher publishes events to a Pub/Sub topic ordered by aggregate id.
type PubSubEventPublisher struct {
	topic *pubsub.Topic
}

var _ services.EventPublisher = (*PubSubEventPublisher)(nil)

func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{topic: topic}, nil
}

// Publish blocks until the server acknowledges the message.
func (p *PubSubEventPublisher) Publish(ctx context.Context, event services.Event) error {
	env, data, err := newEnvelope(event)
	if err != nil {
		return err
	}
	attrs := map[string]string{"type": env.Type, "eventId": env.ID}
	if env.AggregateID != "" {
		attrs["aggregateId"] = env.AggregateID
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: env.AggregateID,
	})
	if _, err := result.Get(ctx); err != nil {
		if env.AggregateID != "" {
			// A failed ordered publish pauses the key until resumed.
			p.topic.ResumePublish(env.AggregateID)
		}
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubEventPublisher) Stop() {
	p.topic.Stop()
}
