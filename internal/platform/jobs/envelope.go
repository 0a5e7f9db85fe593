// Package jobs delivers domain events to the outreach pipeline over Pub/Sub, Kafka or the log.
package jobs

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/attarhouse/storefront/internal/services"
)

// Envelope is the wire format shared by every transport.
type Envelope struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregateId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Data        map[string]any `json:"data,omitempty"`
}

func newEnvelope(event services.Event) (Envelope, []byte, error) {
	if event.Type == "" {
		return Envelope{}, nil, fmt.Errorf("jobs: event type is required")
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	env := Envelope{
		ID:          "evt_" + ulid.MustNew(ulid.Timestamp(occurred), rand.Reader).String(),
		Type:        event.Type,
		AggregateID: event.AggregateID,
		OccurredAt:  occurred.UTC(),
		Data:        event.Data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("jobs: marshal %s: %w", event.Type, err)
	}
	return env, payload, nil
}
