package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/attarhouse/storefront/internal/services"
)

// LogEventPublisher writes events to the log. It is the default when no broker is configured.
type LogEventPublisher struct {
	logger *zap.Logger
}

var _ services.EventPublisher = (*LogEventPublisher)(nil)

func NewLogEventPublisher(logger *zap.Logger) *LogEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventPublisher{logger: logger}
}

func (p *LogEventPublisher) Publish(_ context.Context, event services.Event) error {
	env, _, err := newEnvelope(event)
	if err != nil {
		return err
	}
	p.logger.Info("domain event",
		zap.String("event_id", env.ID),
		zap.String("type", env.Type),
		zap.String("aggregate_id", env.AggregateID),
		zap.Time("occurred_at", env.OccurredAt),
		zap.Any("data", env.Data),
	)
	return nil
}
