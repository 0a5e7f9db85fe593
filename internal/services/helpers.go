package services

import (
	"context"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type logFunc = func(context.Context, string, map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

func loggerOrNoop(logger logFunc) logFunc {
	if logger == nil {
		return noopLogger
	}
	return logger
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func ulidGenerator(gen func() string) func() string {
	if gen == nil {
		return func() string { return ulid.Make().String() }
	}
	return gen
}

func publishEvent(ctx context.Context, publisher EventPublisher, logger logFunc, event Event) {
	if publisher == nil {
		return
	}
	if event.Data != nil {
		event.Data = maps.Clone(event.Data)
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger(ctx, "event.publish.failed", map[string]any{
			"type":      event.Type,
			"aggregate": event.AggregateID,
			"error":     err.Error(),
		})
	}
}

// roundHalfAway rounds to the nearest integer with halves away from zero.
func roundHalfAway(v float64) int64 {
	return int64(math.Round(v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}
