package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatalf("expected stored logger")
	}
	if Logger(WithLogger(context.Background(), nil)) != NoopLogger() {
		t.Fatalf("nil logger should store noop")
	}
}

func TestTraceAndClientIP(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true})
	ctx = WithClientIP(ctx, "203.0.113.7")
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if ClientIP(ctx) != "203.0.113.7" {
		t.Fatalf("unexpected client ip %q", ClientIP(ctx))
	}
	if TraceID(context.Background()) != "" || ClientIP(context.Background()) != "" {
		t.Fatalf("expected empty values on bare context")
	}
}
