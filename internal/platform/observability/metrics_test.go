package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/attarhouse/storefront/internal/domain"
)

func TestCheckoutMetricsRecordsWithoutExporter(t *testing.T) {
	metrics, err := NewCheckoutMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewCheckoutMetrics: %v", err)
	}
	ctx := context.Background()
	metrics.OrderPlaced(ctx, domain.PaymentMethodCOD, 2700)
	metrics.StockRejected(ctx)
	metrics.CouponRedeemed(ctx, "save10")

	var nilMetrics *CheckoutMetrics
	nilMetrics.OrderPlaced(ctx, domain.PaymentMethodCOD, 1)
	nilMetrics.StockRejected(ctx)
	nilMetrics.CouponRedeemed(ctx, "x")
}

func TestNewCheckoutMetricsDefaultsToGlobalProvider(t *testing.T) {
	if _, err := NewCheckoutMetrics(nil); err != nil {
		t.Fatalf("NewCheckoutMetrics(nil): %v", err)
	}
}
