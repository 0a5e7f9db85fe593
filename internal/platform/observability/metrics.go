package observability

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/attarhouse/storefront/internal/domain"
)

const checkoutMeterName = "github.com/attarhouse/storefront/checkout"

// CheckoutMetrics records order placement counters through OpenTelemetry. Without an installed
// exporter the global provider makes every call a no-op.
type CheckoutMetrics struct {
	ordersPlaced    metric.Int64Counter
	orderValue      metric.Int64Counter
	stockRejections metric.Int64Counter
	couponRedeemed  metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout instruments on meter, or on the global meter provider
// when meter is nil.
func NewCheckoutMetrics(meter metric.Meter) (*CheckoutMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterName)
	}
	ordersPlaced, err1 := meter.Int64Counter("checkout.orders_placed",
		metric.WithDescription("Orders created through checkout"))
	orderValue, err2 := meter.Int64Counter("checkout.order_value",
		metric.WithUnit("PKR"),
		metric.WithDescription("Sum of order totals in rupees"))
	stockRejections, err3 := meter.Int64Counter("checkout.stock_rejections",
		metric.WithDescription("Checkouts rejected for insufficient stock"))
	couponRedeemed, err4 := meter.Int64Counter("checkout.coupon_redemptions",
		metric.WithDescription("Coupons redeemed at checkout"))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	return &CheckoutMetrics{
		ordersPlaced:    ordersPlaced,
		orderValue:      orderValue,
		stockRejections: stockRejections,
		couponRedeemed:  couponRedeemed,
	}, nil
}

func (m *CheckoutMetrics) OrderPlaced(ctx context.Context, method domain.PaymentMethod, total int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", string(method)))
	m.ordersPlaced.Add(ctx, 1, attrs)
	if total > 0 {
		m.orderValue.Add(ctx, total, attrs)
	}
}

func (m *CheckoutMetrics) StockRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.stockRejections.Add(ctx, 1)
}

func (m *CheckoutMetrics) CouponRedeemed(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.couponRedeemed.Add(ctx, 1, metric.WithAttributes(attribute.String("coupon_code", strings.ToUpper(code))))
}
