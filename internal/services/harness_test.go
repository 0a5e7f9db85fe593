package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories/memory"
)

type storeHarness struct {
	repos     *memory.Registry
	settings  SettingsService
	coupons   CouponService
	pricing   PricingService
	inventory InventoryService
	orders    OrderService
	checkout  CheckoutService
	events    *recordingPublisher
	metrics   *recordingMetrics
	now       time.Time
}

func newStoreHarness(t *testing.T) *storeHarness {
	t.Helper()
	h := &storeHarness{
		repos:   memory.NewRegistry(),
		events:  &recordingPublisher{},
		metrics: &recordingMetrics{},
		now:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	var err error
	h.settings, err = NewSettingsService(SettingsServiceDeps{Settings: h.repos.Settings(), Clock: clock})
	require.NoError(t, err)
	h.coupons, err = NewCouponService(CouponServiceDeps{Coupons: h.repos.Coupons(), Settings: h.settings, Clock: clock})
	require.NoError(t, err)
	h.pricing, err = NewPricingService(PricingServiceDeps{Settings: h.settings, Coupons: h.coupons})
	require.NoError(t, err)
	h.inventory, err = NewInventoryService(InventoryServiceDeps{Products: h.repos.Products(), Metrics: h.metrics, Clock: clock})
	require.NoError(t, err)
	h.orders, err = NewOrderService(OrderServiceDeps{
		Orders:    h.repos.Orders(),
		Counters:  h.repos.Counters(),
		Inventory: h.inventory,
		Events:    h.events,
		Clock:     clock,
	})
	require.NoError(t, err)
	h.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Products:  h.repos.Products(),
		Pricing:   h.pricing,
		Coupons:   h.coupons,
		Inventory: h.inventory,
		Orders:    h.orders,
		Metrics:   h.metrics,
		Clock:     clock,
	})
	require.NoError(t, err)
	return h
}

func (h *storeHarness) addProduct(t *testing.T, id string, price int64, stock int, variants ...domain.ProductVariant) domain.Product {
	t.Helper()
	product := domain.Product{
		ID:          id,
		Name:        "Product " + id,
		Slug:        "product-" + id,
		Price:       price,
		Stock:       stock,
		CategoryID:  "cat_attar",
		SubCategory: "Attar",
		Variants:    variants,
		IsPublished: true,
		CreatedAt:   h.now,
		UpdatedAt:   h.now,
	}
	require.NoError(t, h.repos.Products().Insert(context.Background(), product))
	return product
}

func (h *storeHarness) addCoupon(t *testing.T, coupon domain.Coupon) {
	t.Helper()
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = h.now
	}
	require.NoError(t, h.repos.Coupons().Insert(context.Background(), coupon))
}

func (h *storeHarness) stockOf(t *testing.T, productID string) int {
	t.Helper()
	product, err := h.repos.Products().FindByID(context.Background(), productID)
	require.NoError(t, err)
	return product.Stock
}

func (h *storeHarness) usedCount(t *testing.T, code string) int {
	t.Helper()
	coupon, err := h.repos.Coupons().FindByCode(context.Background(), code)
	require.NoError(t, err)
	return coupon.UsedCount
}

func testAddress() ShippingAddress {
	return ShippingAddress{
		FullName: "Ayesha Khan",
		Email:    "Ayesha@Example.com",
		Phone:    "+923001234567",
		Address:  "House 12, Street 4, DHA Phase 5",
		City:     "Lahore",
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingMetrics struct {
	mu             sync.Mutex
	placed         int
	stockRejected  int
	couponRedeemed int
}

func (m *recordingMetrics) OrderPlaced(context.Context, PaymentMethod, int64) {
	m.mu.Lock()
	m.placed++
	m.mu.Unlock()
}

func (m *recordingMetrics) StockRejected(context.Context) {
	m.mu.Lock()
	m.stockRejected++
	m.mu.Unlock()
}

func (m *recordingMetrics) CouponRedeemed(context.Context, string) {
	m.mu.Lock()
	m.couponRedeemed++
	m.mu.Unlock()
}
