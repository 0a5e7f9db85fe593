package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/services"
)

// Stubs embed the service interface so tests only implement what a route touches; calling anything
// else panics on the nil embedded value.

type stubCheckoutService struct {
	services.CheckoutService
	quoteFn      func(ctx context.Context, cmd services.QuoteCartCommand) (services.Quote, error)
	placeFn      func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error)
	adminOrderFn func(ctx context.Context, cmd services.AdminOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) QuoteCart(ctx context.Context, cmd services.QuoteCartCommand) (services.Quote, error) {
	return s.quoteFn(ctx, cmd)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
	return s.placeFn(ctx, cmd)
}

func (s *stubCheckoutService) CreateAdminOrder(ctx context.Context, cmd services.AdminOrderCommand) (services.Order, error) {
	return s.adminOrderFn(ctx, cmd)
}

type stubOrderService struct {
	services.OrderService
	getFn      func(ctx context.Context, orderID string) (services.Order, error)
	listFn     func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn   func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)
	archivedFn func(ctx context.Context, cmd services.SetArchivedCommand) (services.Order, error)
	statusFn   func(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) SetArchived(ctx context.Context, cmd services.SetArchivedCommand) (services.Order, error) {
	return s.archivedFn(ctx, cmd)
}

func (s *stubOrderService) SetStatus(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
	return s.statusFn(ctx, cmd)
}

type stubPaymentService struct {
	startFn   func(ctx context.Context, cmd services.StartPaymentCommand) (payments.Session, error)
	confirmFn func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentOutcome, error)
}

func (s *stubPaymentService) Start(ctx context.Context, cmd services.StartPaymentCommand) (payments.Session, error) {
	return s.startFn(ctx, cmd)
}

func (s *stubPaymentService) Confirm(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentOutcome, error) {
	return s.confirmFn(ctx, cmd)
}

type stubCouponService struct {
	services.CouponService
	validateFn func(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error)
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
	return s.validateFn(ctx, cmd)
}

type stubSubscriberService struct {
	subscribeFn func(ctx context.Context, cmd services.SubscribeCommand) (services.SubscribeResult, error)
}

func (s *stubSubscriberService) Subscribe(ctx context.Context, cmd services.SubscribeCommand) (services.SubscribeResult, error) {
	return s.subscribeFn(ctx, cmd)
}

type stubAnalyticsService struct {
	reportFn    func(ctx context.Context, rng services.ReportRange) (services.ProfitReport, error)
	customersFn func(ctx context.Context, query services.CustomerQuery) ([]services.CustomerSummary, error)
}

func (s *stubAnalyticsService) ComputeReport(ctx context.Context, rng services.ReportRange) (services.ProfitReport, error) {
	return s.reportFn(ctx, rng)
}

func (s *stubAnalyticsService) ListCustomers(ctx context.Context, query services.CustomerQuery) ([]services.CustomerSummary, error) {
	return s.customersFn(ctx, query)
}

type stubSettingsService struct {
	services.SettingsService
	getFn      func(ctx context.Context) (services.Settings, error)
	shippingFn func(ctx context.Context, cfg services.ShippingConfig) (services.Settings, error)
}

func (s *stubSettingsService) Get(ctx context.Context) (services.Settings, error) {
	return s.getFn(ctx)
}

func (s *stubSettingsService) UpdateShipping(ctx context.Context, cfg services.ShippingConfig) (services.Settings, error) {
	return s.shippingFn(ctx, cfg)
}

type stubCatalogService struct {
	services.CatalogService
	bySlugFn func(ctx context.Context, slug string) (services.Product, error)
	byIDFn   func(ctx context.Context, productID string) (services.Product, error)
}

func (s *stubCatalogService) GetProductBySlug(ctx context.Context, slug string) (services.Product, error) {
	return s.bySlugFn(ctx, slug)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	return s.byIDFn(ctx, productID)
}

type stubInventoryService struct {
	services.InventoryService
	setStockFn func(ctx context.Context, cmd services.SetStockCommand) (services.Product, error)
}

func (s *stubInventoryService) SetStock(ctx context.Context, cmd services.SetStockCommand) (services.Product, error) {
	return s.setStockFn(ctx, cmd)
}

type stubSystemService struct {
	reportFn func(ctx context.Context) (domain.HealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (domain.HealthReport, error) {
	return s.reportFn(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return body
}

func strPtr(v string) *string {
	return &v
}
