package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/services"
)

func sampleOrder() services.Order {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "AH-10001",
		Items: []domain.LineItem{{
			ProductID: "prod_oud",
			Name:      "Oud Royale",
			Quantity:  2,
			Price:     1500,
		}},
		ShippingAddress: services.ShippingAddress{
			FullName: "Ayesha Khan",
			Email:    "Ayesha@Example.com",
			Phone:    "03001234567",
			Address:  "12 Mall Road",
			City:     "Lahore",
		},
		PaymentMethod:    domain.PaymentMethodSafepay,
		PaymentReference: strPtr("sp_ref_1"),
		Status:           domain.OrderStatusPending,
		Subtotal:         3000,
		ShippingCost:     200,
		TotalAmount:      3200,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func newOrderRouter(h *OrderHandlers, identity *auth.Identity) http.Handler {
	r := chi.NewRouter()
	if identity != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), identity)))
			})
		})
	}
	h.Routes(r)
	r.Route("/me", h.MeRoutes)
	return r
}

func TestPlaceOrderReportsPaymentErrorWithoutFailing(t *testing.T) {
	var received services.PlaceOrderCommand
	checkout := &stubCheckoutService{placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
		received = cmd
		return services.PlaceOrderResult{Order: sampleOrder(), PaymentError: errors.New("gateway down")}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}), nil)

	body := `{"items":[{"productId":" prod_oud ","quantity":2}],"shippingAddress":{"fullName":"Ayesha Khan","email":"ayesha@example.com","phone":"03001234567","address":"12 Mall Road","city":"Lahore"},"paymentMethod":"Safepay","couponCode":" WELCOME10 "}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.UserID != "" || received.IdempotencyKey != "key-1" || received.CouponCode != "WELCOME10" {
		t.Fatalf("unexpected command %+v", received)
	}
	if len(received.Items) != 1 || received.Items[0].ProductID != "prod_oud" || received.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", received.Items)
	}
	resp := decodeBody(t, rr)
	if resp["orderId"] != "ord_1" || resp["totalAmount"] != float64(3200) {
		t.Fatalf("unexpected response %v", resp)
	}
	paymentErr, ok := resp["payment_error"].(map[string]any)
	if !ok || paymentErr["code"] != "payment_unavailable" {
		t.Fatalf("expected payment_error, got %v", resp["payment_error"])
	}
	order := resp["order"].(map[string]any)
	if _, leaked := order["paymentReference"]; leaked {
		t.Fatalf("storefront order payload must not expose the payment reference")
	}
}

func TestPlaceOrderIncludesPaymentSession(t *testing.T) {
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
		return services.PlaceOrderResult{
			Order:   sampleOrder(),
			Payment: &payments.Session{Provider: "safepay", RedirectURL: "https://pay.example/checkout/abc"},
		}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}), &auth.Identity{UID: "user_1"})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[{"productId":"prod_oud","quantity":1}],"paymentMethod":"Safepay"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	payment, ok := decodeBody(t, rr)["payment"].(map[string]any)
	if !ok || payment["redirectUrl"] != "https://pay.example/checkout/abc" {
		t.Fatalf("expected payment session, got %v", payment)
	}
}

func TestPlaceOrderTotalsMismatchReturnsServerTotals(t *testing.T) {
	checkout := &stubCheckoutService{placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
		if cmd.ExpectedTotals == nil || cmd.ExpectedTotals.TotalAmount != 3000 {
			t.Fatalf("expected client totals to be forwarded, got %+v", cmd.ExpectedTotals)
		}
		return services.PlaceOrderResult{}, &services.TotalsMismatchError{
			Expected: *cmd.ExpectedTotals,
			Actual:   services.Totals{Subtotal: 3000, ShippingCost: 200, TotalAmount: 3200},
		}
	}}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}), nil)

	body := `{"items":[{"productId":"prod_oud","quantity":2}],"paymentMethod":"COD","expectedTotals":{"subtotal":3000,"shippingCost":0,"tax":0,"discount":0,"totalAmount":3000}}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["error"] != "totals_mismatch" {
		t.Fatalf("expected totals_mismatch, got %v", resp["error"])
	}
	totals, ok := resp["totals"].(map[string]any)
	if !ok || totals["totalAmount"] != float64(3200) {
		t.Fatalf("expected server totals, got %v", resp["totals"])
	}
}

func TestPlaceOrderRejectsUnknownFields(t *testing.T) {
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
		t.Fatalf("checkout must not be called")
		return services.PlaceOrderResult{}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{}), nil)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[],"totalAmount":1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	owned := sampleOrder()
	owned.UserID = strPtr("user_1")
	orders := &stubOrderService{getFn: func(_ context.Context, id string) (services.Order, error) {
		if id != "ord_1" {
			return services.Order{}, services.ErrOrderNotFound
		}
		return owned, nil
	}}

	cases := []struct {
		name     string
		identity *auth.Identity
		query    string
		want     int
	}{
		{name: "guest with matching email", query: "?email=ayesha@example.com", want: http.StatusOK},
		{name: "guest with wrong email", query: "?email=someone@example.com", want: http.StatusNotFound},
		{name: "guest without email", want: http.StatusNotFound},
		{name: "owner", identity: &auth.Identity{UID: "user_1"}, want: http.StatusOK},
		{name: "other customer", identity: &auth.Identity{UID: "user_2", Roles: []string{auth.RoleCustomer}}, want: http.StatusNotFound},
		{name: "staff", identity: &auth.Identity{UID: "staff_1", Roles: []string{auth.RoleStaff}}, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, orders), tc.identity)
			req := httptest.NewRequest(http.MethodGet, "/orders/ord_1"+tc.query, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestStartPaymentWithoutGatewayIsUnavailable(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{}), nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment?email=ayesha@example.com", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "payments_unavailable" {
		t.Fatalf("expected payments_unavailable, got %v", code)
	}
}

func TestStartPaymentForwardsIdempotencyKey(t *testing.T) {
	orders := &stubOrderService{getFn: func(context.Context, string) (services.Order, error) {
		return sampleOrder(), nil
	}}
	var received services.StartPaymentCommand
	svc := &stubPaymentService{startFn: func(_ context.Context, cmd services.StartPaymentCommand) (payments.Session, error) {
		received = cmd
		return payments.Session{Provider: "safepay", Reference: "tracker_1"}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, orders, WithOrderPayments(svc), WithOrderIdempotency(nil, "X-Checkout-Key")), nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment?email=ayesha@example.com", nil)
	req.Header.Set("X-Checkout-Key", "retry-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.OrderID != "ord_1" || received.IdempotencyKey != "retry-7" {
		t.Fatalf("unexpected command %+v", received)
	}
}

func TestListMyOrdersScopesToCaller(t *testing.T) {
	orders := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		if filter.UserID != "user_1" {
			t.Fatalf("expected filter scoped to caller, got %q", filter.UserID)
		}
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, orders), &auth.Identity{UID: "user_1"})

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	items, _ := resp["items"].([]any)
	if len(items) != 1 || resp["nextPageToken"] != "next" {
		t.Fatalf("unexpected list response %v", resp)
	}
}

func TestListMyOrdersRequiresIdentity(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, &stubOrderService{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPlaceOrderIsRateLimitedPerCustomer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checkout := &stubCheckoutService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
		return services.PlaceOrderResult{Order: sampleOrder()}, nil
	}}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, &stubOrderService{},
		WithOrderRateLimit(1, func() time.Time { return now }),
	), &auth.Identity{UID: "user_1"})

	body := `{"items":[{"productId":"prod_oud","quantity":1}],"paymentMethod":"COD"}`
	if rr := postJSON(router, "/orders", body, ""); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := postJSON(router, "/orders", body, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "rate_limited" {
		t.Fatalf("unexpected error code %v", got)
	}
}
