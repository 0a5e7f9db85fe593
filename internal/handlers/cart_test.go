package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/services"
)

func newCartRouter(h *CartHandlers) http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func postJSON(router http.Handler, path, body, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCartQuoteReturnsTotalsAndCoupon(t *testing.T) {
	checkout := &stubCheckoutService{quoteFn: func(_ context.Context, cmd services.QuoteCartCommand) (services.Quote, error) {
		if cmd.CouponCode != "FLAT300" || len(cmd.Items) != 1 || cmd.Items[0].VariantID != "50ml" {
			t.Fatalf("unexpected quote command %+v", cmd)
		}
		return services.Quote{
			Totals: services.Totals{Subtotal: 3000, ShippingCost: 200, Discount: 300, TotalAmount: 2900},
			Coupon: &services.CouponValidation{Valid: true, Code: "FLAT300", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, DiscountAmount: 300},
		}, nil
	}}
	router := newCartRouter(NewCartHandlers(checkout, nil, nil))

	rr := postJSON(router, "/cart/quote", `{"items":[{"productId":"prod_oud","variantId":"50ml","quantity":2}],"couponCode":" FLAT300 "}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	totals := resp["totals"].(map[string]any)
	if totals["totalAmount"] != float64(2900) || totals["discount"] != float64(300) {
		t.Fatalf("unexpected totals %v", totals)
	}
	coupon, ok := resp["coupon"].(map[string]any)
	if !ok || coupon["valid"] != true || coupon["discountType"] != "fixed" {
		t.Fatalf("unexpected coupon %v", resp["coupon"])
	}
}

func TestValidateCouponHidesDiscountWhenRejected(t *testing.T) {
	coupons := &stubCouponService{validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
		if cmd.Subtotal != 2500 {
			t.Fatalf("expected cart total forwarded as subtotal, got %d", cmd.Subtotal)
		}
		return services.CouponValidation{
			Code:          cmd.Code,
			DiscountType:  domain.DiscountTypePercentage,
			DiscountValue: 10,
			Reason:        services.CouponRejectionExpired,
			Message:       "coupon has expired",
		}, nil
	}}
	router := newCartRouter(NewCartHandlers(nil, coupons, nil))

	rr := postJSON(router, "/coupons/validate", `{"code":"SUMMER10","cartTotal":2500}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["valid"] != false || resp["reason"] != "expired" {
		t.Fatalf("unexpected validation %v", resp)
	}
	if value, ok := resp["discountValue"]; ok && value != float64(0) {
		t.Fatalf("rejected coupon must not expose its value, got %v", value)
	}
}

func TestValidateCouponIsRateLimitedPerClient(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	coupons := &stubCouponService{validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
		return services.CouponValidation{Valid: true, Code: cmd.Code}, nil
	}}
	router := newCartRouter(NewCartHandlers(nil, coupons, nil,
		WithCartClock(func() time.Time { return now }),
		WithCartRateLimit(2),
	))

	for i := 0; i < 2; i++ {
		if rr := postJSON(router, "/coupons/validate", `{"code":"A"}`, "10.0.0.1:5000"); rr.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := postJSON(router, "/coupons/validate", `{"code":"A"}`, "10.0.0.1:5001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := postJSON(router, "/coupons/validate", `{"code":"A"}`, "10.0.0.2:5000"); rr.Code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := postJSON(router, "/coupons/validate", `{"code":"A"}`, "10.0.0.1:5000"); rr.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestSubscribeRevealsCodeOnlyOnFirstSignUp(t *testing.T) {
	code := "WELCOME-7QX2"
	created := true
	subscribers := &stubSubscriberService{subscribeFn: func(_ context.Context, cmd services.SubscribeCommand) (services.SubscribeResult, error) {
		return services.SubscribeResult{
			Subscriber: services.Subscriber{ID: "sub_1", Email: strings.ToLower(cmd.Email), CouponCode: &code},
			Created:    created,
		}, nil
	}}
	router := newCartRouter(NewCartHandlers(nil, nil, subscribers))

	rr := postJSON(router, "/subscribers", `{"email":"New@Example.com"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if resp := decodeBody(t, rr); resp["couponCode"] != code {
		t.Fatalf("expected welcome code, got %v", resp["couponCode"])
	}

	created = false
	rr = postJSON(router, "/subscribers", `{"email":"new@example.com"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for repeat sign-up, got %d", rr.Code)
	}
	if _, ok := decodeBody(t, rr)["couponCode"]; ok {
		t.Fatalf("repeat sign-up must not reveal the code")
	}
}

func TestSubscribeInvalidEmail(t *testing.T) {
	subscribers := &stubSubscriberService{subscribeFn: func(context.Context, services.SubscribeCommand) (services.SubscribeResult, error) {
		return services.SubscribeResult{}, services.ErrSubscriberInvalidInput
	}}
	router := newCartRouter(NewCartHandlers(nil, nil, subscribers))

	if rr := postJSON(router, "/subscribers", `{"email":"nope"}`, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
