package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/services"
)

// CartHandlers serve the anonymous cart helpers: quote preview, coupon validation and newsletter
// sign-up. Coupon validation and sign-up are rate limited per client.
type CartHandlers struct {
	checkout    services.CheckoutService
	coupons     services.CouponService
	subscribers services.SubscriberService
	perMinute   int
	limiter     rateLimiter
	clock       func() time.Time
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartRateLimit caps coupon validation and sign-up calls per client per minute. Zero disables it.
func WithCartRateLimit(perMinute int) CartOption {
	return func(h *CartHandlers) {
		h.perMinute = perMinute
	}
}

func WithCartClock(clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func NewCartHandlers(checkout services.CheckoutService, coupons services.CouponService, subscribers services.SubscriberService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{
		checkout:    checkout,
		coupons:     coupons,
		subscribers: subscribers,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.limiter = newRateLimiter(h.perMinute, rateLimitWindow, h.clock)
	return h
}

// Routes registers the cart helper endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/cart/quote", h.quote)
	r.Post("/coupons/validate", rateLimited(h.limiter, "coupon", h.clock, h.validateCoupon))
	r.Post("/subscribers", rateLimited(h.limiter, "subscribe", h.clock, h.subscribe))
}

type quoteRequest struct {
	Items      []cartLinePayload `json:"items"`
	CouponCode string            `json:"couponCode"`
}

type quoteResponse struct {
	Totals totalsPayload            `json:"totals"`
	Coupon *couponValidationPayload `json:"coupon,omitempty"`
}

func (h *CartHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("checkout"))
		return
	}
	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd := services.QuoteCartCommand{
		UserID:     auth.UserID(ctx),
		CouponCode: strings.TrimSpace(req.CouponCode),
	}
	for _, line := range req.Items {
		cmd.Items = append(cmd.Items, line.toDomain())
	}
	quote, err := h.checkout.QuoteCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := quoteResponse{Totals: totalsPayloadFrom(quote.Totals)}
	if quote.Coupon != nil {
		coupon := couponValidationPayloadFrom(*quote.Coupon)
		resp.Coupon = &coupon
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type validateCouponRequest struct {
	Code      string `json:"code"`
	CartTotal int64  `json:"cartTotal"`
}

func (h *CartHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("coupon"))
		return
	}
	var req validateCouponRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	validation, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:     req.Code,
		Subtotal: req.CartTotal,
		UserID:   auth.UserID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, couponValidationPayloadFrom(validation))
}

type subscribeRequest struct {
	Email string `json:"email"`
}

type subscribeResponse struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	CouponCode *string `json:"couponCode,omitempty"`
	Created    bool    `json:"created"`
}

func (h *CartHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscribers == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("subscriber"))
		return
	}
	var req subscribeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	result, err := h.subscribers.Subscribe(ctx, services.SubscribeCommand{Email: req.Email})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := subscribeResponse{
		ID:      result.Subscriber.ID,
		Email:   result.Subscriber.Email,
		Created: result.Created,
	}
	status := http.StatusOK
	if result.Created {
		// Repeat sign-ups never reveal the welcome code.
		resp.CouponCode = result.Subscriber.CouponCode
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, resp)
}
