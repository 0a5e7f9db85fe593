package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/platform/requestctx"
	"github.com/attarhouse/storefront/internal/services"
)

const defaultIdempotencyHeader = "Idempotency-Key"

// OrderHandlers serve checkout and order lookup for storefront customers and guests.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
	keyHeader   string
	limiter     rateLimiter
	clock       func() time.Time
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderPayments enables gateway payment retries on POST /orders/{orderId}/payment.
func WithOrderPayments(svc services.PaymentService) OrderOption {
	return func(h *OrderHandlers) {
		h.payments = svc
	}
}

// WithOrderIdempotency wraps order placement and payment start with mw. header names the request
// header carrying the key so it can be forwarded to the gateway.
func WithOrderIdempotency(mw func(http.Handler) http.Handler, header string) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
		if strings.TrimSpace(header) != "" {
			h.keyHeader = header
		}
	}
}

// WithOrderRateLimit caps order placement per client per minute. Zero disables it.
func WithOrderRateLimit(perMinute int, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
		h.limiter = newRateLimiter(perMinute, rateLimitWindow, h.clock)
	}
}

func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		checkout:  checkout,
		orders:    orders,
		keyHeader: defaultIdempotencyHeader,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the storefront order endpoints. Callers may be signed in or guests.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.OptionalFirebaseAuth())
		}
		g.Get("/orders/{orderID}", h.getOrder)
		g.Group(func(write chi.Router) {
			if h.idempotency != nil {
				write.Use(h.idempotency)
			}
			write.Post("/orders", rateLimited(h.limiter, "checkout", h.clock, h.placeOrder))
			write.Post("/orders/{orderID}/payment", h.startPayment)
		})
	})
}

// MeRoutes registers the signed-in customer's order history under /me.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listMyOrders)
}

type placeOrderRequest struct {
	Items           []cartLinePayload `json:"items"`
	ShippingAddress addressPayload    `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
	CouponCode      string            `json:"couponCode"`
	ExpectedTotals  *totalsPayload    `json:"expectedTotals"`
}

type paymentErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type placeOrderResponse struct {
	OrderID      string                 `json:"orderId"`
	OrderNumber  string                 `json:"orderNumber"`
	TotalAmount  int64                  `json:"totalAmount"`
	Order        orderPayload           `json:"order"`
	Payment      *paymentSessionPayload `json:"payment,omitempty"`
	PaymentError *paymentErrorPayload   `json:"payment_error,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("checkout"))
		return
	}
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd := services.PlaceOrderCommand{
		UserID:          auth.UserID(ctx),
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   services.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		ExpectedTotals:  req.ExpectedTotals.toDomain(),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(h.keyHeader)),
	}
	for _, line := range req.Items {
		cmd.Items = append(cmd.Items, line.toDomain())
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := placeOrderResponse{
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		TotalAmount: result.Order.TotalAmount,
		Order:       buildOrderPayload(result.Order, false),
	}
	if result.Payment != nil {
		resp.Payment = paymentSessionPayloadFrom(*result.Payment)
	}
	if result.PaymentError != nil {
		requestctx.Logger(ctx).Warn("payment start failed after order placement",
			zap.String("order_id", result.Order.ID),
			zap.Error(result.PaymentError),
		)
		resp.PaymentError = &paymentErrorPayload{
			Code:    "payment_unavailable",
			Message: "order placed but the payment could not be started; retry from the order page",
		}
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, false))
}

func (h *OrderHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "online payments are not configured", http.StatusServiceUnavailable))
		return
	}
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	session, err := h.payments.Start(ctx, services.StartPaymentCommand{
		OrderID:        order.ID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.keyHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orderId": order.ID,
		"payment": paymentSessionPayloadFrom(session),
	})
}

// loadVisibleOrder returns the order when the caller owns it, is staff, or is a guest supplying the
// shipping email. Other callers get a 404 so order ids cannot be probed.
func (h *OrderHandlers) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("order"))
		return services.Order{}, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("order id is required"))
		return services.Order{}, false
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !canViewOrder(r, order) {
		httpx.WriteError(ctx, w, httpx.NotFound(services.ErrOrderNotFound.Error()))
		return services.Order{}, false
	}
	return order, true
}

func canViewOrder(r *http.Request, order services.Order) bool {
	identity, signedIn := auth.IdentityFromContext(r.Context())
	if signedIn {
		if identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
			return true
		}
		if order.UserID != nil && *order.UserID == identity.UID {
			return true
		}
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	return email != "" && strings.EqualFold(email, order.ShippingAddress.Email)
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("order"))
		return
	}
	uid := auth.UserID(ctx)
	if uid == "" {
		httpx.WriteError(ctx, w, unauthenticated())
		return
	}
	pager, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{UserID: uid, Pagination: pager})
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: []orderPayload{}})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page, false))
}
