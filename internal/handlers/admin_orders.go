package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/services"
)

// AdminOrderHandlers expose the order ledger to the dashboard.
type AdminOrderHandlers struct {
	checkout services.CheckoutService
	orders   services.OrderService
	loc      *time.Location
}

// NewAdminOrderHandlers constructs the admin order endpoints. Date filters are interpreted in loc
// (UTC when nil).
func NewAdminOrderHandlers(checkout services.CheckoutService, orders services.OrderService, loc *time.Location) *AdminOrderHandlers {
	if loc == nil {
		loc = time.UTC
	}
	return &AdminOrderHandlers{checkout: checkout, orders: orders, loc: loc}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		rt.Use(h.requireOrders)
		rt.Get("/", h.listOrders)
		rt.Post("/", h.createOrder)
		rt.Get("/{orderID}", h.getOrder)
		rt.Delete("/{orderID}", h.deleteOrder)
		rt.Put("/{orderID}/status", h.setStatus)
		rt.Post("/{orderID}:cancel", h.action(func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
			return h.orders.Cancel(ctx, cmd)
		}))
		rt.Post("/{orderID}:uncancel", h.action(func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
			return h.orders.Uncancel(ctx, cmd)
		}))
		rt.Post("/{orderID}:return", h.action(func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
			return h.orders.MarkReturned(ctx, cmd)
		}))
		rt.Post("/{orderID}:unreturn", h.action(func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
			return h.orders.Unreturn(ctx, cmd)
		}))
		rt.Put("/{orderID}/payment", h.setPayment)
		rt.Put("/{orderID}/tracking", h.updateTracking)
		rt.Put("/{orderID}/shipping-address", h.updateShippingAddress)
		rt.Put("/{orderID}/archive", h.setArchived)
	})
}

func (h *AdminOrderHandlers) requireOrders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.orders == nil {
			httpx.WriteError(r.Context(), w, serviceUnavailable("order"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	pager, err := pagination.Parse(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(query.Get("userId")),
		Email:      strings.TrimSpace(query.Get("email")),
		Pagination: pager,
	}
	for _, status := range splitCSV(query["status"]) {
		filter.Statuses = append(filter.Statuses, services.OrderStatus(status))
	}
	if raw := strings.TrimSpace(query.Get("archived")); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("archived must be true or false"))
			return
		}
		filter.Archived = &archived
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := time.ParseInLocation(time.DateOnly, raw, h.loc)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("from must be YYYY-MM-DD"))
			return
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		day, err := time.ParseInLocation(time.DateOnly, raw, h.loc)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("to must be YYYY-MM-DD"))
			return
		}
		to := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.DateRange.To = &to
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page, true))
}

type adminOrderLinePayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice *int64 `json:"unitPrice,omitempty"`
}

type adminCreateOrderRequest struct {
	UserID          string                  `json:"userId"`
	Items           []adminOrderLinePayload `json:"items"`
	ShippingAddress addressPayload          `json:"shippingAddress"`
	PaymentMethod   string                  `json:"paymentMethod"`
	CouponCode      string                  `json:"couponCode"`
	MarkPaid        bool                    `json:"markPaid"`
}

func (h *AdminOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("checkout"))
		return
	}
	var req adminCreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd := services.AdminOrderCommand{
		UserID:          strings.TrimSpace(req.UserID),
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   services.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		MarkPaid:        req.MarkPaid,
		ActorID:         actorID(r),
	}
	for _, line := range req.Items {
		cmd.Items = append(cmd.Items, services.AdminOrderLine{
			CartLine: services.CartLine{
				ProductID: strings.TrimSpace(line.ProductID),
				VariantID: strings.TrimSpace(line.VariantID),
				Quantity:  line.Quantity,
			},
			UnitPrice: line.UnitPrice,
		})
	}
	order, err := h.checkout.CreateAdminOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order, true))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

type setStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *AdminOrderHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	order, err := h.orders.SetStatus(ctx, services.SetOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  services.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID: actorID(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

type orderActionRequest struct {
	Reason string `json:"reason"`
}

// action adapts the cancel/return family; the request body is optional.
func (h *AdminOrderHandlers) action(fn func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req orderActionRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				writeServiceError(ctx, w, err)
				return
			}
		}
		order, err := fn(ctx, services.OrderActionCommand{
			OrderID: chi.URLParam(r, "orderID"),
			ActorID: actorID(r),
			Reason:  strings.TrimSpace(req.Reason),
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
	}
}

type setPaymentRequest struct {
	IsPaid    bool   `json:"isPaid"`
	Reference string `json:"reference"`
}

func (h *AdminOrderHandlers) setPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	order, err := h.orders.SetPaid(ctx, services.SetOrderPaymentCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		IsPaid:    req.IsPaid,
		Reference: strings.TrimSpace(req.Reference),
		ActorID:   actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

type updateTrackingRequest struct {
	CourierCompany string `json:"courierCompany"`
	TrackingID     string `json:"trackingId"`
}

func (h *AdminOrderHandlers) updateTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateTrackingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	order, err := h.orders.UpdateTracking(ctx, services.UpdateTrackingCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		CourierCompany: strings.TrimSpace(req.CourierCompany),
		TrackingID:     strings.TrimSpace(req.TrackingID),
		ActorID:        actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

func (h *AdminOrderHandlers) updateShippingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addressPayload
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	order, err := h.orders.UpdateShippingAddress(ctx, services.UpdateShippingAddressCommand{
		OrderID:         chi.URLParam(r, "orderID"),
		ShippingAddress: req.toDomain(),
		ActorID:         actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

type setArchivedRequest struct {
	Archived *bool `json:"archived"`
}

func (h *AdminOrderHandlers) setArchived(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setArchivedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.Archived == nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("archived is required"))
		return
	}
	order, err := h.orders.SetArchived(ctx, services.SetArchivedCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		Archived: *req.Archived,
		ActorID:  actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, true))
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.orders.Delete(ctx, services.OrderActionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
