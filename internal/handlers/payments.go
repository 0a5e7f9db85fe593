package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/requestctx"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/services"
)

const maxCallbackBodySize = 64 * 1024

// PaymentHandlers receive gateway return and cancel redirects. When a storefront URL is configured
// the browser is redirected back to it; otherwise the outcome is returned as JSON.
type PaymentHandlers struct {
	payments   services.PaymentService
	storefront string
}

func NewPaymentHandlers(svc services.PaymentService, storefrontURL string) *PaymentHandlers {
	return &PaymentHandlers{
		payments:   svc,
		storefront: strings.TrimRight(strings.TrimSpace(storefrontURL), "/"),
	}
}

// Routes registers the callback endpoints under /payments.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{provider}/callback", h.callback)
	r.Post("/{provider}/callback", h.callback)
	r.Get("/{provider}/cancel", h.cancel)
	r.Post("/{provider}/cancel", h.cancel)
}

type paymentOutcomePayload struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	IsPaid      bool   `json:"isPaid"`
}

func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, false)
}

func (h *PaymentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, true)
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request, cancelled bool) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "online payments are not configured", http.StatusServiceUnavailable))
		return
	}
	method, ok := payments.MethodFor(chi.URLParam(r, "provider"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NotFound("unknown payment provider"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("malformed callback parameters"))
		return
	}
	values := textutil.FlattenValues(r.Form)
	if cancelled {
		if values == nil {
			values = make(map[string]string, 1)
		}
		values["cancelled"] = "true"
	}

	outcome, err := h.payments.Confirm(ctx, services.ConfirmPaymentCommand{Method: method, Values: values})
	if err != nil {
		requestctx.Logger(ctx).Warn("payment callback failed",
			zap.String("method", string(method)),
			zap.Bool("cancelled", cancelled),
			zap.Error(err),
		)
		if h.storefront != "" && !errors.Is(err, services.ErrOrderNotFound) {
			h.redirect(w, r, "/checkout", url.Values{"payment": {"failed"}, "order": {values["order_id"]}})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	if h.storefront == "" {
		httpx.WriteJSON(w, http.StatusOK, paymentOutcomePayload{
			OrderID:     outcome.Order.ID,
			OrderNumber: outcome.Order.OrderNumber,
			Status:      string(outcome.Status),
			IsPaid:      outcome.Order.IsPaid,
		})
		return
	}
	if outcome.Status == payments.StatusSucceeded {
		h.redirect(w, r, "/order-confirmation/"+url.PathEscape(outcome.Order.ID), url.Values{"status": {string(outcome.Status)}})
		return
	}
	h.redirect(w, r, "/checkout", url.Values{"payment": {string(outcome.Status)}, "order": {outcome.Order.ID}})
}

func (h *PaymentHandlers) redirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	for key, vals := range query {
		if len(vals) == 0 || vals[0] == "" {
			delete(query, key)
		}
	}
	target := h.storefront + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
