package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/platform/requestctx"
	"github.com/attarhouse/storefront/internal/services"
)

var invalidInputErrors = []error{
	services.ErrCheckoutInvalidInput,
	services.ErrOrderInvalidInput,
	services.ErrPricingInvalidInput,
	services.ErrCouponInvalidInput,
	services.ErrInventoryInvalidInput,
	services.ErrCatalogInvalidInput,
	services.ErrReviewInvalidInput,
	services.ErrExpenseInvalidInput,
	services.ErrSettingsInvalidInput,
	services.ErrSubscriberInvalidInput,
	services.ErrPaymentInvalidInput,
	services.ErrAnalyticsInvalidRange,
	pagination.ErrInvalidPageSize,
	pagination.ErrInvalidPageToken,
}

var notFoundErrors = []error{
	services.ErrOrderNotFound,
	services.ErrCouponNotFound,
	services.ErrCatalogNotFound,
	services.ErrReviewNotFound,
	services.ErrExpenseNotFound,
	services.ErrProductNotFound,
}

var conflictErrors = []error{
	services.ErrOrderConflict,
	services.ErrCatalogConflict,
	services.ErrCouponConflict,
}

var invalidStateErrors = []error{
	services.ErrOrderInvalidState,
	services.ErrPaymentInvalidState,
	services.ErrReviewInvalidState,
}

var unavailableErrors = []error{
	services.ErrCatalogUnavailable,
	services.ErrCouponUnavailable,
	services.ErrSettingsUnavailable,
}

// writeServiceError translates service sentinels into the canonical error envelope. Unknown errors
// are logged and reported as 500 without leaking their text.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr httpx.Error
	if errors.As(err, &apiErr) {
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	var couponErr *services.CouponRejectedError
	if errors.As(err, &couponErr) {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", couponErr.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(couponErr.Reason), "code": couponErr.Code}))
		return
	}

	var shortage *services.StockShortageError
	if errors.As(err, &shortage) && errors.Is(err, services.ErrInsufficientStock) {
		details := map[string]any{"productId": shortage.ProductID}
		if shortage.VariantID != "" {
			details["variantId"] = shortage.VariantID
		}
		httpx.WriteError(ctx, w, httpx.Conflict("insufficient_stock", "not enough stock to fulfil the order").WithDetails(details))
		return
	}

	var mismatch *services.TotalsMismatchError
	if errors.As(err, &mismatch) {
		httpx.WriteError(ctx, w, httpx.Conflict("totals_mismatch", "cart totals changed; review the updated totals").
			WithDetails(map[string]any{"totals": totalsPayloadFrom(mismatch.Actual)}))
		return
	}

	switch {
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.Conflict("insufficient_stock", "not enough stock to fulfil the order"))
	case errors.Is(err, services.ErrCheckoutTotalsMismatch):
		httpx.WriteError(ctx, w, httpx.Conflict("totals_mismatch", "cart totals changed; review the updated totals"))
	case errors.Is(err, services.ErrCheckoutCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon cannot be applied", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponLimitReached), errors.Is(err, services.ErrCouponInactive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentInvalidCallback):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", "payment callback could not be verified", http.StatusBadRequest))
	case services.IsPaymentGatewayError(err):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway is unavailable; please retry", http.StatusBadGateway))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.BadRequest("payment method is not available"))
	case matchesAny(err, invalidInputErrors):
		httpx.WriteError(ctx, w, httpx.BadRequest(err.Error()))
	case matchesAny(err, notFoundErrors):
		httpx.WriteError(ctx, w, httpx.NotFound(err.Error()))
	case matchesAny(err, conflictErrors):
		httpx.WriteError(ctx, w, httpx.Conflict("conflict", err.Error()))
	case matchesAny(err, invalidStateErrors):
		httpx.WriteError(ctx, w, httpx.Conflict("invalid_state", err.Error()))
	case matchesAny(err, unavailableErrors):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func unauthenticated() httpx.Error {
	return httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized)
}

// actorID returns the authenticated uid recorded on admin audit entries.
func actorID(r *http.Request) string {
	return auth.UserID(r.Context())
}
