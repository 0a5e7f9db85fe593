package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	checkoutReleaseReasonCouponFailed  = "checkout_coupon_failed"
	checkoutReleaseReasonPersistFailed = "checkout_persist_failed"
	checkoutMaxLines                   = 50
	checkoutMaxQuantity                = 100
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCouponInvalid indicates the coupon was rejected; the order was not created.
	ErrCheckoutCouponInvalid = errors.New("checkout: coupon invalid")
	// ErrCheckoutTotalsMismatch indicates the client's totals differ from the server quote.
	ErrCheckoutTotalsMismatch = errors.New("checkout: totals mismatch")
)

// CouponRejectedError carries the reason a coupon could not be applied at checkout.
type CouponRejectedError struct {
	Code    string
	Reason  CouponRejection
	Message string
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("%v: %s (%s)", ErrCheckoutCouponInvalid, e.Code, e.Reason)
}

func (e *CouponRejectedError) Unwrap() error { return ErrCheckoutCouponInvalid }

// TotalsMismatchError reports the server quote the client should re-render with.
type TotalsMismatchError struct {
	Expected Totals
	Actual   Totals
}

func (e *TotalsMismatchError) Error() string {
	return fmt.Sprintf("%v: client total %d, server total %d", ErrCheckoutTotalsMismatch, e.Expected.TotalAmount, e.Actual.TotalAmount)
}

func (e *TotalsMismatchError) Unwrap() error { return ErrCheckoutTotalsMismatch }

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products    repositories.ProductRepository
	Pricing     PricingService
	Coupons     CouponService
	Inventory   InventoryService
	Orders      OrderService
	Payments    PaymentService
	Metrics     CheckoutMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products  repositories.ProductRepository
	pricing   PricingService
	coupons   CouponService
	inventory InventoryService
	orders    OrderService
	payments  PaymentService
	metrics   CheckoutMetrics
	clock     func() time.Time
	newID     func() string
	logger    logFunc
}

// NewCheckoutService constructs a CheckoutService validating required dependencies. Payments is
// optional; without it only cash on delivery can be placed.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing service is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon service is required")
	case deps.Inventory == nil:
		return nil, errors.New("checkout service: inventory service is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	}
	return &checkoutService{
		products:  deps.Products,
		pricing:   deps.Pricing,
		coupons:   deps.Coupons,
		inventory: deps.Inventory,
		orders:    deps.Orders,
		payments:  deps.Payments,
		metrics:   deps.Metrics,
		clock:     utcClock(deps.Clock),
		newID:     ulidGenerator(deps.IDGenerator),
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

type placement struct {
	userID         string
	lines          []AdminOrderLine
	address        ShippingAddress
	method         PaymentMethod
	couponCode     string
	expected       *Totals
	source         domain.OrderSource
	markPaid       bool
	allowHidden    bool
	actorID        string
	idempotencyKey string
}

// QuoteCart prices a storefront cart against the live catalog without reserving anything. Coupon
// rejections are reported on the quote rather than as errors.
func (s *checkoutService) QuoteCart(ctx context.Context, cmd QuoteCartCommand) (Quote, error) {
	lines := make([]AdminOrderLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		lines = append(lines, AdminOrderLine{CartLine: item})
	}
	if err := validatePlacement(placement{lines: lines, method: domain.PaymentMethodCOD}); err != nil {
		return Quote{}, err
	}
	items, err := s.resolveItems(ctx, lines, false)
	if err != nil {
		return Quote{}, err
	}
	quote, err := s.pricing.Quote(ctx, QuoteCommand{Items: items, CouponCode: cmd.CouponCode, UserID: cmd.UserID})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrCouponInvalidInput) {
			return Quote{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return Quote{}, err
	}
	return quote, nil
}

// PlaceOrder prices the cart with current catalog prices and settings, reserves stock, redeems the
// coupon and persists the order. Online payments are started last; a gateway failure leaves the
// order pending and is reported in the result.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if cmd.PaymentMethod.Online() && s.payments == nil {
		return PlaceOrderResult{}, fmt.Errorf("%w: payment method %s is not available", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	lines := make([]AdminOrderLine, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		lines = append(lines, AdminOrderLine{CartLine: item})
	}

	order, err := s.place(ctx, placement{
		userID:         cmd.UserID,
		lines:          lines,
		address:        cmd.ShippingAddress,
		method:         cmd.PaymentMethod,
		couponCode:     cmd.CouponCode,
		expected:       cmd.ExpectedTotals,
		source:         domain.OrderSourceStorefront,
		idempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	result := PlaceOrderResult{Order: order}
	if !order.PaymentMethod.Online() {
		return result, nil
	}

	session, err := s.payments.Start(ctx, StartPaymentCommand{OrderID: order.ID, IdempotencyKey: cmd.IdempotencyKey})
	if err != nil {
		s.logger(ctx, "checkout.payment.start_failed", map[string]any{
			"orderId": order.ID,
			"method":  string(order.PaymentMethod),
			"error":   err.Error(),
		})
		result.PaymentError = err
		return result, nil
	}
	result.Payment = &session
	return result, nil
}

// CreateAdminOrder runs the checkout pipeline for a manual order. Unit prices may be overridden per
// line and unpublished products are allowed.
func (s *checkoutService) CreateAdminOrder(ctx context.Context, cmd AdminOrderCommand) (Order, error) {
	return s.place(ctx, placement{
		userID:      cmd.UserID,
		lines:       cmd.Items,
		address:     cmd.ShippingAddress,
		method:      cmd.PaymentMethod,
		couponCode:  cmd.CouponCode,
		source:      domain.OrderSourceAdmin,
		markPaid:    cmd.MarkPaid,
		allowHidden: true,
		actorID:     cmd.ActorID,
	})
}

func (s *checkoutService) place(ctx context.Context, p placement) (Order, error) {
	if err := validatePlacement(p); err != nil {
		return Order{}, err
	}
	address, err := normalizeShippingAddress(p.address)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	items, err := s.resolveItems(ctx, p.lines, p.allowHidden)
	if err != nil {
		return Order{}, err
	}

	quote, err := s.pricing.Quote(ctx, QuoteCommand{Items: items, CouponCode: p.couponCode, UserID: p.userID})
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrCouponInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return Order{}, err
	}
	if quote.Coupon != nil && !quote.Coupon.Valid {
		return Order{}, &CouponRejectedError{Code: quote.Coupon.Code, Reason: quote.Coupon.Reason, Message: quote.Coupon.Message}
	}
	if p.expected != nil && *p.expected != quote.Totals {
		s.logger(ctx, "checkout.totals.mismatch", map[string]any{
			"clientTotal": p.expected.TotalAmount,
			"serverTotal": quote.Totals.TotalAmount,
		})
		return Order{}, &TotalsMismatchError{Expected: *p.expected, Actual: quote.Totals}
	}

	orderID := NewOrderID(s.newID)
	stockLines := StockLinesFromItems(items)
	if err := s.inventory.Reserve(ctx, ReserveStockCommand{OrderID: orderID, Lines: stockLines}); err != nil {
		return Order{}, err
	}

	var redeemed *Coupon
	if quote.Coupon != nil {
		coupon, err := s.coupons.Redeem(ctx, RedeemCouponCommand{Code: quote.Coupon.Code, UserID: p.userID, OrderID: orderID})
		if err != nil {
			s.inventory.Restore(ctx, RestoreStockCommand{OrderID: orderID, Reason: checkoutReleaseReasonCouponFailed, Lines: stockLines})
			return Order{}, redemptionError(quote.Coupon.Code, err)
		}
		redeemed = &coupon
	}

	order, err := s.orders.Create(ctx, CreateOrderCommand{
		OrderID:         orderID,
		UserID:          p.userID,
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   p.method,
		Totals:          quote.Totals,
		CouponCode:      couponCodeOf(redeemed),
		IsPaid:          p.markPaid,
		StockReserved:   true,
		Source:          p.source,
		ActorID:         p.actorID,
	})
	if err != nil {
		s.inventory.Restore(ctx, RestoreStockCommand{OrderID: orderID, Reason: checkoutReleaseReasonPersistFailed, Lines: stockLines})
		if redeemed != nil {
			if releaseErr := s.coupons.Release(ctx, RedeemCouponCommand{Code: redeemed.Code, UserID: p.userID, OrderID: orderID}); releaseErr != nil {
				s.logger(ctx, "checkout.coupon.release_failed", map[string]any{
					"orderId": orderID,
					"code":    redeemed.Code,
					"error":   releaseErr.Error(),
				})
			}
		}
		if errors.Is(err, ErrOrderInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderPlaced(ctx, order.PaymentMethod, order.TotalAmount)
		if redeemed != nil {
			s.metrics.CouponRedeemed(ctx, redeemed.Code)
		}
	}
	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"source":      string(order.Source),
		"total":       order.TotalAmount,
		"idempotency": p.idempotencyKey,
	})
	return order, nil
}

func validatePlacement(p placement) error {
	if len(p.lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	if len(p.lines) > checkoutMaxLines {
		return fmt.Errorf("%w: at most %d lines are allowed", ErrCheckoutInvalidInput, checkoutMaxLines)
	}
	for i, line := range p.lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: line %d product id is required", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity < 1 || line.Quantity > checkoutMaxQuantity {
			return fmt.Errorf("%w: line %d quantity must be between 1 and %d", ErrCheckoutInvalidInput, i, checkoutMaxQuantity)
		}
		if line.UnitPrice != nil && *line.UnitPrice < 0 {
			return fmt.Errorf("%w: line %d price must be non-negative", ErrCheckoutInvalidInput, i)
		}
	}
	if !p.method.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, p.method)
	}
	return nil
}

// resolveItems snapshots name, unit price, image and sub-category from the catalog.
func (s *checkoutService) resolveItems(ctx context.Context, lines []AdminOrderLine, allowHidden bool) ([]LineItem, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("checkout: load products: %w", err)
	}

	items := make([]LineItem, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := products[productID]
		if !ok || (!product.IsPublished && !allowHidden) {
			return nil, fmt.Errorf("%w: line %d product %s is not available", ErrCheckoutInvalidInput, i, productID)
		}

		item := LineItem{
			ProductID:   product.ID,
			Name:        product.Name,
			Price:       product.Price,
			Quantity:    line.Quantity,
			SubCategory: product.SubCategory,
		}
		if len(product.Images) > 0 {
			item.Image = product.Images[0]
		}
		if variantID := strings.TrimSpace(line.VariantID); variantID != "" {
			variant, ok := product.Variant(variantID)
			if !ok {
				return nil, fmt.Errorf("%w: line %d variant %s is not available", ErrCheckoutInvalidInput, i, variantID)
			}
			item.VariantID = valuePtr(variant.ID)
			item.Price = variant.Price
			if variant.Name != "" {
				item.Name = product.Name + " - " + variant.Name
			}
		} else if len(product.Variants) > 0 {
			return nil, fmt.Errorf("%w: line %d product %s requires a variant", ErrCheckoutInvalidInput, i, productID)
		}
		if line.UnitPrice != nil {
			item.Price = *line.UnitPrice
		}
		items = append(items, item)
	}
	return items, nil
}

func redemptionError(code string, err error) error {
	var reason CouponRejection
	switch {
	case errors.Is(err, ErrCouponLimitReached):
		reason = CouponRejectionLimitReached
	case errors.Is(err, ErrCouponInactive):
		reason = CouponRejectionExpired
	case errors.Is(err, ErrCouponNotFound):
		reason = CouponRejectionNotFound
	default:
		return err
	}
	return &CouponRejectedError{Code: code, Reason: reason, Message: couponRejectionMessage(reason)}
}

func couponCodeOf(coupon *Coupon) string {
	if coupon == nil {
		return ""
	}
	return coupon.Code
}

// IsPaymentGatewayError reports whether err came from a gateway rather than from validation.
func IsPaymentGatewayError(err error) bool {
	return errors.Is(err, payments.ErrGateway) || errors.Is(err, ErrPaymentGateway)
}
