package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/textutil"
)

const defaultPaymentCurrency = "PKR"

var (
	// ErrPaymentInvalidInput indicates the order cannot be paid online.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentInvalidState indicates the order is already paid or no longer payable.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentInvalidCallback indicates a tampered, expired or mismatched gateway callback.
	ErrPaymentInvalidCallback = errors.New("payment: invalid callback")
	// ErrPaymentGateway indicates the gateway could not be reached or refused the request.
	ErrPaymentGateway = errors.New("payment: gateway error")
)

type paymentGateway interface {
	Supports(method domain.PaymentMethod) bool
	CreatePayment(ctx context.Context, method domain.PaymentMethod, req payments.Request) (payments.Session, error)
	VerifyCallback(ctx context.Context, method domain.PaymentMethod, cb payments.Callback) (payments.Result, error)
}

type paymentStateCodec interface {
	Sign(orderID string, amount int64, method string) (string, error)
	Verify(token string) (payments.StateClaims, error)
}

// PaymentServiceDeps bundles collaborators for the payment bridge.
type PaymentServiceDeps struct {
	Orders  OrderService
	Gateway paymentGateway
	State   paymentStateCodec
	// CallbackBaseURL is the public API origin plus base path, e.g. https://api.example.com/api/v1.
	CallbackBaseURL string
	Currency        string
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders       OrderService
	gateway      paymentGateway
	state        paymentStateCodec
	callbackBase string
	currency     string
	clock        func() time.Time
	logger       logFunc
}

func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.State == nil {
		return nil, errors.New("payment service: state signer is required")
	}
	base := strings.TrimRight(strings.TrimSpace(deps.CallbackBaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("payment service: invalid callback base url %q", deps.CallbackBaseURL)
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultPaymentCurrency
	}
	return &paymentService{
		orders:       deps.Orders,
		gateway:      deps.Gateway,
		state:        deps.State,
		callbackBase: base,
		currency:     currency,
		clock:        utcClock(deps.Clock),
		logger:       loggerOrNoop(deps.Logger),
	}, nil
}

// Start opens a gateway session for the order's full total. The amount is never taken from the
// caller.
func (s *paymentService) Start(ctx context.Context, cmd StartPaymentCommand) (payments.Session, error) {
	order, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return payments.Session{}, err
	}
	if !order.PaymentMethod.Online() {
		return payments.Session{}, fmt.Errorf("%w: order %s is paid by %s", ErrPaymentInvalidInput, order.ID, order.PaymentMethod)
	}
	if !s.gateway.Supports(order.PaymentMethod) {
		return payments.Session{}, fmt.Errorf("%w: %s is not configured", ErrPaymentInvalidInput, order.PaymentMethod)
	}
	if order.IsPaid {
		return payments.Session{}, fmt.Errorf("%w: order %s is already paid", ErrPaymentInvalidState, order.ID)
	}
	if order.Status.Terminal() {
		return payments.Session{}, fmt.Errorf("%w: order %s is %s", ErrPaymentInvalidState, order.ID, order.Status)
	}

	provider, _ := payments.ProviderFor(order.PaymentMethod)
	state, err := s.state.Sign(order.ID, order.TotalAmount, string(order.PaymentMethod))
	if err != nil {
		return payments.Session{}, err
	}

	returnQuery := url.Values{"state": {state}}
	cancelQuery := url.Values{"state": {state}, "cancelled": {"true"}, "order_id": {order.ID}}
	req := payments.Request{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		Currency:    s.currency,
		Description: "Attar House order " + order.OrderNumber,
		Customer: payments.Customer{
			Name:  order.ShippingAddress.FullName,
			Email: order.ShippingAddress.Email,
			Phone: order.ShippingAddress.Phone,
		},
		ReturnURL:      fmt.Sprintf("%s/payments/%s/callback?%s", s.callbackBase, provider, returnQuery.Encode()),
		CancelURL:      fmt.Sprintf("%s/payments/%s/cancel?%s", s.callbackBase, provider, cancelQuery.Encode()),
		IdempotencyKey: cmd.IdempotencyKey,
	}

	session, err := s.gateway.CreatePayment(ctx, order.PaymentMethod, req)
	if err != nil {
		s.logger(ctx, "payment.start.failed", map[string]any{
			"orderId":  order.ID,
			"provider": provider,
			"error":    err.Error(),
		})
		return payments.Session{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	s.logger(ctx, "payment.started", map[string]any{
		"orderId":   order.ID,
		"provider":  provider,
		"reference": session.Reference,
		"amount":    order.TotalAmount,
	})
	return session, nil
}

// Confirm verifies a gateway callback and marks the order paid on success. Status is untouched.
func (s *paymentService) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentOutcome, error) {
	values := textutil.NormalizeStringMap(cmd.Values)
	if values == nil {
		values = map[string]string{}
	}
	claims, err := s.state.Verify(values["state"])
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentInvalidCallback, err)
	}
	if claims.Method != string(cmd.Method) {
		return PaymentOutcome{}, fmt.Errorf("%w: state issued for %s, callback for %s", ErrPaymentInvalidCallback, claims.Method, cmd.Method)
	}

	order, err := s.orders.GetOrder(ctx, claims.OrderID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if order.IsPaid {
		return PaymentOutcome{Order: order, Status: payments.StatusSucceeded}, nil
	}
	if claims.Amount != order.TotalAmount {
		s.logMismatch(ctx, order, "state_amount", claims.Amount)
		return PaymentOutcome{}, fmt.Errorf("%w: amount does not match order total", ErrPaymentInvalidCallback)
	}

	result, err := s.gateway.VerifyCallback(ctx, cmd.Method, payments.Callback{Values: values})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidCallback) {
			s.logger(ctx, "payment.callback.rejected", map[string]any{"orderId": order.ID, "error": err.Error()})
			return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentInvalidCallback, err)
		}
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if result.OrderID != "" && result.OrderID != order.ID {
		s.logger(ctx, "payment.callback.order_mismatch", map[string]any{"orderId": order.ID, "callbackOrderId": result.OrderID})
		return PaymentOutcome{}, fmt.Errorf("%w: callback is for a different order", ErrPaymentInvalidCallback)
	}
	if result.Amount > 0 && result.Amount != order.TotalAmount {
		s.logMismatch(ctx, order, "gateway_amount", result.Amount)
		return PaymentOutcome{}, fmt.Errorf("%w: gateway amount does not match order total", ErrPaymentInvalidCallback)
	}

	if result.Status != payments.StatusSucceeded {
		s.logger(ctx, "payment.not_completed", map[string]any{
			"orderId":   order.ID,
			"provider":  result.Provider,
			"status":    string(result.Status),
			"reference": result.Reference,
		})
		return PaymentOutcome{Order: order, Status: result.Status}, nil
	}

	paid, err := s.orders.SetPaid(ctx, SetOrderPaymentCommand{
		OrderID:   order.ID,
		IsPaid:    true,
		Reference: result.Reference,
		ActorID:   "gateway:" + result.Provider,
	})
	if err != nil {
		return PaymentOutcome{}, err
	}
	s.logger(ctx, "payment.confirmed", map[string]any{
		"orderId":   order.ID,
		"provider":  result.Provider,
		"reference": result.Reference,
		"amount":    order.TotalAmount,
	})
	return PaymentOutcome{Order: paid, Status: payments.StatusSucceeded}, nil
}

func (s *paymentService) logMismatch(ctx context.Context, order Order, field string, got int64) {
	s.logger(ctx, "payment.callback.amount_mismatch", map[string]any{
		"orderId": order.ID,
		"field":   field,
		"got":     got,
		"want":    order.TotalAmount,
	})
}
