package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   Logger
	Clock    func() time.Time
	Sessions stripeSessionAPI
}

// StripeProvider serves the "Online Payment" card method through Stripe Checkout.
type StripeProvider struct {
	sessions stripeSessionAPI
	clock    func() time.Time
	logger   Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &StripeProvider{
		sessions: sessions,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePayment creates a Checkout Session charging the order total as a single line. PKR is a
// two-decimal currency in Stripe, so rupees are sent as paisa.
func (p *StripeProvider) CreatePayment(ctx context.Context, req Request) (Session, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "pkr"
	}
	name := "Order " + firstNonEmpty(req.OrderNumber, req.OrderID)

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(appendQuery(req.ReturnURL, "session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount * 100),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
		Metadata: map[string]string{"orderId": req.OrderID},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: stripe create checkout session: %v", ErrGateway, err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Session{
		Reference:   session.ID,
		RedirectURL: session.URL,
		ExpiresAt:   &expiresAt,
	}, nil
}

// VerifyCallback fetches the session named by session_id; the redirect itself is unsigned.
func (p *StripeProvider) VerifyCallback(ctx context.Context, cb Callback) (Result, error) {
	sessionID := cb.Get("session_id")
	if sessionID == "" {
		if cb.Get("cancelled") == "true" {
			return Result{OrderID: cb.Get("order_id"), Status: StatusCancelled}, nil
		}
		return Result{}, fmt.Errorf("%w: stripe callback missing session_id", ErrInvalidCallback)
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return Result{}, fmt.Errorf("%w: stripe get checkout session: %v", ErrGateway, err)
	}

	orderID := session.Metadata["orderId"]
	if orderID == "" {
		orderID = session.ClientReferenceID
	}
	if orderID == "" {
		return Result{}, fmt.Errorf("%w: stripe session %s has no order reference", ErrInvalidCallback, sessionID)
	}

	status := StatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusCancelled
	}
	reference := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		reference = session.PaymentIntent.ID
	}
	return Result{
		OrderID:   orderID,
		Status:    status,
		Reference: reference,
		Amount:    session.AmountTotal / 100,
	}, nil
}

func appendQuery(rawURL, query string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}
