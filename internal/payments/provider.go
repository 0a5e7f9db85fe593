package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the gateway has not reached a final decision.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway declined the payment.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the customer abandoned the gateway page.
	StatusCancelled Status = "cancelled"
)

const (
	ProviderSafepay  = "safepay"
	ProviderJazzCash = "jazzcash"
	ProviderStripe   = "stripe"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidCallback is returned when a callback fails signature or field validation.
	ErrInvalidCallback = errors.New("payments: invalid callback")
	// ErrGateway wraps transport and non-success responses from a gateway.
	ErrGateway = errors.New("payments: gateway error")
)

// Logger receives structured provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// ProviderFor maps a checkout payment method to the provider key that serves it. COD has none.
func ProviderFor(method domain.PaymentMethod) (string, bool) {
	switch method {
	case domain.PaymentMethodSafepay:
		return ProviderSafepay, true
	case domain.PaymentMethodJazzCash:
		return ProviderJazzCash, true
	case domain.PaymentMethodOnline:
		return ProviderStripe, true
	default:
		return "", false
	}
}

// Customer is the contact passed to gateways that pre-fill their hosted pages.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Request is the amount-and-order pair a gateway is asked to charge.
type Request struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Description    string
	Customer       Customer
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
}

// Session tells the client how to reach the gateway: either a redirect or an auto-submitted form.
type Session struct {
	Provider    string
	Reference   string
	RedirectURL string
	FormAction  string
	FormFields  map[string]string
	ExpiresAt   *time.Time
}

// Callback carries the query or form values the gateway sent back.
type Callback struct {
	Values map[string]string
}

// Get returns the trimmed value for key.
func (c Callback) Get(key string) string {
	return strings.TrimSpace(c.Values[key])
}

// Result is a verified callback outcome.
type Result struct {
	Provider  string
	OrderID   string
	Status    Status
	Reference string
	// Amount is zero when the gateway does not echo it.
	Amount int64
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreatePayment(ctx context.Context, req Request) (Session, error)
	VerifyCallback(ctx context.Context, cb Callback) (Result, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers map[string]Provider
}

// NewManager constructs a Manager over the supplied providers keyed by provider name.
func NewManager(providers map[string]Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	return &Manager{providers: copyMap}, nil
}

// Supports reports whether a provider is registered for the payment method.
func (m *Manager) Supports(method domain.PaymentMethod) bool {
	_, _, err := m.resolveProvider(method)
	return err == nil
}

func (m *Manager) resolveProvider(method domain.PaymentMethod) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	key, ok := ProviderFor(method)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
	}
	provider, ok := m.providers[key]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s not configured", ErrUnsupportedProvider, key)
	}
	return key, provider, nil
}

// CreatePayment delegates to the provider serving method.
func (m *Manager) CreatePayment(ctx context.Context, method domain.PaymentMethod, req Request) (Session, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return Session{}, err
	}
	if req.Amount <= 0 {
		return Session{}, fmt.Errorf("payments: amount must be positive, got %d", req.Amount)
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return Session{}, errors.New("payments: order id is required")
	}
	session, err := provider.CreatePayment(ctx, req)
	if err != nil {
		return Session{}, err
	}
	session.Provider = key
	return session, nil
}

// VerifyCallback delegates to the provider serving method.
func (m *Manager) VerifyCallback(ctx context.Context, method domain.PaymentMethod, cb Callback) (Result, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.VerifyCallback(ctx, cb)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

// MethodFor maps a provider key from a callback URL back to its payment method.
func MethodFor(provider string) (domain.PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderSafepay:
		return domain.PaymentMethodSafepay, true
	case ProviderJazzCash:
		return domain.PaymentMethodJazzCash, true
	case ProviderStripe:
		return domain.PaymentMethodOnline, true
	default:
		return "", false
	}
}
