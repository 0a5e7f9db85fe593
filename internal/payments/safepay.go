package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	safepaySandboxAPI         = "https://sandbox.api.getsafepay.com"
	safepaySandboxCheckout    = "https://sandbox.api.getsafepay.com/components"
	safepayProductionAPI      = "https://api.getsafepay.com"
	safepayProductionCheckout = "https://getsafepay.com/components"
)

// SafepayConfig configures the Safepay adapter.
type SafepayConfig struct {
	APIKey          string
	SecretKey       string
	Environment     string
	APIBaseURL      string
	CheckoutBaseURL string
	HTTPClient      *http.Client
	Logger          Logger
}

// SafepayProvider creates Safepay trackers and verifies redirect signatures.
type SafepayProvider struct {
	apiKey      string
	secret      []byte
	environment string
	apiBase     string
	checkout    string
	client      *http.Client
	logger      Logger
}

// NewSafepayProvider validates cfg and fills environment defaults.
func NewSafepayProvider(cfg SafepayConfig) (*SafepayProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" || secret == "" {
		return nil, errors.New("safepay: api key and secret key are required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "" {
		env = "sandbox"
	}
	apiBase, checkout := safepaySandboxAPI, safepaySandboxCheckout
	if env == "production" {
		apiBase, checkout = safepayProductionAPI, safepayProductionCheckout
	}
	if v := strings.TrimSpace(cfg.APIBaseURL); v != "" {
		apiBase = v
	}
	if v := strings.TrimSpace(cfg.CheckoutBaseURL); v != "" {
		checkout = v
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &SafepayProvider{
		apiKey:      apiKey,
		secret:      []byte(secret),
		environment: env,
		apiBase:     strings.TrimRight(apiBase, "/"),
		checkout:    checkout,
		client:      client,
		logger:      logger,
	}, nil
}

type safepayInitRequest struct {
	Client      string  `json:"client"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Environment string  `json:"environment"`
}

type safepayInitResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
	Status struct {
		Errors  []string `json:"errors"`
		Message string   `json:"message"`
	} `json:"status"`
}

// CreatePayment initialises a tracker and returns the hosted checkout redirect.
func (p *SafepayProvider) CreatePayment(ctx context.Context, req Request) (Session, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "PKR"
	}
	body, err := json.Marshal(safepayInitRequest{
		Client:      p.apiKey,
		Amount:      float64(req.Amount),
		Currency:    currency,
		Environment: p.environment,
	})
	if err != nil {
		return Session{}, fmt.Errorf("safepay: encode init: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/order/v1/init", bytes.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("safepay: build init request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("%w: safepay init: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("%w: safepay read: %v", ErrGateway, err)
	}
	if resp.StatusCode/100 != 2 {
		p.logger(ctx, "safepay.init.failed", map[string]any{"status": resp.StatusCode, "orderId": req.OrderID})
		return Session{}, fmt.Errorf("%w: safepay init returned %d", ErrGateway, resp.StatusCode)
	}
	var decoded safepayInitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Session{}, fmt.Errorf("%w: safepay decode: %v", ErrGateway, err)
	}
	token := strings.TrimSpace(decoded.Data.Token)
	if token == "" {
		return Session{}, fmt.Errorf("%w: safepay returned no tracker: %s", ErrGateway, strings.Join(decoded.Status.Errors, "; "))
	}

	query := url.Values{}
	query.Set("env", p.environment)
	query.Set("beacon", token)
	query.Set("source", "custom")
	query.Set("order_id", req.OrderID)
	query.Set("redirect_url", req.ReturnURL)
	query.Set("cancel_url", req.CancelURL)

	return Session{
		Reference:   token,
		RedirectURL: p.checkout + "?" + query.Encode(),
	}, nil
}

// VerifyCallback checks sig == hex(HMAC-SHA256(secret, tracker)). Cancel redirects carry no
// signature and are reported as cancelled.
func (p *SafepayProvider) VerifyCallback(_ context.Context, cb Callback) (Result, error) {
	orderID := cb.Get("order_id")
	tracker := cb.Get("tracker")
	if cb.Get("cancelled") == "true" {
		return Result{OrderID: orderID, Status: StatusCancelled, Reference: tracker}, nil
	}
	if orderID == "" || tracker == "" {
		return Result{}, fmt.Errorf("%w: safepay callback missing order_id or tracker", ErrInvalidCallback)
	}
	sig, err := hex.DecodeString(cb.Get("sig"))
	if err != nil || len(sig) == 0 {
		return Result{}, fmt.Errorf("%w: safepay signature malformed", ErrInvalidCallback)
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(tracker))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Result{}, fmt.Errorf("%w: safepay signature mismatch", ErrInvalidCallback)
	}
	return Result{
		OrderID:   orderID,
		Status:    StatusSucceeded,
		Reference: firstNonEmpty(cb.Get("reference"), tracker),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
