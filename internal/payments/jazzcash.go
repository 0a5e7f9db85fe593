package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	jazzCashSandboxPostURL = "https://sandbox.jazzcash.com.pk/CustomerPortal/transactionmanagement/merchantform/"
	jazzCashTimeLayout     = "20060102150405"
	jazzCashSuccessCode    = "000"
	jazzCashPendingCode    = "124"
	jazzCashOrderField     = "ppmpf_1"
	jazzCashHashField      = "pp_SecureHash"
)

// JazzCashConfig configures the JazzCash hosted checkout adapter.
type JazzCashConfig struct {
	MerchantID    string
	Password      string
	IntegritySalt string
	PostURL       string
	// Location is the merchant timezone used for pp_TxnDateTime; JazzCash expects PKT.
	Location *time.Location
	TxnTTL   time.Duration
	Clock    func() time.Time
}

// JazzCashProvider builds signed form posts and verifies the signed responses.
type JazzCashProvider struct {
	merchantID string
	password   string
	salt       string
	postURL    string
	location   *time.Location
	ttl        time.Duration
	clock      func() time.Time
}

// NewJazzCashProvider validates cfg.
func NewJazzCashProvider(cfg JazzCashConfig) (*JazzCashProvider, error) {
	merchant := strings.TrimSpace(cfg.MerchantID)
	password := strings.TrimSpace(cfg.Password)
	salt := strings.TrimSpace(cfg.IntegritySalt)
	if merchant == "" || password == "" || salt == "" {
		return nil, errors.New("jazzcash: merchant id, password and integrity salt are required")
	}
	postURL := strings.TrimSpace(cfg.PostURL)
	if postURL == "" {
		postURL = jazzCashSandboxPostURL
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.FixedZone("PKT", 5*60*60)
	}
	ttl := cfg.TxnTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &JazzCashProvider{
		merchantID: merchant,
		password:   password,
		salt:       salt,
		postURL:    postURL,
		location:   loc,
		ttl:        ttl,
		clock:      clock,
	}, nil
}

// CreatePayment returns the pp_* form the browser must post to JazzCash. Amounts are sent in paisa.
func (p *JazzCashProvider) CreatePayment(_ context.Context, req Request) (Session, error) {
	now := p.clock().In(p.location)
	expires := now.Add(p.ttl)
	txnRef := "T" + now.Format(jazzCashTimeLayout) + fmt.Sprintf("%03d", now.Nanosecond()/int(time.Millisecond))

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Order " + firstNonEmpty(req.OrderNumber, req.OrderID)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "PKR"
	}

	fields := map[string]string{
		"pp_Version":           "1.1",
		"pp_TxnType":           "",
		"pp_Language":          "EN",
		"pp_MerchantID":        p.merchantID,
		"pp_SubMerchantID":     "",
		"pp_Password":          p.password,
		"pp_BankID":            "",
		"pp_ProductID":         "",
		"pp_TxnRefNo":          txnRef,
		"pp_Amount":            strconv.FormatInt(req.Amount*100, 10),
		"pp_TxnCurrency":       currency,
		"pp_TxnDateTime":       now.Format(jazzCashTimeLayout),
		"pp_BillReference":     firstNonEmpty(req.OrderNumber, req.OrderID),
		"pp_Description":       description,
		"pp_TxnExpiryDateTime": expires.Format(jazzCashTimeLayout),
		"pp_ReturnURL":         req.ReturnURL,
		jazzCashOrderField:     req.OrderID,
	}
	fields[jazzCashHashField] = p.secureHash(fields)

	expiresUTC := expires.UTC()
	return Session{
		Reference:  txnRef,
		FormAction: p.postURL,
		FormFields: fields,
		ExpiresAt:  &expiresUTC,
	}, nil
}

// VerifyCallback recomputes pp_SecureHash over the returned fields.
func (p *JazzCashProvider) VerifyCallback(_ context.Context, cb Callback) (Result, error) {
	received := strings.ToUpper(cb.Get(jazzCashHashField))
	if received == "" {
		return Result{}, fmt.Errorf("%w: jazzcash callback missing secure hash", ErrInvalidCallback)
	}
	signed := make(map[string]string, len(cb.Values))
	for k, v := range cb.Values {
		if strings.HasPrefix(k, "pp_") || strings.HasPrefix(k, "ppmpf_") {
			signed[k] = v
		}
	}
	expected := p.secureHash(signed)
	if !hmac.Equal([]byte(received), []byte(expected)) {
		return Result{}, fmt.Errorf("%w: jazzcash secure hash mismatch", ErrInvalidCallback)
	}

	orderID := firstNonEmpty(cb.Get(jazzCashOrderField), cb.Get("pp_BillReference"))
	if orderID == "" {
		return Result{}, fmt.Errorf("%w: jazzcash callback missing order reference", ErrInvalidCallback)
	}
	var amount int64
	if raw := cb.Get("pp_Amount"); raw != "" {
		paisa, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Result{}, fmt.Errorf("%w: jazzcash amount %q", ErrInvalidCallback, raw)
		}
		amount = paisa / 100
	}

	status := StatusFailed
	switch cb.Get("pp_ResponseCode") {
	case jazzCashSuccessCode:
		status = StatusSucceeded
	case jazzCashPendingCode:
		status = StatusPending
	}
	return Result{
		OrderID:   orderID,
		Status:    status,
		Reference: firstNonEmpty(cb.Get("pp_RetreivalReferenceNo"), cb.Get("pp_TxnRefNo")),
		Amount:    amount,
	}, nil
}

// secureHash is HMAC-SHA256 keyed by the integrity salt over "salt&v1&v2..." where values are
// taken in key order and empty values are skipped.
func (p *JazzCashProvider) secureHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == jazzCashHashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.salt)
	for _, k := range keys {
		if v := fields[k]; v != "" {
			b.WriteByte('&')
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha256.New, []byte(p.salt))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
