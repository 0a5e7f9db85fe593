package payments

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func newTestJazzCash(t *testing.T) *JazzCashProvider {
	t.Helper()
	provider, err := NewJazzCashProvider(JazzCashConfig{
		MerchantID:    "MC12345",
		Password:      "pass",
		IntegritySalt: "salt123",
		Clock:         func() time.Time { return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewJazzCashProvider: %v", err)
	}
	return provider
}

func TestJazzCashCreatePaymentBuildsSignedForm(t *testing.T) {
	provider := newTestJazzCash(t)
	session, err := provider.CreatePayment(context.Background(), Request{
		OrderID:     "ord_1",
		OrderNumber: "AH-2026-000001",
		Amount:      4250,
		ReturnURL:   "https://shop.example/api/v1/payments/JazzCash/callback",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if session.FormAction == "" || session.RedirectURL != "" {
		t.Fatalf("expected form post session, got %#v", session)
	}
	if got := session.FormFields["pp_Amount"]; got != "425000" {
		t.Fatalf("expected amount in paisa, got %q", got)
	}
	if got := session.FormFields["pp_TxnDateTime"]; got != "20260301120000" {
		t.Fatalf("expected PKT timestamp, got %q", got)
	}
	if session.FormFields[jazzCashHashField] != provider.secureHash(session.FormFields) {
		t.Fatalf("secure hash does not match the submitted fields")
	}
}

func TestJazzCashVerifyCallback(t *testing.T) {
	provider := newTestJazzCash(t)
	values := map[string]string{
		"pp_ResponseCode":         "000",
		"pp_Amount":               strconv.Itoa(4250 * 100),
		"pp_TxnRefNo":             "T20260301120000000",
		"pp_RetreivalReferenceNo": "260301000001",
		"ppmpf_1":                 "ord_1",
	}
	values[jazzCashHashField] = provider.secureHash(values)

	result, err := provider.VerifyCallback(context.Background(), Callback{Values: values})
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if result.Status != StatusSucceeded || result.OrderID != "ord_1" || result.Amount != 4250 {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.Reference != "260301000001" {
		t.Fatalf("expected retrieval reference, got %q", result.Reference)
	}

	values["pp_Amount"] = "100"
	if _, err := provider.VerifyCallback(context.Background(), Callback{Values: values}); !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("expected tampered amount to fail, got %v", err)
	}
}

func TestJazzCashDeclinedCallback(t *testing.T) {
	provider := newTestJazzCash(t)
	values := map[string]string{"pp_ResponseCode": "121", "ppmpf_1": "ord_2"}
	values[jazzCashHashField] = provider.secureHash(values)

	result, err := provider.VerifyCallback(context.Background(), Callback{Values: values})
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}
