package payments

import (
	"errors"
	"testing"
	"time"
)

func TestStateSignerRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	signer, err := NewStateSigner([]byte("0123456789abcdef0123"), 10*time.Minute, clock)
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}

	token, err := signer.Sign("ord_1", 4250, "safepay")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.OrderID != "ord_1" || claims.Amount != 4250 || claims.Method != "safepay" {
		t.Fatalf("unexpected claims %#v", claims)
	}

	now = now.Add(11 * time.Minute)
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected expiry failure, got %v", err)
	}
}

func TestStateSignerRejectsForeignKey(t *testing.T) {
	a, _ := NewStateSigner([]byte("0123456789abcdef-a"), 0, nil)
	b, _ := NewStateSigner([]byte("0123456789abcdef-b"), 0, nil)
	token, err := a.Sign("ord_1", 10, "jazzcash")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestNewStateSignerRequiresKey(t *testing.T) {
	if _, err := NewStateSigner([]byte("short"), 0, nil); err == nil {
		t.Fatalf("expected error for short key")
	}
}
