package handlers

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/requestctx"
)

func TestNewRateLimiterDisabled(t *testing.T) {
	if newRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if newRateLimiter(5, 0, nil) != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(1, time.Minute, func() time.Time { return now })

	allowed, reset := limiter.Allow("k")
	if !allowed || !reset.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected first call allowed with reset in one minute, got %v %v", allowed, reset)
	}
	if allowed, _ := limiter.Allow("k"); allowed {
		t.Fatalf("expected second call limited")
	}
	if allowed, _ := limiter.Allow("other"); !allowed {
		t.Fatalf("keys must be counted separately")
	}

	now = now.Add(time.Minute)
	if allowed, _ := limiter.Allow("k"); !allowed {
		t.Fatalf("expected call allowed in new window")
	}
}

func TestClientKeyPrefersUIDThenIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "192.0.2.10:4411"
	if key := clientKey(req); key != "ip:192.0.2.10" {
		t.Fatalf("expected remote addr host, got %q", key)
	}

	req = req.WithContext(requestctx.WithClientIP(req.Context(), "203.0.113.5"))
	if key := clientKey(req); key != "ip:203.0.113.5" {
		t.Fatalf("expected forwarded client ip, got %q", key)
	}

	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user_1"}))
	if key := clientKey(req); key != "uid:user_1" {
		t.Fatalf("expected uid key, got %q", key)
	}
}
