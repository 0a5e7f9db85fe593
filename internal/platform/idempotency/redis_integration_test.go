//go:build integration

package idempotency

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestRedisStoreLifecycle(t *testing.T) {
	addr := os.Getenv("API_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr, os.Getenv("API_REDIS_PASSWORD"), 0)
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "idem-test:"+time.Now().Format("150405.000000")+":")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	now := time.Now().UTC()

	res, err := store.Reserve(ctx, "k|uid:1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v (%v)", res, err)
	}
	res, err = store.Reserve(ctx, "k|uid:1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v (%v)", res, err)
	}
	if _, err := store.Reserve(ctx, "k|uid:1", "other", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	if err := store.SaveResponse(ctx, "k|uid:1", "fp", Response{Status: 201, Body: []byte(`{"ok":true}`)}, now, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "k|uid:1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateCompleted || string(res.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("expected completed record, got %+v (%v)", res, err)
	}

	if err := store.Release(ctx, "k|uid:1", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = store.Reserve(ctx, "k|uid:1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %+v (%v)", res, err)
	}
}
