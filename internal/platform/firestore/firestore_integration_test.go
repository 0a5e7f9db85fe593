//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/platform/firestore/firestoretest"
)

type stockEntity struct {
	Name  string `firestore:"name"`
	Stock int    `firestore:"stock"`
}

type repoClassifier interface {
	IsNotFound() bool
	IsConflict() bool
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	provider := firestoretest.NewProvider(t, "attar-test")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	repo := pfirestore.NewBaseRepository[stockEntity](provider, "samples", nil)

	if err := repo.Create(ctx, "oud", stockEntity{Name: "Royal Oud", Stock: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, "oud", stockEntity{Name: "dup"})
	var cls repoClassifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := repo.Update(ctx, "oud", []firestore.Update{{Path: "stock", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	doc, err := repo.Get(ctx, "oud")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "oud" || doc.Data.Stock != 2 {
		t.Fatalf("unexpected document: %#v", doc)
	}

	if err := repo.Set(ctx, "musk", stockEntity{Name: "White Musk", Stock: 5}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	many, err := repo.GetAll(ctx, []string{"oud", "missing", "musk"})
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(many) != 2 {
		t.Fatalf("expected missing documents to be skipped, got %d", len(many))
	}

	_, err = repo.Get(ctx, "missing")
	if !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "oud")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		entity, err := repo.Decode(snap)
		if err != nil {
			return err
		}
		entity.Stock++
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	doc, err = repo.Get(ctx, "oud")
	if err != nil || doc.Data.Stock != 3 {
		t.Fatalf("expected stock=3 after txn, got %#v (%v)", doc.Data, err)
	}

	if err := repo.Delete(ctx, "musk"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "musk"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
