package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	countersCollection = "counters"
	// Every order placement bumps the same counter document, so it sees the most contention.
	counterTxAttempts = 10
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequential values (order numbers) using Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil)
	return &CounterRepository{provider: provider, counters: base, clock: time.Now}, nil
}

// Next atomically adds step (default 1) to the counter and returns the new value. A missing
// counter starts at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, &repositories.CounterError{CounterID: counterID, Message: "counter id is required"}
	}
	if step <= 0 {
		step = 1
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if doc, err = r.counters.Decode(snap); err != nil {
				return err
			}
		}
		doc.CurrentValue += step
		doc.UpdatedAt = r.clock().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = doc.CurrentValue
		return nil
	}, pfirestore.WithTxOp("counters.next"), pfirestore.WithTxAttempts(counterTxAttempts))
	if err != nil {
		return 0, err
	}
	return next, nil
}
