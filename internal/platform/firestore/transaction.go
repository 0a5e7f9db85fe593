package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Stock reservations touch several product documents at once, so contention retries matter more
// than for single-document writes.
const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxOp       = "transaction"
)

// TxFunc is the body of a transaction. It may run more than once when Firestore retries on
// contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	op       string
	attempts int
	timeout  time.Duration
}

// WithTxOp names the operation in wrapped errors, e.g. "products.reserve_stock".
func WithTxOp(op string) TxOption {
	return func(s *txSettings) {
		if op = strings.TrimSpace(op); op != "" {
			s.op = op
		}
	}
}

func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries. A shorter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction executes fn on client. Errors come back wrapped as *Error so repositories can
// classify contention (conflict) and outages (unavailable) uniformly.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	settings := txSettings{op: defaultTxOp, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if client == nil {
		return WrapError(settings.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(settings.op, errors.New("firestore: transaction body is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	return WrapError(settings.op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}
