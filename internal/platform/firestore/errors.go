package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error carries the repository classification of a Firestore failure so services can map it
// without importing grpc status codes.
type Error struct {
	op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// NotFoundError reports a missing document found by a query rather than a direct read.
func NotFoundError(op, what string) error {
	return &Error{op: op, kind: kindNotFound, err: fmt.Errorf("%s not found", what)}
}

// ConflictError reports a uniqueness violation detected inside a transaction.
func ConflictError(op, what string) error {
	return &Error{op: op, kind: kindConflict, err: fmt.Errorf("%s already exists", what)}
}

// IsNotFound matches both classified errors and raw grpc NotFound statuses.
func IsNotFound(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}

// WrapError classifies err for op. Cancellation is returned as the plain context error and
// already-classified errors keep their kind.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.op == "" {
			classified.op = op
		}
		return classified
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	return &Error{op: op, kind: kindOf(code), err: err}
}

func kindOf(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		return kindUnavailable
	default:
		return kindOther
	}
}
