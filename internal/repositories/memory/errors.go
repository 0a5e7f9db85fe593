package memory

import "fmt"

type storeError struct {
	op       string
	id       string
	notFound bool
	conflict bool
}

func (e *storeError) Error() string {
	switch {
	case e.notFound:
		return fmt.Sprintf("%s: %s not found", e.op, e.id)
	case e.conflict:
		return fmt.Sprintf("%s: %s already exists", e.op, e.id)
	default:
		return fmt.Sprintf("%s: %s failed", e.op, e.id)
	}
}

func (e *storeError) IsNotFound() bool    { return e.notFound }
func (e *storeError) IsConflict() bool    { return e.conflict }
func (e *storeError) IsUnavailable() bool { return false }

func notFound(op, id string) error { return &storeError{op: op, id: id, notFound: true} }
func conflict(op, id string) error { return &storeError{op: op, id: id, conflict: true} }
