package errors

import (
	"errors"
	"fmt"
)

// ErrBackend wraps any failure of the storage backend a race relies on
// (I/O, quota, corruption, unreachable cluster...).
// It is never the outcome of losing a race.
type ErrBackend struct {
	// Op is the store operation that failed, e.g. "open", "insert", "destroy".
	Op string
	// Namespace the operation was working on, if any.
	Namespace string
	Sub       error
}

var _ error = (*ErrBackend)(nil)

func (err ErrBackend) Error() string {
	msg := "backend failure"
	if err.Op != "" {
		msg = fmt.Sprintf("backend failure during %s", err.Op)
	}
	if err.Namespace != "" {
		msg = fmt.Sprintf("%s of %q", msg, err.Namespace)
	}
	if err.Sub == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, err.Sub)
}

func (err ErrBackend) Unwrap() error {
	return err.Sub
}

// IsBackend reports whether err carries a backend failure.
func IsBackend(err error) bool {
	var be *ErrBackend
	return errors.As(err, &be)
}

var (
	// ErrAmbiguousAbort signals that a transaction was aborted without a
	// definitive reason attached. It is not a uniqueness violation.
	ErrAmbiguousAbort = errors.New("transaction aborted without a definitive error")

	// ErrStoreClosed is returned when using a store or a handle after it was closed.
	ErrStoreClosed = errors.New("race store is closed")
)
