package netexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/Socheema/Framez-sub000/store"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// KindTransient covers connection failures and other faults worth retrying.
	KindTransient Kind = iota
	KindTimeout
	// KindConflict is a duplicate key: the row is already in the desired state.
	KindConflict
	// KindNotFound is an empty result.
	KindNotFound
	// KindValidation is bad input caught before any network call.
	KindValidation
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another attempt can change the outcome.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}

var (
	ErrTimeout = errors.New("operation timed out")
	ErrInvalid = errors.New("invalid input")
)

// Error is what the executor returns once it gives up on an operation.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid builds a validation error.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Classify maps any error onto the taxonomy.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return KindConflict
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalid):
		return KindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindFatal
	default:
		return KindTransient
	}
}

func IsConflict(err error) bool { return err != nil && Classify(err) == KindConflict }
func IsNotFound(err error) bool { return err != nil && Classify(err) == KindNotFound }
