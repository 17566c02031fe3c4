package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies failures of the bidding core. Each kind is itself an
// error so callers can match with errors.Is(err, domain.ErrConflict).
type ErrorKind string

func (k ErrorKind) Error() string { return string(k) }

const (
	ErrNotFound         ErrorKind = "not found"
	ErrForbidden        ErrorKind = "forbidden"
	ErrInvalidState     ErrorKind = "invalid state"
	ErrValidationFailed ErrorKind = "validation failed"
	// ErrConflict means an optimistic write lost the race. Safe to re-read and retry.
	ErrConflict ErrorKind = "conflict"
)

type Error struct {
	Kind    ErrorKind
	Message string
	// MinimumBid is set when a bid was rejected for being below the minimum.
	MinimumBid decimal.NullDecimal
	Err        error
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// BelowMinimum builds the rejection for an amount under the minimum acceptable bid.
func BelowMinimum(minimum decimal.Decimal) *Error {
	return &Error{
		Kind:       ErrValidationFailed,
		Message:    fmt.Sprintf("bid must be at least %s", minimum.StringFixed(2)),
		MinimumBid: decimal.NewNullDecimal(minimum),
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf extracts the kind from err, or "" for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// IsRetryable reports whether err came from a lost compare-and-swap.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
