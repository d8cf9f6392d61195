package blockruntime

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a block failure for the retry policy.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindValidation Kind = "validation"
)

// Error is a classified block failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// Validation marks err as a configuration or input problem; never retried.
func Validation(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

// Validationf formats a validation error.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Errorf(format, args...))
}

// IsTransient reports whether a block error should be retried. Explicitly classified errors win;
// otherwise network errors and deadline expiry are transient and everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind == KindTransient
	}

	// Context cancelled means the worker is shutting down, not that the block may succeed.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var classified *Error

	return errors.As(err, &classified) && classified.Kind == KindValidation
}
