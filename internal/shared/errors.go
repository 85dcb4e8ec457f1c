package shared

import (
	"errors"
	"fmt"
)

// Error categories matched with errors.Is. Every domain sentinel wraps exactly
// one category so callers can branch on the class without knowing which
// package produced it.
var (
	// ErrValidation indicates malformed input; the caller should not retry.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a missing account, posting, or correlation group.
	ErrNotFound = errors.New("not found")
	// ErrConsistency indicates a double-entry or money-movement rule violation.
	// The operation was aborted with nothing persisted.
	ErrConsistency = errors.New("consistency violation")
	// ErrConflict indicates a concurrent-update collision; the caller may retry
	// a bounded number of times.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrStorage indicates an I/O failure; the whole scope was rolled back.
	ErrStorage = errors.New("storage failure")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return wrapf(ErrValidation, format, args...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return wrapf(ErrNotFound, format, args...)
}

// Consistencyf wraps ErrConsistency with a formatted message.
func Consistencyf(format string, args ...any) error {
	return wrapf(ErrConsistency, format, args...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return wrapf(ErrConflict, format, args...)
}

// Storagef wraps ErrStorage with a formatted message.
func Storagef(format string, args ...any) error {
	return wrapf(ErrStorage, format, args...)
}

func wrapf(category error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", category, fmt.Sprintf(format, args...))
}

// Retryable reports whether the error class is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
