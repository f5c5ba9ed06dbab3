package library

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the manager wraps exactly one of them,
// so callers branch with errors.Is.
var (
	// ErrNotFound is returned when a referenced book, user or loan is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a lending rule rejects the operation.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument is returned for malformed input such as a due date
	// that is not after the loan date.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorage marks infrastructure failures. These are the only errors a
	// caller may reasonably retry.
	ErrStorage = errors.New("storage failure")

	// ErrUnauthenticated is returned when a password does not match.
	ErrUnauthenticated = errors.New("unauthenticated")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ReferenceError reports that a book or user cannot be deleted because an
// active loan still references it. It is a Conflict.
type ReferenceError struct {
	Entity string // "book" or "user"
	ID     int64
	LoanID int64
	BookID int64
	UserID int64
}

func (e *ReferenceError) Error() string {
	if e.Entity == "book" {
		return fmt.Sprintf("conflict: book %d is on loan to user %d (loan %d)", e.ID, e.UserID, e.LoanID)
	}
	return fmt.Sprintf("conflict: user %d still holds book %d (loan %d)", e.ID, e.BookID, e.LoanID)
}

// Unwrap makes errors.Is(err, ErrConflict) hold.
func (e *ReferenceError) Unwrap() error { return ErrConflict }

// IsRetryable reports whether err is an infrastructure failure rather than a
// business rule rejection.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}
