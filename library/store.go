package library

import (
	"context"
	"time"
)

// Store is the persistence contract the lending core relies on. Every method
// is atomic on its own; the core never assumes a transaction spanning two
// calls. Methods that change availability or loan state are conditional
// writes and report whether their predicate held.
//
// Implementations return errors wrapping ErrNotFound, ErrConflict,
// ErrInvalidArgument or ErrStorage.
type Store interface {
	InsertBook(ctx context.Context, b *Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*Book, error)
	// UpdateBookDetails writes catalog metadata. It never touches availability.
	UpdateBookDetails(ctx context.Context, b *Book) error
	ListBooks(ctx context.Context, f BookFilter, p Page) ([]*Book, int, error)

	// ClaimBook marks the book unavailable only if it is currently available
	// and reports whether it did.
	ClaimBook(ctx context.Context, id int64, at time.Time) (bool, error)
	// SyncBookAvailability recomputes the flag from the active loan set and
	// returns the resulting value.
	SyncBookAvailability(ctx context.Context, id int64, at time.Time) (bool, error)
	// DeleteBookIfIdle deletes the book unless an active loan references it,
	// deciding and deleting in one atomic step. A blocked delete returns a
	// *ReferenceError.
	DeleteBookIfIdle(ctx context.Context, id int64) error

	InsertUser(ctx context.Context, u *User) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	SetPasswordHash(ctx context.Context, id int64, hash string, at time.Time) error
	ListUsers(ctx context.Context, f UserFilter, p Page) ([]*User, int, error)
	// DeleteUserIfIdle is DeleteBookIfIdle for users.
	DeleteUserIfIdle(ctx context.Context, id int64) error

	InsertLoan(ctx context.Context, l *Loan) (int64, error)
	GetLoan(ctx context.Context, id int64) (*Loan, error)
	ListLoans(ctx context.Context, f LoanFilter, p Page, now time.Time) ([]*Loan, int, error)
	// FindActiveLoan returns the active loan matching q, or nil when none exists.
	FindActiveLoan(ctx context.Context, q ActiveLoanQuery) (*Loan, error)
	// UpdateActiveLoan rewrites the loan only while it is active and still
	// references expectBookID. It reports whether the row was written.
	UpdateActiveLoan(ctx context.Context, l *Loan, expectBookID int64) (bool, error)
	UpdateLoanNotes(ctx context.Context, id int64, notes string, at time.Time) error
	// MarkLoanReturned transitions an active loan to returned and returns the
	// updated row, or nil if the loan was not active.
	MarkLoanReturned(ctx context.Context, id int64, at time.Time, notes *string) (*Loan, error)
	// DeleteLoan removes the loan and returns it as it was at deletion time.
	DeleteLoan(ctx context.Context, id int64) (*Loan, error)

	Stats(ctx context.Context, now time.Time, topN int) (*Stats, error)
	Reconcile(ctx context.Context, now time.Time, grace time.Duration) (ReconcileReport, error)

	Close() error
}
