package library

import (
	"io"
	"log/slog"
	"time"
)

const (
	// DefaultLoanPeriod is used when CreateLoan is called without a due date.
	DefaultLoanPeriod = 14 * 24 * time.Hour
	// DefaultReconcileGrace is how long a book flag must be stable before a
	// reconciliation pass may flip it back to available.
	DefaultReconcileGrace = time.Minute
)

// LibraryManager is the entry point for every catalog, user and lending
// operation. It is the only writer of book availability and loan state.
type LibraryManager struct {
	store          Store
	sync           *availabilitySync
	log            *slog.Logger
	now            Clock
	loanPeriod     time.Duration
	reconcileGrace time.Duration
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(lm *LibraryManager) {
		if l != nil {
			lm.log = l
		}
	}
}

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// WithClock replaces time.Now.
func WithClock(now Clock) Option {
	return func(lm *LibraryManager) {
		if now != nil {
			lm.now = now
		}
	}
}

// WithLoanPeriod sets the default loan period.
func WithLoanPeriod(d time.Duration) Option {
	return func(lm *LibraryManager) {
		if d > 0 {
			lm.loanPeriod = d
		}
	}
}

// WithReconcileGrace sets the reconciliation grace period.
func WithReconcileGrace(d time.Duration) Option {
	return func(lm *LibraryManager) {
		if d >= 0 {
			lm.reconcileGrace = d
		}
	}
}

// NewLibraryManager wraps store.
func NewLibraryManager(store Store, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		store:          store,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            time.Now,
		loanPeriod:     DefaultLoanPeriod,
		reconcileGrace: DefaultReconcileGrace,
	}
	for _, opt := range opts {
		opt(lm)
	}
	lm.sync = &availabilitySync{store: store, log: lm.log}
	return lm
}

// OpenLibraryManager opens (or creates) the SQLite database at dbPath.
func OpenLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return NewLibraryManager(db, opts...), nil
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

func (lm *LibraryManager) clock() time.Time { return lm.now().UTC() }
