package library

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// availabilitySync keeps Book.IsAvailable equal to "no active loan references
// this book". It is only reachable through the lending operations.
type availabilitySync struct {
	store Store
	log   *slog.Logger
}

// claim marks the book unavailable with a single conditional write. It
// returns false when someone else already holds the book.
func (s *availabilitySync) claim(ctx context.Context, bookID int64, at time.Time) (bool, error) {
	return s.store.ClaimBook(ctx, bookID, at)
}

// release recomputes the flag from the loan table. It runs detached from the
// caller's cancellation: once a loan write is durable its availability
// follow-up must not be abandoned halfway.
func (s *availabilitySync) release(ctx context.Context, bookID int64, at time.Time) error {
	available, err := s.store.SyncBookAvailability(context.WithoutCancel(ctx), bookID, at)
	if errors.Is(err, ErrNotFound) {
		// Deleted after its last loan ended; nothing left to project onto.
		return nil
	}
	if err != nil {
		s.log.Error("availability sync failed", "book_id", bookID, "error", err)
		return err
	}
	s.log.Debug("availability synced", "book_id", bookID, "available", available)
	return nil
}
