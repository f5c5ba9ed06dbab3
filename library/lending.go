package library

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateLoanRequest describes a new loan. A zero LoanDate means now and a
// zero DueDate means LoanDate plus the default loan period.
type CreateLoanRequest struct {
	BookID   int64
	UserID   int64
	LoanDate time.Time
	DueDate  time.Time
	Notes    string
}

// LoanUpdate carries the fields UpdateLoan should change. Nil fields are left
// alone.
type LoanUpdate struct {
	DueDate *time.Time
	BookID  *int64
	UserID  *int64
	Notes   *string
}

// CreateLoan lends a book to a user.
//
// The book is claimed with a conditional write before the loan row is
// inserted, so of two racing calls for the same book exactly one wins. If the
// insert fails after a successful claim the book is re-synchronized from the
// loan table before the error is returned.
func (lm *LibraryManager) CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	now := lm.clock()

	loanDate := now
	if !req.LoanDate.IsZero() {
		loanDate = req.LoanDate.UTC()
	}
	dueDate := loanDate.Add(lm.loanPeriod)
	if !req.DueDate.IsZero() {
		dueDate = req.DueDate.UTC()
	}
	if !dueDate.After(loanDate) {
		return nil, invalid("due date %s is not after loan date %s", dueDate.Format(time.RFC3339), loanDate.Format(time.RFC3339))
	}

	book, err := lm.store.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	user, err := lm.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		lm.log.Debug("loan rejected: inactive user", "book_id", book.ID, "user_id", user.ID)
		return nil, conflict("user %d is not active", user.ID)
	}
	if !book.IsAvailable {
		lm.log.Debug("loan rejected: book unavailable", "book_id", book.ID, "user_id", user.ID)
		return nil, conflict("book %d is not available", book.ID)
	}

	held, err := lm.store.FindActiveLoan(ctx, ActiveLoanQuery{BookID: book.ID, UserID: user.ID})
	if err != nil {
		return nil, err
	}
	if held != nil {
		return nil, conflict("user %d already holds book %d (loan %d)", user.ID, book.ID, held.ID)
	}

	claimed, err := lm.sync.claim(ctx, book.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race, or the book vanished in between.
		if _, err := lm.store.GetBook(ctx, book.ID); err != nil {
			return nil, err
		}
		lm.log.Debug("loan rejected: book claimed concurrently", "book_id", book.ID, "user_id", user.ID)
		return nil, conflict("book %d is not available", book.ID)
	}

	loan := &Loan{
		BookID:    book.ID,
		UserID:    user.ID,
		LoanDate:  loanDate,
		DueDate:   dueDate,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	loan.IsOverdue = IsOverdue(loan, now)

	id, err := lm.store.InsertLoan(ctx, loan)
	if err != nil {
		if rerr := lm.sync.release(ctx, book.ID, now); rerr != nil {
			lm.log.Error("loan insert compensation failed", "book_id", book.ID, "user_id", user.ID, "error", rerr)
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	loan.ID = id

	lm.log.Info("loan created", "loan_id", loan.ID, "book_id", loan.BookID, "user_id", loan.UserID,
		"due_date", loan.DueDate)
	return loan, nil
}

// ReturnLoan moves an active loan to Returned and makes its book available
// again. Returning a loan twice is a Conflict.
//
// When the loan transition succeeds but the book cannot be re-synchronized,
// the returned loan is handed back together with an ErrStorage error. A retry
// still reports Conflict but re-synchronizes the book first.
func (lm *LibraryManager) ReturnLoan(ctx context.Context, loanID int64, notes *string) (*Loan, error) {
	now := lm.clock()

	loan, err := lm.store.MarkLoanReturned(ctx, loanID, now, notes)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		prev, err := lm.store.GetLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		// A retry after a failed sync lands here; finish the release it missed.
		if err := lm.sync.release(ctx, prev.BookID, now); err != nil {
			return nil, fmt.Errorf("loan %d already returned, book %d not released: %w", loanID, prev.BookID, err)
		}
		return nil, conflict("loan %d is already returned", loanID)
	}
	refreshOverdue(now, loan)

	if err := lm.sync.release(ctx, loan.BookID, now); err != nil {
		return loan, fmt.Errorf("loan %d returned, book %d not released: %w", loan.ID, loan.BookID, err)
	}

	lm.log.Info("loan returned", "loan_id", loan.ID, "book_id", loan.BookID, "user_id", loan.UserID)
	return loan, nil
}

// DeleteLoan removes a loan in either state. Deleting an active loan releases
// its book exactly like a return.
func (lm *LibraryManager) DeleteLoan(ctx context.Context, loanID int64) error {
	now := lm.clock()

	loan, err := lm.store.DeleteLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Active() {
		if err := lm.sync.release(ctx, loan.BookID, now); err != nil {
			return fmt.Errorf("loan %d deleted, book %d not released: %w", loan.ID, loan.BookID, err)
		}
	}

	lm.log.Info("loan deleted", "loan_id", loan.ID, "book_id", loan.BookID, "user_id", loan.UserID,
		"was_active", loan.Active())
	return nil
}

// UpdateLoan edits a loan. A returned loan only accepts a notes change; an
// active loan may also move its due date, change borrower or swap its book.
func (lm *LibraryManager) UpdateLoan(ctx context.Context, loanID int64, upd LoanUpdate) (*Loan, error) {
	now := lm.clock()

	cur, err := lm.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if cur.Returned {
		return lm.updateReturnedLoan(ctx, cur, upd, now)
	}

	next := *cur
	if upd.Notes != nil {
		next.Notes = *upd.Notes
	}
	if upd.DueDate != nil {
		next.DueDate = upd.DueDate.UTC()
		if !next.DueDate.After(next.LoanDate) {
			return nil, invalid("due date %s is not after loan date %s", next.DueDate.Format(time.RFC3339), next.LoanDate.Format(time.RFC3339))
		}
	}
	if upd.UserID != nil && *upd.UserID != cur.UserID {
		user, err := lm.store.GetUser(ctx, *upd.UserID)
		if err != nil {
			return nil, err
		}
		if !user.IsActive {
			return nil, conflict("user %d is not active", user.ID)
		}
		next.UserID = user.ID
	}

	swapBook := upd.BookID != nil && *upd.BookID != cur.BookID
	if swapBook {
		book, err := lm.store.GetBook(ctx, *upd.BookID)
		if err != nil {
			return nil, err
		}
		if !book.IsAvailable {
			return nil, conflict("book %d is not available", book.ID)
		}
		claimed, err := lm.sync.claim(ctx, book.ID, now)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, conflict("book %d is not available", book.ID)
		}
		next.BookID = book.ID
	}

	next.UpdatedAt = now
	next.IsOverdue = IsOverdue(&next, now)

	written, err := lm.store.UpdateActiveLoan(ctx, &next, cur.BookID)
	if err != nil || !written {
		if swapBook {
			if rerr := lm.sync.release(ctx, next.BookID, now); rerr != nil {
				lm.log.Error("loan update compensation failed", "loan_id", cur.ID, "book_id", next.BookID, "error", rerr)
			}
		}
		if err != nil {
			return nil, err
		}
		latest, err := lm.store.GetLoan(ctx, loanID)
		if err != nil {
			return nil, err
		}
		if latest.Returned {
			return lm.updateReturnedLoan(ctx, latest, upd, now)
		}
		return nil, conflict("loan %d changed concurrently", loanID)
	}

	if swapBook {
		if err := lm.sync.release(ctx, cur.BookID, now); err != nil {
			return &next, fmt.Errorf("loan %d moved, book %d not released: %w", next.ID, cur.BookID, err)
		}
	}

	lm.log.Info("loan updated", "loan_id", next.ID, "book_id", next.BookID, "user_id", next.UserID,
		"due_date", next.DueDate)
	return &next, nil
}

func (lm *LibraryManager) updateReturnedLoan(ctx context.Context, cur *Loan, upd LoanUpdate, now time.Time) (*Loan, error) {
	if upd.DueDate != nil && !upd.DueDate.Equal(cur.DueDate) {
		return nil, conflict("loan %d is returned; due date is frozen", cur.ID)
	}
	if upd.BookID != nil && *upd.BookID != cur.BookID {
		return nil, conflict("loan %d is returned; book is frozen", cur.ID)
	}
	if upd.UserID != nil && *upd.UserID != cur.UserID {
		return nil, conflict("loan %d is returned; user is frozen", cur.ID)
	}
	if upd.Notes != nil && *upd.Notes != cur.Notes {
		if err := lm.store.UpdateLoanNotes(ctx, cur.ID, *upd.Notes, now); err != nil {
			return nil, err
		}
		cur.Notes = *upd.Notes
		cur.UpdatedAt = now
		lm.log.Info("returned loan notes updated", "loan_id", cur.ID)
	}
	refreshOverdue(now, cur)
	return cur, nil
}

// GetLoan returns a loan with its overdue flag computed against the clock.
func (lm *LibraryManager) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	loan, err := lm.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	refreshOverdue(lm.clock(), loan)
	return loan, nil
}

// ListLoans returns one page of loans and the total match count.
func (lm *LibraryManager) ListLoans(ctx context.Context, f LoanFilter, p Page) ([]*Loan, int, error) {
	now := lm.clock()
	loans, total, err := lm.store.ListLoans(ctx, f, p, now)
	if err != nil {
		return nil, 0, err
	}
	refreshOverdue(now, loans...)
	return loans, total, nil
}

// LoansForUser lists every loan of a user, newest first.
func (lm *LibraryManager) LoansForUser(ctx context.Context, userID int64) ([]*Loan, error) {
	loans, _, err := lm.ListLoans(ctx, LoanFilter{UserID: userID}, Page{})
	return loans, err
}

// LoansForBook lists every loan of a book, newest first.
func (lm *LibraryManager) LoansForBook(ctx context.Context, bookID int64) ([]*Loan, error) {
	loans, _, err := lm.ListLoans(ctx, LoanFilter{BookID: bookID}, Page{})
	return loans, err
}
