package library

import "context"

// CanDeleteBook returns nil when the book may be deleted, a *ReferenceError
// when an active loan references it, and ErrNotFound when it does not exist.
// It is advisory: DeleteBook re-evaluates the same condition atomically.
func (lm *LibraryManager) CanDeleteBook(ctx context.Context, bookID int64) error {
	if _, err := lm.store.GetBook(ctx, bookID); err != nil {
		return err
	}
	loan, err := lm.store.FindActiveLoan(ctx, ActiveLoanQuery{BookID: bookID})
	if err != nil {
		return err
	}
	if loan != nil {
		return &ReferenceError{Entity: "book", ID: bookID, LoanID: loan.ID, BookID: loan.BookID, UserID: loan.UserID}
	}
	return nil
}

// CanDeleteUser is CanDeleteBook for users.
func (lm *LibraryManager) CanDeleteUser(ctx context.Context, userID int64) error {
	if _, err := lm.store.GetUser(ctx, userID); err != nil {
		return err
	}
	loan, err := lm.store.FindActiveLoan(ctx, ActiveLoanQuery{UserID: userID})
	if err != nil {
		return err
	}
	if loan != nil {
		return &ReferenceError{Entity: "user", ID: userID, LoanID: loan.ID, BookID: loan.BookID, UserID: loan.UserID}
	}
	return nil
}

// DeleteBook removes a book that no active loan references. The check and
// the delete happen in one store operation. Returned loans of the book are
// removed with it.
func (lm *LibraryManager) DeleteBook(ctx context.Context, bookID int64) error {
	if err := lm.store.DeleteBookIfIdle(ctx, bookID); err != nil {
		lm.log.Debug("book delete rejected", "book_id", bookID, "error", err)
		return err
	}
	lm.log.Info("book deleted", "book_id", bookID)
	return nil
}

// DeleteUser removes a user that holds no active loan.
func (lm *LibraryManager) DeleteUser(ctx context.Context, userID int64) error {
	if err := lm.store.DeleteUserIfIdle(ctx, userID); err != nil {
		lm.log.Debug("user delete rejected", "user_id", userID, "error", err)
		return err
	}
	lm.log.Info("user deleted", "user_id", userID)
	return nil
}
