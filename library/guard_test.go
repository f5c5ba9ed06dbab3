package library

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteBookBlockedByActiveLoan(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Held")
	user := addUser(t, mgr, "Reader")
	loan, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)

	err = mgr.CanDeleteBook(ctx, book.ID)
	var ref *ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, loan.ID, ref.LoanID)
	assert.Equal(t, user.ID, ref.UserID)
	assert.Contains(t, err.Error(), "on loan to user")

	assert.ErrorIs(t, mgr.DeleteBook(ctx, book.ID), ErrConflict)
	assert.ErrorIs(t, mgr.DeleteUser(ctx, user.ID), ErrConflict)
	assert.ErrorIs(t, mgr.CanDeleteUser(ctx, user.ID), ErrConflict)

	_, err = mgr.ReturnLoan(ctx, loan.ID, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.CanDeleteBook(ctx, book.ID))
	require.NoError(t, mgr.DeleteBook(ctx, book.ID))
	_, err = mgr.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mgr.CanDeleteUser(ctx, user.ID))
	require.NoError(t, mgr.DeleteUser(ctx, user.ID))
}

func TestDeleteAfterLoanDeletion(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "B")
	loan, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: addUser(t, mgr, "U").ID})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteLoan(ctx, loan.ID))
	require.NoError(t, mgr.DeleteBook(ctx, book.ID))
}

func TestGuardOnMissingEntities(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	assert.ErrorIs(t, mgr.CanDeleteBook(ctx, 404), ErrNotFound)
	assert.ErrorIs(t, mgr.CanDeleteUser(ctx, 404), ErrNotFound)
	assert.ErrorIs(t, mgr.DeleteBook(ctx, 404), ErrNotFound)
	assert.ErrorIs(t, mgr.DeleteUser(ctx, 404), ErrNotFound)
}

func TestCreateLoanAfterBookDeleted(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "B")
	user := addUser(t, mgr, "U")
	require.NoError(t, mgr.DeleteBook(ctx, book.ID))

	_, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

// raceDeleteAgainstLoan runs del and CreateLoan for the same book and user at
// once and returns both errors.
func raceDeleteAgainstLoan(mgr *LibraryManager, bookID, userID int64, del func(context.Context) error) (delErr, loanErr error) {
	ctx := context.Background()
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		delErr = del(ctx)
	}()
	go func() {
		defer wg.Done()
		<-start
		_, loanErr = mgr.CreateLoan(ctx, CreateLoanRequest{BookID: bookID, UserID: userID})
	}()
	close(start)
	wg.Wait()
	return delErr, loanErr
}

func TestDeleteRacingCreateLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("book", func(t *testing.T) {
		mgr, _ := newManager(t)
		for i := 0; i < 20; i++ {
			book := addBook(t, mgr, "B")
			user := addUser(t, mgr, "U")
			delErr, loanErr := raceDeleteAgainstLoan(mgr, book.ID, user.ID, func(ctx context.Context) error {
				return mgr.DeleteBook(ctx, book.ID)
			})

			loans, err := mgr.LoansForUser(ctx, user.ID)
			require.NoError(t, err)
			if delErr == nil {
				assert.ErrorIs(t, loanErr, ErrNotFound, "round %d", i)
				assert.Empty(t, loans, "round %d: no loan may outlive its book", i)
				_, err := mgr.GetBook(ctx, book.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			} else {
				assert.ErrorIs(t, delErr, ErrConflict, "round %d", i)
				assert.NoError(t, loanErr, "round %d", i)
				assert.Len(t, loans, 1, "round %d", i)
			}
		}
		requireConsistent(t, mgr)
	})

	t.Run("user", func(t *testing.T) {
		mgr, _ := newManager(t)
		for i := 0; i < 20; i++ {
			book := addBook(t, mgr, "B")
			user := addUser(t, mgr, "U")
			delErr, loanErr := raceDeleteAgainstLoan(mgr, book.ID, user.ID, func(ctx context.Context) error {
				return mgr.DeleteUser(ctx, user.ID)
			})

			loans, err := mgr.LoansForBook(ctx, book.ID)
			require.NoError(t, err)
			if delErr == nil {
				assert.ErrorIs(t, loanErr, ErrNotFound, "round %d", i)
				assert.Empty(t, loans, "round %d: no loan may outlive its user", i)
				assert.True(t, bookAvailable(t, mgr, book.ID), "round %d: claimed book is released", i)
			} else {
				assert.ErrorIs(t, delErr, ErrConflict, "round %d", i)
				assert.NoError(t, loanErr, "round %d", i)
				assert.Len(t, loans, 1, "round %d", i)
				assert.False(t, bookAvailable(t, mgr, book.ID))
			}
		}
		requireConsistent(t, mgr)
	})
}
