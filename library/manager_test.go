package library

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManagerWithStore(t *testing.T, s Store) (*LibraryManager, *testClock) {
	t.Helper()
	clock := &testClock{now: t0}
	mgr := NewLibraryManager(s, WithClock(clock.Now), WithReconcileGrace(time.Minute))
	return mgr, clock
}

func newManager(t *testing.T) (*LibraryManager, *testClock) {
	t.Helper()
	return newManagerWithStore(t, tempDB(t))
}

func addBook(t *testing.T, mgr *LibraryManager, title string) *Book {
	t.Helper()
	b, err := mgr.AddBook(context.Background(), NewBook{Title: title, Author: "Author"})
	require.NoError(t, err)
	return b
}

func addUser(t *testing.T, mgr *LibraryManager, name string) *User {
	t.Helper()
	u, err := mgr.AddUser(context.Background(), NewUser{Name: name})
	require.NoError(t, err)
	return u
}

// requireConsistent checks that every book's availability flag agrees with
// the active loan set.
func requireConsistent(t *testing.T, mgr *LibraryManager) {
	t.Helper()
	ctx := context.Background()
	books, _, err := mgr.ListBooks(ctx, BookFilter{}, Page{})
	require.NoError(t, err)
	for _, b := range books {
		active, err := mgr.store.FindActiveLoan(ctx, ActiveLoanQuery{BookID: b.ID})
		require.NoError(t, err)
		assert.Equal(t, active == nil, b.IsAvailable, "book %d availability disagrees with loans", b.ID)
	}
}

func bookAvailable(t *testing.T, mgr *LibraryManager, id int64) bool {
	t.Helper()
	b, err := mgr.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b.IsAvailable
}

func TestLendingScenario(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	b1 := addBook(t, mgr, "b1")
	u1 := addUser(t, mgr, "u1")
	u2 := addUser(t, mgr, "u2")

	loan, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: b1.ID, UserID: u1.ID, DueDate: t0.Add(14 * 24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, LoanActive, loan.State())
	assert.Nil(t, loan.ReturnDate)
	assert.False(t, bookAvailable(t, mgr, b1.ID))

	_, err = mgr.CreateLoan(ctx, CreateLoanRequest{BookID: b1.ID, UserID: u2.ID})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, bookAvailable(t, mgr, b1.ID))

	returned, err := mgr.ReturnLoan(ctx, loan.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, returned.State())
	require.NotNil(t, returned.ReturnDate)
	assert.True(t, returned.ReturnDate.Equal(t0))
	assert.True(t, bookAvailable(t, mgr, b1.ID))

	_, err = mgr.ReturnLoan(ctx, loan.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
	requireConsistent(t, mgr)
}

func TestCreateLoanPreconditions(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Book")
	user := addUser(t, mgr, "User")
	inactive := addUser(t, mgr, "Gone")
	off := false
	_, err := mgr.UpdateUser(ctx, inactive.ID, UserPatch{IsActive: &off})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateLoanRequest
		want error
	}{
		{"missing book", CreateLoanRequest{BookID: 404, UserID: user.ID}, ErrNotFound},
		{"missing user", CreateLoanRequest{BookID: book.ID, UserID: 404}, ErrNotFound},
		{"inactive user", CreateLoanRequest{BookID: book.ID, UserID: inactive.ID}, ErrConflict},
		{"due equals loan date", CreateLoanRequest{BookID: book.ID, UserID: user.ID, DueDate: t0}, ErrInvalidArgument},
		{"due before loan date", CreateLoanRequest{BookID: book.ID, UserID: user.ID, DueDate: t0.Add(-time.Hour)}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.CreateLoan(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, bookAvailable(t, mgr, book.ID), "failed create must not touch the book")
		})
	}

	loans, total, err := mgr.ListLoans(ctx, LoanFilter{}, Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, loans)
}

func TestCreateLoanDefaultsDueDate(t *testing.T) {
	mgr, _ := newManager(t)
	mgr.loanPeriod = 7 * 24 * time.Hour
	loan, err := mgr.CreateLoan(context.Background(), CreateLoanRequest{
		BookID: addBook(t, mgr, "B").ID,
		UserID: addUser(t, mgr, "U").ID,
	})
	require.NoError(t, err)
	assert.True(t, loan.LoanDate.Equal(t0))
	assert.True(t, loan.DueDate.Equal(t0.Add(7*24*time.Hour)))
	assert.False(t, loan.IsOverdue)
}

func TestCreateLoanSameUserTwice(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "B")
	user := addUser(t, mgr, "U")

	_, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)
	_, err = mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	assert.ErrorIs(t, err, ErrConflict)
	requireConsistent(t, mgr)
}

func TestConcurrentCreateLoanHasOneWinner(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "Contested")

	const n = 8
	users := make([]*User, n)
	for i := range users {
		users[i] = addUser(t, mgr, "reader")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			<-start
			_, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: userID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	loans, _, err := mgr.ListLoans(ctx, LoanFilter{BookID: book.ID, Status: "active"}, Page{})
	require.NoError(t, err)
	assert.Len(t, loans, 1)
	requireConsistent(t, mgr)
}

func TestDeleteLoan(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	book := addBook(t, mgr, "B")
	user := addUser(t, mgr, "U")

	active, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)
	require.NoError(t, mgr.DeleteLoan(ctx, active.ID))
	assert.True(t, bookAvailable(t, mgr, book.ID), "deleting an active loan releases the book")

	done, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: book.ID, UserID: user.ID})
	require.NoError(t, err)
	_, err = mgr.ReturnLoan(ctx, done.ID, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.DeleteLoan(ctx, done.ID))
	assert.True(t, bookAvailable(t, mgr, book.ID))

	assert.ErrorIs(t, mgr.DeleteLoan(ctx, done.ID), ErrNotFound)
	_, err = mgr.ReturnLoan(ctx, done.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	requireConsistent(t, mgr)
}

func TestOverdueIsRecomputedOnRead(t *testing.T) {
	ctx := context.Background()
	mgr, clock := newManager(t)
	loan, err := mgr.CreateLoan(ctx, CreateLoanRequest{
		BookID:  addBook(t, mgr, "B").ID,
		UserID:  addUser(t, mgr, "U").ID,
		DueDate: t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, loan.IsOverdue)

	clock.Advance(48 * time.Hour)
	got, err := mgr.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)

	overdue, total, err := mgr.ListLoans(ctx, LoanFilter{Status: "overdue"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.True(t, overdue[0].IsOverdue)

	returned, err := mgr.ReturnLoan(ctx, loan.ID, nil)
	require.NoError(t, err)
	assert.False(t, returned.IsOverdue)

	clock.Advance(365 * 24 * time.Hour)
	got, err = mgr.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOverdue, "returned loans are never overdue")
}

func TestUpdateLoan(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t)
	b1 := addBook(t, mgr, "b1")
	b2 := addBook(t, mgr, "b2")
	b3 := addBook(t, mgr, "b3")
	u1 := addUser(t, mgr, "u1")
	u2 := addUser(t, mgr, "u2")

	loan, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: b1.ID, UserID: u1.ID})
	require.NoError(t, err)
	other, err := mgr.CreateLoan(ctx, CreateLoanRequest{BookID: b3.ID, UserID: u2.ID})
	require.NoError(t, err)

	t.Run("due date must stay after loan date", func(t *testing.T) {
		bad := t0.Add(-time.Minute)
		_, err := mgr.UpdateLoan(ctx, loan.ID, LoanUpdate{DueDate: &bad})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("extend and annotate", func(t *testing.T) {
		due := t0.Add(30 * 24 * time.Hour)
		notes := "extended"
		got, err := mgr.UpdateLoan(ctx, loan.ID, LoanUpdate{DueDate: &due, Notes: &notes})
		require.NoError(t, err)
		assert.True(t, got.DueDate.Equal(due))
		assert.Equal(t, "extended", got.Notes)
	})

	t.Run("swap to a held book", func(t *testing.T) {
		_, err := mgr.UpdateLoan(ctx, loan.ID, LoanUpdate{BookID: &b3.ID})
		assert.ErrorIs(t, err, ErrConflict)
		assert.False(t, bookAvailable(t, mgr, b3.ID))
	})

	t.Run("swap to a free book", func(t *testing.T) {
		got, err := mgr.UpdateLoan(ctx, loan.ID, LoanUpdate{BookID: &b2.ID, UserID: &u2.ID})
		require.NoError(t, err)
		assert.Equal(t, b2.ID, got.BookID)
		assert.Equal(t, u2.ID, got.UserID)
		assert.True(t, bookAvailable(t, mgr, b1.ID))
		assert.False(t, bookAvailable(t, mgr, b2.ID))
	})

	_, err = mgr.ReturnLoan(ctx, other.ID, nil)
	require.NoError(t, err)

	t.Run("returned loan only takes notes", func(t *testing.T) {
		due := t0.Add(60 * 24 * time.Hour)
		_, err := mgr.UpdateLoan(ctx, other.ID, LoanUpdate{DueDate: &due})
		assert.ErrorIs(t, err, ErrConflict)
		_, err = mgr.UpdateLoan(ctx, other.ID, LoanUpdate{UserID: &u1.ID})
		assert.ErrorIs(t, err, ErrConflict)
		_, err = mgr.UpdateLoan(ctx, other.ID, LoanUpdate{BookID: &b1.ID})
		assert.ErrorIs(t, err, ErrConflict)

		notes := "returned damaged"
		got, err := mgr.UpdateLoan(ctx, other.ID, LoanUpdate{Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, notes, got.Notes)
		assert.True(t, got.Returned)
	})

	_, err = mgr.UpdateLoan(ctx, 404, LoanUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
	requireConsistent(t, mgr)
}

func TestStatsThroughManager(t *testing.T) {
	mgr, _ := newManager(t)
	_, err := mgr.Stats(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	addBook(t, mgr, "B")
	s, err := mgr.Stats(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalBooks)
	assert.Equal(t, 1, s.AvailableBooks)
}
