package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBook(t *testing.T, s Store, title string) int64 {
	t.Helper()
	id, err := s.InsertBook(context.Background(), &Book{Title: title, Author: "Author", CreatedAt: t0})
	require.NoError(t, err)
	return id
}

func seedUser(t *testing.T, s Store, name string) int64 {
	t.Helper()
	id, err := s.InsertUser(context.Background(), &User{Name: name, Type: UserTypeStudent, IsActive: true, CreatedAt: t0})
	require.NoError(t, err)
	return id
}

func seedLoan(t *testing.T, s Store, bookID, userID int64) int64 {
	t.Helper()
	id, err := s.InsertLoan(context.Background(), &Loan{
		BookID: bookID, UserID: userID, LoanDate: t0, DueDate: t0.Add(DefaultLoanPeriod), CreatedAt: t0,
	})
	require.NoError(t, err)
	return id
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := NewDatabase(path)
	require.NoError(t, err)
	seedBook(t, db, "Kept")
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()
	b, err := db.GetBook(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Kept", b.Title)
	assert.True(t, b.IsAvailable)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
}

func TestClaimBookIsConditional(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Dune")

	ok, err := db.ClaimBook(ctx, bookID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimBook(ctx, bookID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must report failure")

	ok, err = db.ClaimBook(ctx, 999, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncBookAvailabilityFollowsLoans(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Emma")
	userID := seedUser(t, db, "Ann")

	loanID := seedLoan(t, db, bookID, userID)
	available, err := db.SyncBookAvailability(ctx, bookID, t0)
	require.NoError(t, err)
	assert.False(t, available)

	l, err := db.MarkLoanReturned(ctx, loanID, t0.Add(time.Hour), nil)
	require.NoError(t, err)
	require.NotNil(t, l)
	available, err = db.SyncBookAvailability(ctx, bookID, t0)
	require.NoError(t, err)
	assert.True(t, available)

	_, err = db.SyncBookAvailability(ctx, 999, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOneActiveLoanPerBookIsEnforcedByStore(t *testing.T) {
	db := tempDB(t)
	bookID := seedBook(t, db, "Ulysses")
	u1 := seedUser(t, db, "Ann")
	u2 := seedUser(t, db, "Bob")
	seedLoan(t, db, bookID, u1)

	_, err := db.InsertLoan(context.Background(), &Loan{
		BookID: bookID, UserID: u2, LoanDate: t0, DueDate: t0.Add(time.Hour), CreatedAt: t0,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInsertLoanClassifiesConstraintErrors(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Beloved")
	userID := seedUser(t, db, "Ann")

	_, err := db.InsertLoan(ctx, &Loan{BookID: 999, UserID: userID, LoanDate: t0, DueDate: t0.Add(time.Hour), CreatedAt: t0})
	assert.ErrorIs(t, err, ErrNotFound, "foreign key violation")

	_, err = db.InsertLoan(ctx, &Loan{BookID: bookID, UserID: userID, LoanDate: t0, DueDate: t0, CreatedAt: t0})
	assert.ErrorIs(t, err, ErrInvalidArgument, "due date check")
}

func TestUniqueISBNAndEmail(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	isbn := "978-0140449136"
	_, err := db.InsertBook(ctx, &Book{Title: "A", Author: "X", ISBN: &isbn, CreatedAt: t0})
	require.NoError(t, err)
	_, err = db.InsertBook(ctx, &Book{Title: "B", Author: "Y", ISBN: &isbn, CreatedAt: t0})
	assert.ErrorIs(t, err, ErrConflict)

	// Books without an ISBN never collide.
	seedBook(t, db, "C")
	seedBook(t, db, "D")

	email := "ann@example.org"
	_, err = db.InsertUser(ctx, &User{Name: "Ann", Email: &email, Type: UserTypeStaff, IsActive: true, CreatedAt: t0})
	require.NoError(t, err)
	_, err = db.InsertUser(ctx, &User{Name: "Ann 2", Email: &email, Type: UserTypeStaff, IsActive: true, CreatedAt: t0})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMarkLoanReturnedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	loanID := seedLoan(t, db, seedBook(t, db, "Odyssey"), seedUser(t, db, "Ann"))

	notes := "cover torn"
	l, err := db.MarkLoanReturned(ctx, loanID, t0.Add(48*time.Hour), &notes)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Returned)
	require.NotNil(t, l.ReturnDate)
	assert.True(t, l.ReturnDate.Equal(t0.Add(48*time.Hour)))
	assert.Equal(t, "cover torn", l.Notes)

	again, err := db.MarkLoanReturned(ctx, loanID, t0.Add(49*time.Hour), nil)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = db.MarkLoanReturned(ctx, 999, t0, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLoanReturnsDeletedRow(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Walden")
	loanID := seedLoan(t, db, bookID, seedUser(t, db, "Ann"))

	l, err := db.DeleteLoan(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, bookID, l.BookID)
	assert.True(t, l.Active())

	_, err = db.DeleteLoan(ctx, loanID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIfIdle(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Hamlet")
	userID := seedUser(t, db, "Ann")
	loanID := seedLoan(t, db, bookID, userID)

	err := db.DeleteBookIfIdle(ctx, bookID)
	var ref *ReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, loanID, ref.LoanID)
	assert.ErrorIs(t, err, ErrConflict)

	err = db.DeleteUserIfIdle(ctx, userID)
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "user", ref.Entity)

	_, err = db.MarkLoanReturned(ctx, loanID, t0.Add(time.Hour), nil)
	require.NoError(t, err)

	require.NoError(t, db.DeleteBookIfIdle(ctx, bookID))
	_, err = db.GetLoan(ctx, loanID)
	assert.ErrorIs(t, err, ErrNotFound, "loan history cascades with the book")

	assert.ErrorIs(t, db.DeleteBookIfIdle(ctx, bookID), ErrNotFound)
	require.NoError(t, db.DeleteUserIfIdle(ctx, userID))
}

func TestFindActiveLoan(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	bookID := seedBook(t, db, "Faust")
	userID := seedUser(t, db, "Ann")

	l, err := db.FindActiveLoan(ctx, ActiveLoanQuery{BookID: bookID})
	require.NoError(t, err)
	assert.Nil(t, l)

	loanID := seedLoan(t, db, bookID, userID)
	l, err = db.FindActiveLoan(ctx, ActiveLoanQuery{BookID: bookID, UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, loanID, l.ID)

	_, err = db.FindActiveLoan(ctx, ActiveLoanQuery{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateActiveLoanChecksExpectedBook(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	b1 := seedBook(t, db, "One")
	b2 := seedBook(t, db, "Two")
	loanID := seedLoan(t, db, b1, seedUser(t, db, "Ann"))

	l, err := db.GetLoan(ctx, loanID)
	require.NoError(t, err)
	l.BookID = b2
	l.UpdatedAt = t0

	ok, err := db.UpdateActiveLoan(ctx, l, b2)
	require.NoError(t, err)
	assert.False(t, ok, "expected book does not match")

	ok, err = db.UpdateActiveLoan(ctx, l, b1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListBooksFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	for _, title := range []string{"Go in Action", "Learning Go", "Rust in Action", "Dune"} {
		seedBook(t, db, title)
	}
	claimed, err := db.ClaimBook(ctx, 1, t0)
	require.NoError(t, err)
	require.True(t, claimed)

	books, total, err := db.ListBooks(ctx, BookFilter{Query: "go", Sort: "title"}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, books, 2)
	assert.Equal(t, "Go in Action", books[0].Title)

	avail := true
	_, total, err = db.ListBooks(ctx, BookFilter{Available: &avail}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	books, total, err = db.ListBooks(ctx, BookFilter{}, Page{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, books, 1)

	_, _, err = db.ListBooks(ctx, BookFilter{Sort: "color"}, Page{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestListLoansOverdueIsEvaluatedAtQueryTime(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	userID := seedUser(t, db, "Ann")
	seedLoan(t, db, seedBook(t, db, "A"), userID)
	returnedID := seedLoan(t, db, seedBook(t, db, "B"), userID)
	_, err := db.MarkLoanReturned(ctx, returnedID, t0.Add(time.Hour), nil)
	require.NoError(t, err)

	// Stored is_overdue is still false for both; only the clock moved.
	later := t0.Add(DefaultLoanPeriod + time.Hour)
	loans, total, err := db.ListLoans(ctx, LoanFilter{Status: "overdue"}, Page{}, later)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, loans, 1)
	assert.False(t, loans[0].Returned)

	_, total, err = db.ListLoans(ctx, LoanFilter{Status: "overdue"}, Page{}, t0)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = db.ListLoans(ctx, LoanFilter{Status: "lost"}, Page{}, t0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	userID := seedUser(t, db, "Ann")
	onLoan := seedBook(t, db, "Held")
	seedLoan(t, db, onLoan, userID) // flag left stale on purpose
	stuck := seedBook(t, db, "Stuck")
	_, err := db.ClaimBook(ctx, stuck, t0)
	require.NoError(t, err)

	// Inside the grace window the stuck book is left alone.
	report, err := db.Reconcile(ctx, t0.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.MarkedUnavailable)
	assert.Zero(t, report.MarkedAvailable)

	report, err = db.Reconcile(ctx, t0.Add(DefaultLoanPeriod+time.Hour), time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.MarkedAvailable)
	assert.EqualValues(t, 1, report.OverdueRefreshed)

	b, err := db.GetBook(ctx, stuck)
	require.NoError(t, err)
	assert.True(t, b.IsAvailable)
	b, err = db.GetBook(ctx, onLoan)
	require.NoError(t, err)
	assert.False(t, b.IsAvailable)
}

func TestStatsAggregatesAtReadTime(t *testing.T) {
	ctx := context.Background()
	db := tempDB(t)
	ann := seedUser(t, db, "Ann")
	bob := seedUser(t, db, "Bob")
	popular := seedBook(t, db, "Popular")
	other := seedBook(t, db, "Other")

	first := seedLoan(t, db, popular, ann)
	_, err := db.MarkLoanReturned(ctx, first, t0.Add(time.Hour), nil)
	require.NoError(t, err)
	seedLoan(t, db, popular, bob)
	seedLoan(t, db, other, bob)

	s, err := db.Stats(ctx, t0.Add(DefaultLoanPeriod+time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalBooks)
	assert.Equal(t, 2, s.TotalUsers)
	assert.Equal(t, 2, s.ActiveLoans)
	assert.Equal(t, 2, s.OverdueLoans)
	assert.Equal(t, 1, s.ReturnedLoans)
	assert.Equal(t, 1, s.ActiveBorrowers)
	require.Len(t, s.PopularBooks, 1)
	assert.Equal(t, popular, s.PopularBooks[0].BookID)
	assert.Equal(t, 2, s.PopularBooks[0].LoanCount)
	require.Len(t, s.TopBorrowers, 1)
	assert.Equal(t, bob, s.TopBorrowers[0].UserID)

	s, err = db.Stats(ctx, t0, 0)
	require.NoError(t, err)
	assert.Zero(t, s.OverdueLoans)
	assert.Empty(t, s.PopularBooks)
}
