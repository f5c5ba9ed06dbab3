package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// ---------------------------------------------------------------------------
// List views
// ---------------------------------------------------------------------------

var bookSorts = map[string]string{
	"":       "id",
	"id":     "id",
	"title":  "title",
	"author": "author",
	"year":   "year",
}

func (d *Database) ListBooks(ctx context.Context, f BookFilter, p Page) ([]*Book, int, error) {
	ds := d.dialect.goqu.From("books").Prepared(true)
	if f.Available != nil {
		ds = ds.Where(boolIs("is_available", *f.Available))
	}
	if f.Author != "" {
		ds = ds.Where(goqu.C("author").Eq(f.Author))
	}
	if f.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(f.Category))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		ds = ds.Where(containsAny(q, "title", "author", "isbn"))
	}

	sortCol, ok := bookSorts[strings.ToLower(f.Sort)]
	if !ok {
		return nil, 0, invalid("unknown sort %q", f.Sort)
	}

	var books []*Book
	total, err := d.list(ctx, ds, &books, bookColumns, p, goqu.C(sortCol).Asc(), goqu.C("id").Asc())
	if err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

func (d *Database) ListUsers(ctx context.Context, f UserFilter, p Page) ([]*User, int, error) {
	ds := d.dialect.goqu.From("users").Prepared(true)
	if f.Active != nil {
		ds = ds.Where(boolIs("is_active", *f.Active))
	}
	if f.Type != "" {
		ds = ds.Where(goqu.C("type").Eq(string(f.Type)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		ds = ds.Where(containsAny(q, "name", "email"))
	}

	var users []*User
	total, err := d.list(ctx, ds, &users, userColumns, p, goqu.C("name").Asc(), goqu.C("id").Asc())
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// ListLoans evaluates the overdue status against now inside the query; the
// stored is_overdue flag is never consulted.
func (d *Database) ListLoans(ctx context.Context, f LoanFilter, p Page, now time.Time) ([]*Loan, int, error) {
	ds := d.dialect.goqu.From("loans").Prepared(true)
	switch f.Status {
	case "":
	case string(LoanActive):
		ds = ds.Where(boolIs("returned", false))
	case string(LoanReturned):
		ds = ds.Where(boolIs("returned", true))
	case "overdue":
		ds = ds.Where(boolIs("returned", false), goqu.C("due_date").Lt(utc(now)))
	default:
		return nil, 0, invalid("unknown loan status %q", f.Status)
	}
	if f.BookID != 0 {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.UserID != 0 {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}

	var loans []*Loan
	total, err := d.list(ctx, ds, &loans, loanColumns, p, goqu.C("loan_date").Desc(), goqu.C("id").Desc())
	if err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}
	return loans, total, nil
}

// list runs a count and a page query for ds and scans the page into dest.
func (d *Database) list(ctx context.Context, ds *goqu.SelectDataset, dest any, columns string, p Page, order ...exp.OrderedExpression) (int, error) {
	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var total int
	if err := d.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return 0, d.classify(err)
	}

	sel := ds.Select(columnList(columns)...).Order(order...)
	if p.Size > 0 {
		sel = sel.Limit(uint(p.Size)).Offset(uint(p.offset()))
	}
	query, args, err := sel.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build select: %w", err)
	}
	if err := d.db.SelectContext(ctx, dest, query, args...); err != nil {
		return 0, d.classify(err)
	}
	return total, nil
}

func columnList(columns string) []any {
	parts := strings.Split(columns, ",")
	cols := make([]any, len(parts))
	for i, c := range parts {
		cols[i] = goqu.C(strings.TrimSpace(c))
	}
	return cols
}

// boolIs renders a boolean comparison both SQLite and Postgres accept
// without a bound parameter.
func boolIs(col string, v bool) exp.LiteralExpression {
	if v {
		return goqu.L(col + " = TRUE")
	}
	return goqu.L(col + " = FALSE")
}

func containsAny(q string, cols ...string) exp.ExpressionList {
	pattern := "%" + strings.ToLower(q) + "%"
	likes := make([]exp.Expression, len(cols))
	for i, c := range cols {
		likes[i] = goqu.Func("LOWER", goqu.C(c)).Like(pattern)
	}
	return goqu.Or(likes...)
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func (d *Database) Stats(ctx context.Context, now time.Time, topN int) (*Stats, error) {
	var books struct {
		Total     int64 `db:"total"`
		Available int64 `db:"available"`
	}
	if err := d.db.GetContext(ctx, &books, `SELECT COUNT(*) AS total,
            COALESCE(SUM(CASE WHEN is_available = TRUE THEN 1 ELSE 0 END), 0) AS available FROM books`); err != nil {
		return nil, fmt.Errorf("book stats: %w", d.classify(err))
	}

	var users struct {
		Total  int64 `db:"total"`
		Active int64 `db:"active"`
	}
	if err := d.db.GetContext(ctx, &users, `SELECT COUNT(*) AS total,
            COALESCE(SUM(CASE WHEN is_active = TRUE THEN 1 ELSE 0 END), 0) AS active FROM users`); err != nil {
		return nil, fmt.Errorf("user stats: %w", d.classify(err))
	}

	var loans struct {
		Active    int64 `db:"active"`
		Overdue   int64 `db:"overdue"`
		Returned  int64 `db:"returned_count"`
		Borrowers int64 `db:"borrowers"`
	}
	if err := d.db.GetContext(ctx, &loans, d.q(`SELECT
            COALESCE(SUM(CASE WHEN returned = FALSE THEN 1 ELSE 0 END), 0) AS active,
            COALESCE(SUM(CASE WHEN returned = FALSE AND due_date < ? THEN 1 ELSE 0 END), 0) AS overdue,
            COALESCE(SUM(CASE WHEN returned = TRUE THEN 1 ELSE 0 END), 0) AS returned_count,
            COUNT(DISTINCT CASE WHEN returned = FALSE THEN user_id END) AS borrowers
            FROM loans`), utc(now)); err != nil {
		return nil, fmt.Errorf("loan stats: %w", d.classify(err))
	}

	s := &Stats{
		TotalBooks:      int(books.Total),
		AvailableBooks:  int(books.Available),
		TotalUsers:      int(users.Total),
		ActiveUsers:     int(users.Active),
		ActiveLoans:     int(loans.Active),
		OverdueLoans:    int(loans.Overdue),
		ReturnedLoans:   int(loans.Returned),
		ActiveBorrowers: int(loans.Borrowers),
		PopularBooks:    []*PopularBook{},
		TopBorrowers:    []*TopBorrower{},
	}
	if topN <= 0 {
		return s, nil
	}

	if err := d.db.SelectContext(ctx, &s.PopularBooks, d.q(`SELECT b.id, b.title, b.author, COUNT(l.id) AS loan_count
            FROM loans l JOIN books b ON b.id = l.book_id
            GROUP BY b.id, b.title, b.author
            ORDER BY loan_count DESC, b.id ASC LIMIT ?`), topN); err != nil {
		return nil, fmt.Errorf("popular books: %w", d.classify(err))
	}
	if err := d.db.SelectContext(ctx, &s.TopBorrowers, d.q(`SELECT u.id, u.name, COUNT(l.id) AS loan_count
            FROM loans l JOIN users u ON u.id = l.user_id
            GROUP BY u.id, u.name
            ORDER BY loan_count DESC, u.id ASC LIMIT ?`), topN); err != nil {
		return nil, fmt.Errorf("top borrowers: %w", d.classify(err))
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// Reconcile repairs availability flags and overdue caches that drifted from
// the loan table. Books are only flipped back to available when their flag
// has been stable for longer than grace, which leaves an in-flight loan
// creation (book claimed, loan not yet written) alone.
func (d *Database) Reconcile(ctx context.Context, now time.Time, grace time.Duration) (ReconcileReport, error) {
	var report ReconcileReport
	now = utc(now)

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", d.classify(err))
	}
	defer tx.Rollback()

	steps := []struct {
		query string
		args  []any
		count *int64
	}{
		{
			query: `UPDATE books SET is_available=FALSE, availability_changed_at=?, updated_at=?
                WHERE is_available = TRUE
                AND EXISTS (SELECT 1 FROM loans WHERE loans.book_id = books.id AND loans.returned = FALSE)`,
			args:  []any{now, now},
			count: &report.MarkedUnavailable,
		},
		{
			query: `UPDATE books SET is_available=TRUE, availability_changed_at=?, updated_at=?
                WHERE is_available = FALSE AND availability_changed_at < ?
                AND NOT EXISTS (SELECT 1 FROM loans WHERE loans.book_id = books.id AND loans.returned = FALSE)`,
			args:  []any{now, now, now.Add(-grace)},
			count: &report.MarkedAvailable,
		},
		{
			query: `UPDATE loans SET is_overdue = (returned = FALSE AND due_date < ?)
                WHERE is_overdue <> (returned = FALSE AND due_date < ?)`,
			args:  []any{now, now},
			count: &report.OverdueRefreshed,
		},
	}

	for _, step := range steps {
		res, err := tx.ExecContext(ctx, d.q(step.query), step.args...)
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("reconcile: %w", d.classify(err))
		}
		if *step.count, err = res.RowsAffected(); err != nil {
			return ReconcileReport{}, fmt.Errorf("reconcile: %w", d.classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile: %w", d.classify(err))
	}
	return report, nil
}
