package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const loanColumns = `id,book_id,user_id,loan_date,due_date,return_date,returned,is_overdue,notes,created_at,updated_at`

func (d *Database) InsertLoan(ctx context.Context, l *Loan) (int64, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx, d.q(`INSERT INTO loans(book_id,user_id,loan_date,due_date,return_date,returned,is_overdue,notes,created_at,updated_at)
            VALUES(?,?,?,?,NULL,FALSE,?,?,?,?) RETURNING id`),
		l.BookID, l.UserID, utc(l.LoanDate), utc(l.DueDate), l.IsOverdue, l.Notes, utc(l.CreatedAt), utc(l.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert loan: %w", d.classify(err))
	}
	return id, nil
}

func (d *Database) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	var l Loan
	if err := d.db.GetContext(ctx, &l, d.q(`SELECT `+loanColumns+` FROM loans WHERE id=?`), id); err != nil {
		return nil, fmt.Errorf("loan %d: %w", id, d.classify(err))
	}
	return &l, nil
}

func (d *Database) FindActiveLoan(ctx context.Context, q ActiveLoanQuery) (*Loan, error) {
	if q.BookID == 0 && q.UserID == 0 {
		return nil, invalid("active loan lookup needs a book or a user")
	}
	query := `SELECT ` + loanColumns + ` FROM loans WHERE returned=FALSE`
	var args []any
	if q.BookID != 0 {
		query += ` AND book_id=?`
		args = append(args, q.BookID)
	}
	if q.UserID != 0 {
		query += ` AND user_id=?`
		args = append(args, q.UserID)
	}
	query += ` ORDER BY id LIMIT 1`

	var l Loan
	err := d.db.GetContext(ctx, &l, d.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active loan: %w", d.classify(err))
	}
	return &l, nil
}

func (d *Database) UpdateActiveLoan(ctx context.Context, l *Loan, expectBookID int64) (bool, error) {
	n, err := d.exec(ctx, `UPDATE loans SET book_id=?, user_id=?, due_date=?, is_overdue=?, notes=?, updated_at=?
            WHERE id=? AND returned=FALSE AND book_id=?`,
		l.BookID, l.UserID, utc(l.DueDate), l.IsOverdue, l.Notes, utc(l.UpdatedAt), l.ID, expectBookID)
	if err != nil {
		return false, fmt.Errorf("update loan %d: %w", l.ID, err)
	}
	return n == 1, nil
}

func (d *Database) UpdateLoanNotes(ctx context.Context, id int64, notes string, at time.Time) error {
	n, err := d.exec(ctx, `UPDATE loans SET notes=?, updated_at=? WHERE id=?`, notes, utc(at), id)
	if err != nil {
		return fmt.Errorf("update notes of loan %d: %w", id, err)
	}
	if n == 0 {
		return notFound("loan %d", id)
	}
	return nil
}

func (d *Database) MarkLoanReturned(ctx context.Context, id int64, at time.Time, notes *string) (*Loan, error) {
	var returned *Loan
	err := d.withLoan(ctx, id, func(tx *sqlx.Tx, l *Loan) error {
		if l.Returned {
			return nil
		}
		at = utc(at)
		if notes != nil {
			l.Notes = *notes
		}
		_, err := tx.ExecContext(ctx, d.q(`UPDATE loans SET returned=TRUE, return_date=?, is_overdue=FALSE, notes=?, updated_at=?
            WHERE id=? AND returned=FALSE`), at, l.Notes, at, id)
		if err != nil {
			return err
		}
		l.Returned, l.ReturnDate, l.IsOverdue, l.UpdatedAt = true, &at, false, at
		returned = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("return loan %d: %w", id, err)
	}
	return returned, nil
}

func (d *Database) DeleteLoan(ctx context.Context, id int64) (*Loan, error) {
	var deleted *Loan
	err := d.withLoan(ctx, id, func(tx *sqlx.Tx, l *Loan) error {
		if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM loans WHERE id=?`), id); err != nil {
			return err
		}
		deleted = l
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete loan %d: %w", id, err)
	}
	return deleted, nil
}

// withLoan loads the loan row under a write lock and runs fn in the same
// transaction. Errors come back classified.
func (d *Database) withLoan(ctx context.Context, id int64, fn func(tx *sqlx.Tx, l *Loan) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return d.classify(err)
	}
	defer tx.Rollback()

	var l Loan
	if err := tx.GetContext(ctx, &l, d.q(`SELECT `+loanColumns+` FROM loans WHERE id=?`+d.dialect.lockRow), id); err != nil {
		return d.classify(err)
	}
	if err := fn(tx, &l); err != nil {
		return d.classify(err)
	}
	return d.classify(tx.Commit())
}
