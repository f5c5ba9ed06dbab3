package library

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 3

// The loan table carries two partial unique indexes: one active loan per book
// and one active loan per (book, user) pair. They back up the conditional
// writes the manager performs, so a lost race surfaces as a constraint
// violation instead of a second active loan.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT,
            publisher TEXT NOT NULL DEFAULT '',
            year INTEGER NOT NULL DEFAULT 0,
            category TEXT NOT NULL DEFAULT '',
            location TEXT NOT NULL DEFAULT '',
            is_available BOOLEAN NOT NULL DEFAULT TRUE,
            availability_changed_at DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS books_isbn_key ON books(isbn);`,
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT,
            phone TEXT NOT NULL DEFAULT '',
            type TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            password_hash TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users(email);`,
	`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            loan_date DATETIME NOT NULL,
            due_date DATETIME NOT NULL,
            return_date DATETIME,
            returned BOOLEAN NOT NULL DEFAULT FALSE,
            is_overdue BOOLEAN NOT NULL DEFAULT FALSE,
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (due_date > loan_date),
            CHECK ((returned = TRUE AND return_date IS NOT NULL) OR (returned = FALSE AND return_date IS NULL))
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_active_book_key ON loans(book_id) WHERE returned = FALSE;`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_active_pair_key ON loans(book_id, user_id) WHERE returned = FALSE;`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON loans(user_id);`,
	`CREATE INDEX IF NOT EXISTS loans_due_idx ON loans(due_date) WHERE returned = FALSE;`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
            id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT,
            publisher TEXT NOT NULL DEFAULT '',
            year INTEGER NOT NULL DEFAULT 0,
            category TEXT NOT NULL DEFAULT '',
            location TEXT NOT NULL DEFAULT '',
            is_available BOOLEAN NOT NULL DEFAULT TRUE,
            availability_changed_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS books_isbn_key ON books(isbn);`,
	`CREATE TABLE IF NOT EXISTS users (
            id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT,
            phone TEXT NOT NULL DEFAULT '',
            type TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            password_hash TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users(email);`,
	`CREATE TABLE IF NOT EXISTS loans (
            id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
            book_id BIGINT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            loan_date TIMESTAMPTZ NOT NULL,
            due_date TIMESTAMPTZ NOT NULL,
            return_date TIMESTAMPTZ,
            returned BOOLEAN NOT NULL DEFAULT FALSE,
            is_overdue BOOLEAN NOT NULL DEFAULT FALSE,
            notes TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            CHECK (due_date > loan_date),
            CHECK ((returned AND return_date IS NOT NULL) OR (NOT returned AND return_date IS NULL))
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_active_book_key ON loans(book_id) WHERE returned = FALSE;`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_active_pair_key ON loans(book_id, user_id) WHERE returned = FALSE;`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON loans(user_id);`,
	`CREATE INDEX IF NOT EXISTS loans_due_idx ON loans(due_date) WHERE returned = FALSE;`,
}

func applyMigrations(ctx context.Context, db *sqlx.DB, d dialect) error {
	if d.name == driverSQLite {
		// WAL improves write concurrency.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRowxContext(ctx, `SELECT CAST(value AS INTEGER) FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range d.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	upsert := db.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`)
	if _, err := tx.ExecContext(ctx, upsert, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
