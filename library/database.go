package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "pgx"
)

// dialect holds what differs between the SQLite and Postgres backends.
type dialect struct {
	name   string
	goqu   goqu.DialectWrapper
	schema []string
	// lockRow is appended to the SELECT that opens a guarded delete. SQLite
	// transactions are already exclusive (_txlock=immediate).
	lockRow string
	kind    func(error) error
}

var dialects = map[string]dialect{
	driverSQLite: {
		name:   driverSQLite,
		goqu:   goqu.Dialect("sqlite3"),
		schema: sqliteSchema,
		kind:   sqliteErrorKind,
	},
	driverPostgres: {
		name:    driverPostgres,
		goqu:    goqu.Dialect("postgres"),
		schema:  postgresSchema,
		lockRow: " FOR UPDATE",
		kind:    postgresErrorKind,
	},
}

// Drivers lists the accepted driver names.
func Drivers() []string { return []string{driverSQLite, driverPostgres} }

// Database is the SQL entity store. It implements Store on top of either the
// embedded SQLite driver or Postgres through pgx.
type Database struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*Database)(nil)

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	return Open(context.Background(), driverSQLite, dbPath)
}

// Open connects to driver ("sqlite3" or "pgx") at dsn and applies schema
// migrations. For SQLite the dsn may be a plain file path.
func Open(ctx context.Context, driver, dsn string) (*Database, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q (want one of %s)", driver, strings.Join(Drivers(), ", "))
	}

	if driver == driverSQLite {
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := applyMigrations(ctx, db, d); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, dialect: d}, nil
}

// sqliteDSN turns a file path into a DSN with busy_timeout, foreign keys and
// immediate transactions enabled. Values already starting with "file:" pass
// through unchanged.
func sqliteDSN(path string) (string, error) {
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path), nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// Ping checks connectivity.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// q rewrites ? placeholders for the active driver.
func (d *Database) q(query string) string { return d.db.Rebind(query) }

// classify maps driver errors onto the package error kinds.
func (d *Database) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if kind := d.dialect.kind(err); kind != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func sqliteErrorKind(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ErrConflict
	case sqlite3.ErrConstraintForeignKey:
		return ErrNotFound
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
		return ErrInvalidArgument
	}
	return nil
}

func postgresErrorKind(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return ErrConflict
	case "23503": // foreign_key_violation
		return ErrNotFound
	case "23514", "23502": // check_violation, not_null_violation
		return ErrInvalidArgument
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func utc(t time.Time) time.Time { return t.UTC() }

func (d *Database) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q(query), args...)
	if err != nil {
		return 0, d.classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, d.classify(err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id,title,author,isbn,publisher,year,category,location,is_available,availability_changed_at,created_at,updated_at`

func (d *Database) InsertBook(ctx context.Context, b *Book) (int64, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx, d.q(`INSERT INTO books(title,author,isbn,publisher,year,category,location,is_available,availability_changed_at,created_at,updated_at)
            VALUES(?,?,?,?,?,?,?,TRUE,?,?,?) RETURNING id`),
		b.Title, b.Author, nullable(b.ISBN), b.Publisher, b.Year, b.Category, b.Location,
		utc(b.CreatedAt), utc(b.CreatedAt), utc(b.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert book: %w", d.classify(err))
	}
	return id, nil
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	if err := d.db.GetContext(ctx, &b, d.q(`SELECT `+bookColumns+` FROM books WHERE id=?`), id); err != nil {
		return nil, fmt.Errorf("book %d: %w", id, d.classify(err))
	}
	return &b, nil
}

func (d *Database) UpdateBookDetails(ctx context.Context, b *Book) error {
	n, err := d.exec(ctx, `UPDATE books SET title=?, author=?, isbn=?, publisher=?, year=?, category=?, location=?, updated_at=? WHERE id=?`,
		b.Title, b.Author, nullable(b.ISBN), b.Publisher, b.Year, b.Category, b.Location, utc(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("update book %d: %w", b.ID, err)
	}
	if n == 0 {
		return notFound("book %d", b.ID)
	}
	return nil
}

func (d *Database) ClaimBook(ctx context.Context, id int64, at time.Time) (bool, error) {
	n, err := d.exec(ctx, `UPDATE books SET is_available=FALSE, availability_changed_at=?, updated_at=? WHERE id=? AND is_available=TRUE`,
		utc(at), utc(at), id)
	if err != nil {
		return false, fmt.Errorf("claim book %d: %w", id, err)
	}
	return n == 1, nil
}

func (d *Database) SyncBookAvailability(ctx context.Context, id int64, at time.Time) (bool, error) {
	var available bool
	err := d.db.QueryRowxContext(ctx, d.q(`UPDATE books
            SET is_available = NOT EXISTS (SELECT 1 FROM loans WHERE loans.book_id = books.id AND loans.returned = FALSE),
                availability_changed_at=?, updated_at=?
            WHERE id=? RETURNING is_available`), utc(at), utc(at), id).Scan(&available)
	if err != nil {
		return false, fmt.Errorf("sync availability of book %d: %w", id, d.classify(err))
	}
	return available, nil
}

func (d *Database) DeleteBookIfIdle(ctx context.Context, id int64) error {
	return d.deleteIfIdle(ctx, "book", id)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id,name,email,phone,type,is_active,password_hash,created_at,updated_at`

func (d *Database) InsertUser(ctx context.Context, u *User) (int64, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx, d.q(`INSERT INTO users(name,email,phone,type,is_active,password_hash,created_at,updated_at)
            VALUES(?,?,?,?,?,?,?,?) RETURNING id`),
		u.Name, nullable(u.Email), u.Phone, string(u.Type), u.IsActive, u.PasswordHash, utc(u.CreatedAt), utc(u.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", d.classify(err))
	}
	return id, nil
}

func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := d.db.GetContext(ctx, &u, d.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id); err != nil {
		return nil, fmt.Errorf("user %d: %w", id, d.classify(err))
	}
	return &u, nil
}

func (d *Database) UpdateUser(ctx context.Context, u *User) error {
	n, err := d.exec(ctx, `UPDATE users SET name=?, email=?, phone=?, type=?, is_active=?, updated_at=? WHERE id=?`,
		u.Name, nullable(u.Email), u.Phone, string(u.Type), u.IsActive, utc(u.UpdatedAt), u.ID)
	if err != nil {
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if n == 0 {
		return notFound("user %d", u.ID)
	}
	return nil
}

func (d *Database) SetPasswordHash(ctx context.Context, id int64, hash string, at time.Time) error {
	n, err := d.exec(ctx, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, hash, utc(at), id)
	if err != nil {
		return fmt.Errorf("set password of user %d: %w", id, err)
	}
	if n == 0 {
		return notFound("user %d", id)
	}
	return nil
}

func (d *Database) DeleteUserIfIdle(ctx context.Context, id int64) error {
	return d.deleteIfIdle(ctx, "user", id)
}

// deleteIfIdle checks for a blocking active loan and deletes the entity inside
// one transaction. The first SELECT locks the row on Postgres, which makes a
// concurrent loan insert wait on its foreign key check and then fail.
func (d *Database) deleteIfIdle(ctx context.Context, entity string, id int64) error {
	table, column := "books", "book_id"
	if entity == "user" {
		table, column = "users", "user_id"
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", entity, id, d.classify(err))
	}
	defer tx.Rollback()

	var found int64
	if err := tx.GetContext(ctx, &found, d.q(`SELECT id FROM `+table+` WHERE id=?`+d.dialect.lockRow), id); err != nil {
		return fmt.Errorf("%s %d: %w", entity, id, d.classify(err))
	}

	var blocking Loan
	err = tx.GetContext(ctx, &blocking, d.q(`SELECT `+loanColumns+` FROM loans WHERE `+column+`=? AND returned=FALSE LIMIT 1`), id)
	switch {
	case err == nil:
		return &ReferenceError{Entity: entity, ID: id, LoanID: blocking.ID, BookID: blocking.BookID, UserID: blocking.UserID}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("delete %s %d: %w", entity, id, d.classify(err))
	}

	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM `+table+` WHERE id=?`), id); err != nil {
		return fmt.Errorf("delete %s %d: %w", entity, id, d.classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s %d: %w", entity, id, d.classify(err))
	}
	return nil
}
