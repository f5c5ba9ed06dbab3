package library

import "time"

// Book represents catalog metadata and current lending availability of a book.
// IsAvailable is a projection of the loan table: it is true iff no active loan
// references the book. Only the availability synchronizer writes it.
type Book struct {
	ID          int64   `json:"id" db:"id"`
	Title       string  `json:"title" db:"title"`
	Author      string  `json:"author" db:"author"`
	ISBN        *string `json:"isbn,omitempty" db:"isbn"`
	Publisher   string  `json:"publisher,omitempty" db:"publisher"`
	Year        int     `json:"year,omitempty" db:"year"`
	Category    string  `json:"category,omitempty" db:"category"`
	Location    string  `json:"location,omitempty" db:"location"`
	IsAvailable bool    `json:"isAvailable" db:"is_available"`

	AvailabilityChangedAt time.Time `json:"-" db:"availability_changed_at"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
}

// UserType is the closed set of borrower roles.
type UserType string

const (
	UserTypeStudent  UserType = "student"
	UserTypeTeacher  UserType = "teacher"
	UserTypeStaff    UserType = "staff"
	UserTypeExternal UserType = "external"
)

// Valid reports whether t is one of the known roles.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeStudent, UserTypeTeacher, UserTypeStaff, UserTypeExternal:
		return true
	}
	return false
}

// User represents a registered borrower.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        *string   `json:"email,omitempty" db:"email"`
	Phone        string    `json:"phone,omitempty" db:"phone"`
	Type         UserType  `json:"type" db:"type"`
	IsActive     bool      `json:"isActive" db:"is_active"`
	PasswordHash string    `json:"-" db:"password_hash"` // Don't serialize password hash
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// LoanState is either Active or Returned. Returned is terminal.
type LoanState string

const (
	LoanActive   LoanState = "active"
	LoanReturned LoanState = "returned"
)

// Loan records one book held by one user.
type Loan struct {
	ID         int64      `json:"id" db:"id"`
	BookID     int64      `json:"bookId" db:"book_id"`
	UserID     int64      `json:"userId" db:"user_id"`
	LoanDate   time.Time  `json:"loanDate" db:"loan_date"`
	DueDate    time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Returned   bool       `json:"returned" db:"returned"`
	// IsOverdue is a cache refreshed on every write. Read paths overwrite it
	// with a live value from IsOverdue before handing the loan out.
	IsOverdue bool      `json:"isOverdue" db:"is_overdue"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Active reports whether the loan still holds its book.
func (l *Loan) Active() bool { return !l.Returned }

// State returns the lifecycle state of the loan.
func (l *Loan) State() LoanState {
	if l.Returned {
		return LoanReturned
	}
	return LoanActive
}

// Page selects a window of a list view. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

func (p Page) offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// BookFilter narrows ListBooks.
type BookFilter struct {
	Available *bool
	Author    string
	Category  string
	Query     string // matched against title, author and isbn
	Sort      string // title, author, year or id
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Active *bool
	Type   UserType
	Query  string // matched against name and email
}

// LoanFilter narrows ListLoans. Status is "", "active", "returned" or "overdue".
type LoanFilter struct {
	Status string
	BookID int64
	UserID int64
}

// ActiveLoanQuery looks up the active loan for a book, a user or a pair.
// Zero fields are ignored.
type ActiveLoanQuery struct {
	BookID int64
	UserID int64
}

// PopularBook is one row of the most-borrowed ranking.
type PopularBook struct {
	BookID    int64  `json:"bookId" db:"id"`
	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	LoanCount int    `json:"loanCount" db:"loan_count"`
}

// TopBorrower is one row of the most-active-borrower ranking.
type TopBorrower struct {
	UserID    int64  `json:"userId" db:"id"`
	Name      string `json:"name" db:"name"`
	LoanCount int    `json:"loanCount" db:"loan_count"`
}

// Stats is a read-time aggregation over the store. Nothing here is maintained
// incrementally.
type Stats struct {
	TotalBooks      int            `json:"totalBooks"`
	AvailableBooks  int            `json:"availableBooks"`
	TotalUsers      int            `json:"totalUsers"`
	ActiveUsers     int            `json:"activeUsers"`
	ActiveLoans     int            `json:"activeLoans"`
	OverdueLoans    int            `json:"overdueLoans"`
	ReturnedLoans   int            `json:"returnedLoans"`
	ActiveBorrowers int            `json:"activeBorrowers"`
	PopularBooks    []*PopularBook `json:"popularBooks"`
	TopBorrowers    []*TopBorrower `json:"topBorrowers"`
}

// ReconcileReport counts the corrections made by a reconciliation pass.
type ReconcileReport struct {
	MarkedUnavailable int64 `json:"markedUnavailable"`
	MarkedAvailable   int64 `json:"markedAvailable"`
	OverdueRefreshed  int64 `json:"overdueRefreshed"`
}

// Corrections is the total number of rows changed.
func (r ReconcileReport) Corrections() int64 {
	return r.MarkedUnavailable + r.MarkedAvailable + r.OverdueRefreshed
}
