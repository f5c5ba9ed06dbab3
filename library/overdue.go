package library

import "time"

// IsOverdue classifies a loan against now. A returned loan is never overdue,
// whatever its due date.
func IsOverdue(l *Loan, now time.Time) bool {
	return !l.Returned && now.After(l.DueDate)
}

// refreshOverdue overwrites the cached flag with the live value.
func refreshOverdue(now time.Time, loans ...*Loan) {
	for _, l := range loans {
		l.IsOverdue = IsOverdue(l, now)
	}
}
