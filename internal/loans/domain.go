// internal/loans/domain.go
package loans

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusOverdue  Status = "OVERDUE"
	StatusReturned Status = "RETURNED"
)

// MaxExtensions caps how many times a single loan may be extended.
const MaxExtensions = 2

// Loan is one borrowing record. Loans are never deleted; a returned loan is
// retained as history.
type Loan struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	BookID          uuid.UUID  `json:"book_id"`
	IssueDate       time.Time  `json:"issue_date"`
	DueDate         time.Time  `json:"due_date"`
	OriginalDueDate time.Time  `json:"original_due_date"`
	ReturnDate      *time.Time `json:"return_date,omitempty"`
	Status          Status     `json:"status"`
	ExtensionsCount int        `json:"extensions_count"`
	Version         int        `json:"version"`
}

// StatusAt derives the effective status at the given instant. An active loan
// past its due date is overdue; there is no background sweep, the projection
// happens on every read and write.
func (l *Loan) StatusAt(now time.Time) Status {
	if l.Status == StatusActive && l.DueDate.Before(now) {
		return StatusOverdue
	}
	return l.Status
}

// User is the subset of the user record served by the users service that the
// loan lifecycle needs.
type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// Book is the subset of the book record served by the books service.
type Book struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Copies          int       `json:"copies"`
	AvailableCopies int       `json:"available_copies"`
}

// OverdueLoan is a loan reported by the overdue listing.
type OverdueLoan struct {
	Loan
	DaysOverdue int `json:"days_overdue"`
}

// BookActivity is the per-book borrow count used by the popularity rollup.
// Ties are broken by book id ascending so the ordering is deterministic.
type BookActivity struct {
	BookID      uuid.UUID `json:"book_id"`
	BorrowCount int       `json:"borrow_count"`
}

// UserActivity is the per-user rollup used by the active-users report.
type UserActivity struct {
	UserID         uuid.UUID `json:"user_id"`
	BooksBorrowed  int       `json:"books_borrowed"`
	CurrentBorrows int       `json:"current_borrows"`
}

// ActiveLoanCheck answers whether a book is referenced by any active-set loan.
// The books service consults it before allowing a deletion.
type ActiveLoanCheck struct {
	BookID           uuid.UUID `json:"book_id"`
	HasActiveLoans   bool      `json:"has_active_loans"`
	ActiveLoansCount int       `json:"active_loans_count"`
}

// Overview combines local loan aggregates with remote user/book counts. It is
// all-or-nothing: a failed remote lookup fails the whole report.
type Overview struct {
	TotalBooks     int `json:"total_books"`
	TotalUsers     int `json:"total_users"`
	BooksAvailable int `json:"books_available"`
	BooksBorrowed  int `json:"books_borrowed"`
	OverdueLoans   int `json:"overdue_loans"`
	LoansToday     int `json:"loans_today"`
	ReturnsToday   int `json:"returns_today"`
}

// LoanIssuedEvent is journaled when a loan is created.
type LoanIssuedEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	UserID  uuid.UUID `json:"user_id"`
	BookID  uuid.UUID `json:"book_id"`
	DueDate time.Time `json:"due_date"`
}

// LoanReturnedEvent is journaled when a loan is returned.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	ReturnDate time.Time `json:"return_date"`
}

// LoanExtendedEvent is journaled when a due date is pushed out.
type LoanExtendedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	NewDueDate time.Time `json:"new_due_date"`
	Extensions int       `json:"extensions"`
}
