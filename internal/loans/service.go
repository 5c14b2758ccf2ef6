// internal/loans/service.go
package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the loans service.
type Service interface {
	IssueLoan(ctx context.Context, userID, bookID uuid.UUID, dueDate time.Time) (*Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	ExtendLoan(ctx context.Context, loanID uuid.UUID, extensionDays int) (*Loan, error)
	LoansByUser(ctx context.Context, userID uuid.UUID) ([]Loan, error)
	OverdueLoans(ctx context.Context) ([]OverdueLoan, error)
	PopularBooks(ctx context.Context) ([]BookActivity, error)
	ActiveUsers(ctx context.Context) ([]UserActivity, error)
	ActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (*ActiveLoanCheck, error)
	SystemOverview(ctx context.Context) (*Overview, error)
}

// UserDirectory is the remote users service as seen from here. GetUser
// reports a missing user as ErrUserNotFound; transport and breaker failures
// pass through unchanged.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// BookInventory is the remote books service, including the copy ledger.
// ReserveCopy and ReleaseCopy return the updated available count; a missing
// book is ErrBookNotFound and an exhausted book is ErrNoCopiesAvailable.
type BookInventory interface {
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ReserveCopy(ctx context.Context, id uuid.UUID) (int, error)
	ReleaseCopy(ctx context.Context, id uuid.UUID) (int, error)
	CountBooks(ctx context.Context) (int, error)
	TotalAvailableCopies(ctx context.Context) (int, error)
}
