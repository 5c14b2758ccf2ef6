// internal/books/service.go
package books

import (
	"context"

	"github.com/google/uuid"

	"librelend/internal/loans"
)

// Service defines the interface for the books service.
type Service interface {
	AddBook(ctx context.Context, title, author, isbn, genre string, copies int) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, search string) ([]Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, params UpdateBookParams) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	ReserveCopy(ctx context.Context, id uuid.UUID) (int, error)
	ReleaseCopy(ctx context.Context, id uuid.UUID) (int, error)
	CountBooks(ctx context.Context) (int, error)
	TotalAvailableCopies(ctx context.Context) (int, error)
	PopularBooks(ctx context.Context) ([]PopularBook, error)
}

// LoanService is the remote loans service as needed here: the pre-deletion
// active-loan check and the raw popularity aggregate.
type LoanService interface {
	ActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (*loans.ActiveLoanCheck, error)
	PopularBooks(ctx context.Context) ([]loans.BookActivity, error)
}
