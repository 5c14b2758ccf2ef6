// internal/books/domain.go
package books

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Book is a title in the catalog together with its copy counters. The ledger
// invariant 0 <= available_copies <= copies holds at all times; the difference
// equals the number of active-set loans on the book.
type Book struct {
	ID              uuid.UUID `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre,omitempty"`
	Copies          int       `json:"copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PopularBook is a popularity rollup entry joined with local book data.
type PopularBook struct {
	BookID      uuid.UUID `json:"book_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	BorrowCount int       `json:"borrow_count"`
}

// UpdateBookParams carries a partial update; nil fields are left unchanged.
// Copies and AvailableCopies travel together so the ledger invariant can be
// checked before writing.
type UpdateBookParams struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	ISBN            *string `json:"isbn"`
	Genre           *string `json:"genre"`
	Copies          *int    `json:"copies"`
	AvailableCopies *int    `json:"available_copies"`
}

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")
	// ErrBookExists rejects a duplicate ISBN.
	ErrBookExists = errors.New("book already exists")
	// ErrNoCopiesAvailable is returned by ReserveCopy when the count is zero.
	ErrNoCopiesAvailable = errors.New("no available copies")
	// ErrInvariantViolation signals counter bookkeeping gone wrong, such as a
	// release that would push available_copies past copies. It is an
	// operational alert, not a normal user-facing error.
	ErrInvariantViolation = errors.New("copy counter invariant violated")
	// ErrHasActiveLoans refuses deletion of a book that is still lent out.
	ErrHasActiveLoans = errors.New("book has active loans")
	// ErrInvalidCopies rejects counter values that would break the invariant.
	ErrInvalidCopies = errors.New("available copies must be between 0 and copies")
)
