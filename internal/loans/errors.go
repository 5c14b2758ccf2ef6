// internal/loans/errors.go
package loans

import "errors"

var (
	// ErrLoanNotFound is returned when the requested loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")
	// ErrUserNotFound is returned when the users service has no such user.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookNotFound is returned when the books service has no such book.
	ErrBookNotFound = errors.New("book not found")
	// ErrDuplicateLoan guards the one-active-loan-per-(user,book) invariant.
	ErrDuplicateLoan = errors.New("user already has this book on loan")
	// ErrNoCopiesAvailable is returned when every copy is already lent out.
	ErrNoCopiesAvailable = errors.New("no available copies of this book")
	// ErrAlreadyReturned rejects a second return of the same loan.
	ErrAlreadyReturned = errors.New("book already returned")
	// ErrNotActive rejects extension of overdue or returned loans.
	ErrNotActive = errors.New("only active loans can be extended")
	// ErrMaxExtensionsReached caps extensions at MaxExtensions.
	ErrMaxExtensionsReached = errors.New("maximum extensions reached")
)
