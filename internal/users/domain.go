// internal/users/domain.go
package users

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a registered borrower. Name, email and role are opaque payload as
// far as the loan lifecycle is concerned; the loans service only looks the
// user up by id.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential is the stored password material, kept out of User so it never
// leaks into a response body.
type Credential struct {
	UserID       uuid.UUID
	PasswordHash string
	Salt         string
}

// ActiveUser is an activity rollup entry joined with local user data.
type ActiveUser struct {
	UserID         uuid.UUID `json:"user_id"`
	Name           string    `json:"name"`
	BooksBorrowed  int       `json:"books_borrowed"`
	CurrentBorrows int       `json:"current_borrows"`
}

var (
	// ErrUserNotFound is returned when the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists rejects a duplicate email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials hides whether email or password failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited throttles registration bursts.
	ErrRateLimited = errors.New("rate limit exceeded")
)
