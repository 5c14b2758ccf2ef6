// internal/users/service.go
package users

import (
	"context"

	"github.com/google/uuid"

	"librelend/internal/loans"
)

// Service defines the interface for the users service.
type Service interface {
	Register(ctx context.Context, name, email, role, password string) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	ActiveUsers(ctx context.Context) ([]ActiveUser, error)
}

// LoanActivity is the remote loans service's activity aggregate.
type LoanActivity interface {
	ActiveUsers(ctx context.Context) ([]loans.UserActivity, error)
}
