// internal/users/implementation.go
package users

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/time/rate"
)

// service implements the Service interface.
type service struct {
	db          *sql.DB
	loans       LoanActivity
	logger      *slog.Logger
	rateLimiter *rate.Limiter
}

// NewService creates a new users service instance.
func NewService(db *sql.DB, loanActivity LoanActivity, logger *slog.Logger) Service {
	return &service{
		db:          db,
		loans:       loanActivity,
		logger:      logger.With("service", "users"),
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute), 5), // 5 registrations per minute
	}
}

// Register creates a new user with a hashed credential.
func (s *service) Register(ctx context.Context, name, email, role, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Name, user.Email, user.Role, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`, user.ID, passwordHash, salt)
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user on success.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user := &User{}
	var passwordHash, salt string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.role, u.created_at, u.updated_at, c.password_hash, c.salt
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt, &passwordHash, &salt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}

	ok, err := verifyPassword(password, salt, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// CountUsers reports the registry size for the system overview.
func (s *service) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// ActiveUsers fetches the loans activity aggregate and joins it with local
// names, preserving the aggregate's ordering.
func (s *service) ActiveUsers(ctx context.Context) ([]ActiveUser, error) {
	activity, err := s.loans.ActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(activity) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(activity))
	for _, a := range activity {
		ids = append(ids, a.UserID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name
		FROM users
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	names := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	var result []ActiveUser
	for _, a := range activity {
		name, ok := names[a.UserID]
		if !ok {
			continue
		}
		result = append(result, ActiveUser{
			UserID:         a.UserID,
			Name:           name,
			BooksBorrowed:  a.BooksBorrowed,
			CurrentBorrows: a.CurrentBorrows,
		})
	}
	return result, nil
}
