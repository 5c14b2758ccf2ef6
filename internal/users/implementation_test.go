// internal/users/implementation_test.go
package users

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librelend/internal/loans"
	"librelend/internal/testdb"
)

// fakeActivity is an in-memory stand-in for the loans activity aggregate.
type fakeActivity struct {
	activity []loans.UserActivity
	err      error
}

func (f *fakeActivity) ActiveUsers(context.Context) ([]loans.UserActivity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activity, nil
}

func setup(t *testing.T) (Service, *fakeActivity) {
	db := testdb.Setup(t, "users_test", testdb.SchemaUsers, testdb.SchemaCredentials)
	remote := &fakeActivity{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(db, remote, logger), remote
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ada Lovelace", "ada@example.com", "member", "SecurePass123!")
	require.NoError(t, err)
	assert.Equal(t, "member", user.Role)
	assert.NotEqual(t, uuid.Nil, user.ID)

	authed, err := svc.Authenticate(ctx, "ada@example.com", "SecurePass123!")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ada Lovelace", "ada@example.com", "member", "SecurePass123!")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "ada@example.com", "WrongPass123!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Authenticate(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ada Lovelace", "ada@example.com", "member", "SecurePass123!")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Ada Again", "ada@example.com", "member", "OtherPass123!")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterRateLimited(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Register(ctx, "Member", fmt.Sprintf("member%d@example.com", i), "member", "SecurePass123!")
		require.NoError(t, err)
	}

	_, err := svc.Register(ctx, "Member", "member5@example.com", "member", "SecurePass123!")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGetUser(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ada Lovelace", "ada@example.com", "librarian", "SecurePass123!")
	require.NoError(t, err)

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, "librarian", got.Role)

	_, err = svc.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCountUsers(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	count, err := svc.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = svc.Register(ctx, "Ada", "ada@example.com", "member", "SecurePass123!")
	require.NoError(t, err)

	count, err = svc.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActiveUsersJoinsNames(t *testing.T) {
	svc, remote := setup(t)
	ctx := context.Background()

	ada, err := svc.Register(ctx, "Ada", "ada@example.com", "member", "SecurePass123!")
	require.NoError(t, err)
	grace, err := svc.Register(ctx, "Grace", "grace@example.com", "member", "SecurePass123!")
	require.NoError(t, err)
	departed := uuid.New()

	remote.activity = []loans.UserActivity{
		{UserID: grace.ID, BooksBorrowed: 7, CurrentBorrows: 2},
		{UserID: departed, BooksBorrowed: 5, CurrentBorrows: 0},
		{UserID: ada.ID, BooksBorrowed: 3, CurrentBorrows: 1},
	}

	active, err := svc.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2, "users no longer registered are dropped")
	assert.Equal(t, "Grace", active[0].Name)
	assert.Equal(t, 7, active[0].BooksBorrowed)
	assert.Equal(t, "Ada", active[1].Name)
	assert.Equal(t, 1, active[1].CurrentBorrows)
}

func TestActiveUsersPropagatesRemoteFailure(t *testing.T) {
	svc, remote := setup(t)
	remote.err = fmt.Errorf("loan-service call failed: connection refused")

	_, err := svc.ActiveUsers(context.Background())
	assert.Error(t, err)
}
