// internal/loans/implementation_test.go
package loans

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librelend/internal/eventlog"
	"librelend/internal/testdb"
)

// fakeDirectory is an in-memory stand-in for the users service.
type fakeDirectory struct {
	users map[uuid.UUID]User
}

func (f *fakeDirectory) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeDirectory) CountUsers(context.Context) (int, error) {
	return len(f.users), nil
}

// fakeInventory is an in-memory stand-in for the books service ledger.
type fakeInventory struct {
	mu       sync.Mutex
	books    map[uuid.UUID]*Book
	reserves int
	releases int
}

func (f *fakeInventory) GetBook(_ context.Context, id uuid.UUID) (*Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, ErrBookNotFound
	}
	snapshot := *b
	return &snapshot, nil
}

func (f *fakeInventory) ReserveCopy(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return 0, ErrBookNotFound
	}
	if b.AvailableCopies <= 0 {
		return 0, ErrNoCopiesAvailable
	}
	b.AvailableCopies--
	f.reserves++
	return b.AvailableCopies, nil
}

func (f *fakeInventory) ReleaseCopy(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return 0, ErrBookNotFound
	}
	b.AvailableCopies++
	f.releases++
	return b.AvailableCopies, nil
}

func (f *fakeInventory) CountBooks(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.books), nil
}

func (f *fakeInventory) TotalAvailableCopies(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, b := range f.books {
		total += b.AvailableCopies
	}
	return total, nil
}

func (f *fakeInventory) available(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.books[id].AvailableCopies
}

type fixture struct {
	svc       Service
	events    *eventlog.Log
	directory *fakeDirectory
	inventory *fakeInventory
	user      uuid.UUID
	book      uuid.UUID
}

func setup(t *testing.T) *fixture {
	db := testdb.Setup(t, "loans_test",
		testdb.SchemaLoans,
		testdb.SchemaLoansActiveIndex,
		testdb.SchemaLoanEvents,
	)

	userID := uuid.New()
	bookID := uuid.New()
	directory := &fakeDirectory{users: map[uuid.UUID]User{
		userID: {ID: userID, Name: "Ada", Email: "ada@example.com", Role: "member"},
	}}
	inventory := &fakeInventory{books: map[uuid.UUID]*Book{
		bookID: {ID: bookID, Title: "The Go Programming Language", Author: "Donovan", Copies: 2, AvailableCopies: 2},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := eventlog.NewLog(db)
	return &fixture{
		svc:       NewService(db, events, directory, inventory, logger),
		events:    events,
		directory: directory,
		inventory: inventory,
		user:      userID,
		book:      bookID,
	}
}

func (f *fixture) addUser() uuid.UUID {
	id := uuid.New()
	f.directory.users[id] = User{ID: id, Name: "Extra", Email: id.String() + "@example.com", Role: "member"}
	return id
}

func (f *fixture) addBook(copies int) uuid.UUID {
	id := uuid.New()
	f.inventory.mu.Lock()
	defer f.inventory.mu.Unlock()
	f.inventory.books[id] = &Book{ID: id, Title: "Extra", Copies: copies, AvailableCopies: copies}
	return id
}

func due(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, days)
}

func TestIssueLoan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	dueDate := due(14)
	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, dueDate)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, loan.Status)
	assert.Equal(t, 1, loan.Version)
	assert.Equal(t, 0, loan.ExtensionsCount)
	assert.WithinDuration(t, dueDate, loan.DueDate, time.Second)
	assert.WithinDuration(t, dueDate, loan.OriginalDueDate, time.Second)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, 1, f.inventory.available(f.book))

	entries, err := f.events.Load(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "LoanIssued", entries[0].EventType)
}

func TestIssueLoanUnknownUser(t *testing.T) {
	f := setup(t)

	_, err := f.svc.IssueLoan(context.Background(), uuid.New(), f.book, due(14))
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, f.inventory.reserves, "no copy may be reserved for a rejected loan")
}

func TestIssueLoanUnknownBook(t *testing.T) {
	f := setup(t)

	_, err := f.svc.IssueLoan(context.Background(), f.user, uuid.New(), due(14))
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestIssueLoanNoCopiesAvailable(t *testing.T) {
	f := setup(t)
	bookID := f.addBook(0)

	_, err := f.svc.IssueLoan(context.Background(), f.user, bookID, due(14))
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	assert.Equal(t, 0, f.inventory.reserves)
}

func TestIssueLoanDuplicateRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)

	_, err = f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	assert.ErrorIs(t, err, ErrDuplicateLoan)
	assert.Equal(t, 1, f.inventory.reserves, "duplicate must be rejected before reserving")
	assert.Equal(t, 1, f.inventory.available(f.book))
}

func TestIssueLoanConcurrentDuplicateOnlyOneWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Plenty of copies, so the only thing stopping the racers is the
	// one-active-loan-per-pair rule.
	bookID := f.addBook(20)

	const attempts = 6
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.IssueLoan(ctx, f.user, bookID, due(14))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateLoan)
		}
	}
	assert.Equal(t, 1, wins, "the active-pair index must admit exactly one loan")
}

func TestIssueLoanAllowedAfterReturn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	again, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	assert.NotEqual(t, loan.ID, again.ID)
}

func TestReturnLoan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	require.Equal(t, 1, f.inventory.available(f.book))

	returned, err := f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, 2, returned.Version)
	assert.Equal(t, 2, f.inventory.available(f.book))

	entries, err := f.events.Load(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "LoanReturned", entries[1].EventType)
}

func TestReturnLoanTwiceRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, 1, f.inventory.releases, "a loan releases its copy exactly once")
	assert.Equal(t, 2, f.inventory.available(f.book))
}

func TestReturnUnknownLoan(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ReturnLoan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestReturnOverdueLoan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(-3))
	require.NoError(t, err)

	returned, err := f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, returned.Status)
}

func TestExtendLoan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)

	extended, err := f.svc.ExtendLoan(ctx, loan.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, extended.ExtensionsCount)
	assert.WithinDuration(t, loan.DueDate.AddDate(0, 0, 7), extended.DueDate, time.Second)
	assert.WithinDuration(t, loan.OriginalDueDate, extended.OriginalDueDate, time.Second)

	extended, err = f.svc.ExtendLoan(ctx, loan.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, extended.ExtensionsCount)

	_, err = f.svc.ExtendLoan(ctx, loan.ID, 7)
	assert.ErrorIs(t, err, ErrMaxExtensionsReached)
}

func TestExtendOverdueLoanRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(-1))
	require.NoError(t, err)

	_, err = f.svc.ExtendLoan(ctx, loan.ID, 7)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestExtendReturnedLoanRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.svc.ExtendLoan(ctx, loan.ID, 7)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestLoansByUserDerivesOverdue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	overdueBook := f.addBook(1)

	_, err := f.svc.IssueLoan(ctx, f.user, overdueBook, due(-2))
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)

	history, err := f.svc.LoansByUser(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, history, 2)

	byBook := map[uuid.UUID]Status{}
	for _, l := range history {
		byBook[l.BookID] = l.Status
	}
	assert.Equal(t, StatusOverdue, byBook[overdueBook])
	assert.Equal(t, StatusActive, byBook[f.book])
}

func TestOverdueLoans(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	overdueBook := f.addBook(1)

	_, err := f.svc.IssueLoan(ctx, f.user, overdueBook, due(-5))
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)

	overdue, err := f.svc.OverdueLoans(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, overdueBook, overdue[0].BookID)
	assert.Equal(t, StatusOverdue, overdue[0].Status)
	assert.Equal(t, 5, overdue[0].DaysOverdue)
}

func TestPopularBooksCountsFullHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other := f.addBook(1)
	secondUser := f.addUser()

	// Two loans of the first book (one returned), one of the other.
	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, secondUser, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, f.user, other, due(14))
	require.NoError(t, err)

	popular, err := f.svc.PopularBooks(ctx)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, f.book, popular[0].BookID)
	assert.Equal(t, 2, popular[0].BorrowCount)
	assert.Equal(t, other, popular[1].BookID)
	assert.Equal(t, 1, popular[1].BorrowCount)
}

func TestActiveUsersCountsCurrentBorrows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other := f.addBook(1)

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, f.user, other, due(14))
	require.NoError(t, err)

	active, err := f.svc.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, f.user, active[0].UserID)
	assert.Equal(t, 2, active[0].BooksBorrowed)
	assert.Equal(t, 1, active[0].CurrentBorrows)
}

func TestActiveLoansForBook(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	check, err := f.svc.ActiveLoansForBook(ctx, f.book)
	require.NoError(t, err)
	assert.False(t, check.HasActiveLoans)

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)

	check, err = f.svc.ActiveLoansForBook(ctx, f.book)
	require.NoError(t, err)
	assert.True(t, check.HasActiveLoans)
	assert.Equal(t, 1, check.ActiveLoansCount)

	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	check, err = f.svc.ActiveLoansForBook(ctx, f.book)
	require.NoError(t, err)
	assert.False(t, check.HasActiveLoans)
}

func TestSystemOverview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	overdueBook := f.addBook(1)

	loan, err := f.svc.IssueLoan(ctx, f.user, f.book, due(14))
	require.NoError(t, err)
	_, err = f.svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	_, err = f.svc.IssueLoan(ctx, f.user, overdueBook, due(-1))
	require.NoError(t, err)

	overview, err := f.svc.SystemOverview(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, overview.TotalBooks)
	assert.Equal(t, 1, overview.TotalUsers)
	assert.Equal(t, 2, overview.BooksAvailable)
	assert.Equal(t, 1, overview.BooksBorrowed)
	assert.Equal(t, 1, overview.OverdueLoans)
	assert.Equal(t, 2, overview.LoansToday)
	assert.Equal(t, 1, overview.ReturnsToday)
}
