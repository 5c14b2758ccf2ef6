// internal/loans/implementation.go
package loans

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librelend/internal/eventlog"
)

// service implements the Service interface.
type service struct {
	db     *sql.DB
	events *eventlog.Log
	users  UserDirectory
	books  BookInventory
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a new loans service instance.
func NewService(db *sql.DB, events *eventlog.Log, users UserDirectory, books BookInventory, logger *slog.Logger) Service {
	return &service{
		db:     db,
		events: events,
		users:  users,
		books:  books,
		logger: logger.With("service", "loans"),
		tracer: otel.Tracer("librelend/loans"),
	}
}

// IssueLoan creates a loan after checking the user, the book, and the
// one-active-loan-per-pair rule, in that order. The copy is reserved remotely
// before the loan record is written: a crash between the two strands a
// reserved copy rather than creating a loan without a reservation.
func (s *service) IssueLoan(ctx context.Context, userID, bookID uuid.UUID, dueDate time.Time) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loans.issue",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("book.id", bookID.String()),
		),
	)
	defer span.End()

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.AvailableCopies <= 0 {
		return nil, ErrNoCopiesAvailable
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE user_id = $1 AND book_id = $2 AND status IN ('ACTIVE', 'OVERDUE')
		)
	`, userID, bookID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check existing loan: %w", err)
	}
	if exists {
		return nil, ErrDuplicateLoan
	}

	if _, err := s.books.ReserveCopy(ctx, bookID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	loan := &Loan{
		ID:              uuid.New(),
		UserID:          userID,
		BookID:          bookID,
		IssueDate:       now,
		DueDate:         dueDate,
		OriginalDueDate: dueDate,
		Status:          StatusActive,
		ExtensionsCount: 0,
		Version:         1,
	}

	event := LoanIssuedEvent{LoanID: loan.ID, UserID: userID, BookID: bookID, DueDate: dueDate}
	if err := s.events.Append(ctx, loan.ID, 0, "LoanIssued", event); err != nil {
		s.logReservedCopyStranded(bookID, loan.ID, err)
		return nil, fmt.Errorf("record loan issue: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, book_id, issue_date, due_date, original_due_date, status, extensions_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, loan.ID, loan.UserID, loan.BookID, loan.IssueDate, loan.DueDate, loan.OriginalDueDate, loan.Status, loan.ExtensionsCount, loan.Version)
	if err != nil {
		s.logReservedCopyStranded(bookID, loan.ID, err)
		// The partial unique index closes the check-then-insert race.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateLoan
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	return loan, nil
}

// logReservedCopyStranded flags the accepted inconsistency window of issue:
// a decremented counter with no loan record. It is surfaced for
// reconciliation, never retried.
func (s *service) logReservedCopyStranded(bookID, loanID uuid.UUID, err error) {
	s.logger.Error("reserved copy stranded: loan persistence failed after reservation",
		"book_id", bookID.String(),
		"loan_id", loanID.String(),
		"error", err.Error(),
	)
}

// ReturnLoan marks the loan returned and then releases the copy. The order is
// the reverse of issue: a crash between the two undercounts availability
// instead of ever releasing the same copy twice.
func (s *service) ReturnLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loans.return",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status == StatusReturned {
		return nil, ErrAlreadyReturned
	}

	now := time.Now().UTC()
	event := LoanReturnedEvent{LoanID: loan.ID, BookID: loan.BookID, ReturnDate: now}
	if err := s.events.Append(ctx, loan.ID, loan.Version, "LoanReturned", event); err != nil {
		return nil, fmt.Errorf("record loan return: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE loans
		SET status = 'RETURNED', return_date = $1, version = version + 1
		WHERE id = $2 AND version = $3
	`, now, loan.ID, loan.Version)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}

	loan.Status = StatusReturned
	loan.ReturnDate = &now
	loan.Version++

	if _, err := s.books.ReleaseCopy(ctx, loan.BookID); err != nil {
		s.logger.Error("copy release failed after return: availability undercounted",
			"book_id", loan.BookID.String(),
			"loan_id", loan.ID.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	return loan, nil
}

// ExtendLoan pushes the due date out by extensionDays. Only loans whose
// derived status is ACTIVE qualify; an overdue loan must be returned, not
// extended.
func (s *service) ExtendLoan(ctx context.Context, loanID uuid.UUID, extensionDays int) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loans.extend",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.Int("extension.days", extensionDays),
		),
	)
	defer span.End()

	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.StatusAt(time.Now().UTC()) != StatusActive {
		return nil, ErrNotActive
	}
	if loan.ExtensionsCount >= MaxExtensions {
		return nil, ErrMaxExtensionsReached
	}

	newDueDate := loan.DueDate.AddDate(0, 0, extensionDays)
	event := LoanExtendedEvent{LoanID: loan.ID, NewDueDate: newDueDate, Extensions: loan.ExtensionsCount + 1}
	if err := s.events.Append(ctx, loan.ID, loan.Version, "LoanExtended", event); err != nil {
		return nil, fmt.Errorf("record loan extension: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE loans
		SET due_date = $1, extensions_count = extensions_count + 1, version = version + 1
		WHERE id = $2 AND version = $3
	`, newDueDate, loan.ID, loan.Version)
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}

	loan.DueDate = newDueDate
	loan.ExtensionsCount++
	loan.Version++
	return loan, nil
}

const loanColumns = `id, user_id, book_id, issue_date, due_date, original_due_date, return_date, status, extensions_count, version`

func (s *service) getLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE id = $1
	`, loanID)

	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*Loan, error) {
	loan := &Loan{}
	var returnDate sql.NullTime
	err := row.Scan(
		&loan.ID,
		&loan.UserID,
		&loan.BookID,
		&loan.IssueDate,
		&loan.DueDate,
		&loan.OriginalDueDate,
		&returnDate,
		&loan.Status,
		&loan.ExtensionsCount,
		&loan.Version,
	)
	if err != nil {
		return nil, err
	}
	if returnDate.Valid {
		loan.ReturnDate = &returnDate.Time
	}
	return loan, nil
}

// LoansByUser returns a user's full loan history, newest first. Statuses are
// derived against the current time before being returned.
func (s *service) LoansByUser(ctx context.Context, userID uuid.UUID) ([]Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE user_id = $1
		ORDER BY issue_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query loans by user: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var result []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loan.Status = loan.StatusAt(now)
		result = append(result, *loan)
	}
	return result, rows.Err()
}

// OverdueLoans lists every active-set loan whose due date has passed.
func (s *service) OverdueLoans(ctx context.Context) ([]OverdueLoan, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans
		WHERE status IN ('ACTIVE', 'OVERDUE') AND due_date < $1
		ORDER BY due_date ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query overdue loans: %w", err)
	}
	defer rows.Close()

	var result []OverdueLoan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		loan.Status = StatusOverdue
		result = append(result, OverdueLoan{
			Loan:        *loan,
			DaysOverdue: int(now.Sub(loan.DueDate).Hours() / 24),
		})
	}
	return result, rows.Err()
}

// PopularBooks groups the full loan history by book. Equal counts order by
// book id so the report is deterministic.
func (s *service) PopularBooks(ctx context.Context) ([]BookActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, COUNT(*) AS borrow_count
		FROM loans
		GROUP BY book_id
		ORDER BY borrow_count DESC, book_id ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("query popular books: %w", err)
	}
	defer rows.Close()

	var result []BookActivity
	for rows.Next() {
		var a BookActivity
		if err := rows.Scan(&a.BookID, &a.BorrowCount); err != nil {
			return nil, fmt.Errorf("scan book activity: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ActiveUsers groups the loan history by user, counting total and currently
// held borrows. Same deterministic tie-break as PopularBooks.
func (s *service) ActiveUsers(ctx context.Context) ([]UserActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id,
		       COUNT(*) AS books_borrowed,
		       COUNT(*) FILTER (WHERE status IN ('ACTIVE', 'OVERDUE')) AS current_borrows
		FROM loans
		GROUP BY user_id
		ORDER BY books_borrowed DESC, user_id ASC
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var result []UserActivity
	for rows.Next() {
		var a UserActivity
		if err := rows.Scan(&a.UserID, &a.BooksBorrowed, &a.CurrentBorrows); err != nil {
			return nil, fmt.Errorf("scan user activity: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ActiveLoansForBook tells the books service whether a deletion must be
// refused.
func (s *service) ActiveLoansForBook(ctx context.Context, bookID uuid.UUID) (*ActiveLoanCheck, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM loans
		WHERE book_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
	`, bookID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count active loans: %w", err)
	}
	return &ActiveLoanCheck{
		BookID:           bookID,
		HasActiveLoans:   count > 0,
		ActiveLoansCount: count,
	}, nil
}

// SystemOverview combines local loan aggregates with remote user and book
// counts. The report is all-or-nothing: any failed remote lookup fails the
// whole call rather than returning partial numbers.
func (s *service) SystemOverview(ctx context.Context) (*Overview, error) {
	ctx, span := s.tracer.Start(ctx, "loans.overview")
	defer span.End()

	totalBooks, err := s.books.CountBooks(ctx)
	if err != nil {
		return nil, err
	}
	totalUsers, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	available, err := s.books.TotalAvailableCopies(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	overview := &Overview{
		TotalBooks:     totalBooks,
		TotalUsers:     totalUsers,
		BooksAvailable: available,
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('ACTIVE', 'OVERDUE')),
			COUNT(*) FILTER (WHERE status IN ('ACTIVE', 'OVERDUE') AND due_date < $1),
			COUNT(*) FILTER (WHERE issue_date >= $2),
			COUNT(*) FILTER (WHERE return_date >= $2)
		FROM loans
	`, now, todayStart).Scan(
		&overview.BooksBorrowed,
		&overview.OverdueLoans,
		&overview.LoansToday,
		&overview.ReturnsToday,
	)
	if err != nil {
		return nil, fmt.Errorf("query overview aggregates: %w", err)
	}

	return overview, nil
}
