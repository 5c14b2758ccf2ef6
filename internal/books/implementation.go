// internal/books/implementation.go
package books

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// service implements the Service interface.
type service struct {
	db     *sql.DB
	loans  LoanService
	logger *slog.Logger
}

// NewService creates a new books service instance.
func NewService(db *sql.DB, loanService LoanService, logger *slog.Logger) Service {
	return &service{
		db:     db,
		loans:  loanService,
		logger: logger.With("service", "books"),
	}
}

const bookColumns = `id, isbn, title, author, genre, copies, available_copies, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (*Book, error) {
	book := &Book{}
	err := row.Scan(
		&book.ID,
		&book.ISBN,
		&book.Title,
		&book.Author,
		&book.Genre,
		&book.Copies,
		&book.AvailableCopies,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return book, nil
}

// AddBook creates a book with every copy available.
func (s *service) AddBook(ctx context.Context, title, author, isbn, genre string, copies int) (*Book, error) {
	if copies < 0 {
		return nil, ErrInvalidCopies
	}

	now := time.Now().UTC()
	book := &Book{
		ID:              uuid.New(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		Genre:           genre,
		Copies:          copies,
		AvailableCopies: copies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, author, genre, copies, available_copies, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, book.ID, book.ISBN, book.Title, book.Author, book.Genre, book.Copies, book.AvailableCopies, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrBookExists
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE id = $1
	`, id)

	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ListBooks returns all books, or those matching the search term against
// title, author or genre.
func (s *service) ListBooks(ctx context.Context, search string) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY title ASC`
	args := []any{}
	if search != "" {
		query = `
			SELECT ` + bookColumns + `
			FROM books
			WHERE title ILIKE $1 OR author ILIKE $1 OR genre ILIKE $1
			ORDER BY title ASC
		`
		args = append(args, "%"+search+"%")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var result []Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		result = append(result, *book)
	}
	return result, rows.Err()
}

// UpdateBook applies a partial update. Counter changes are validated against
// the ledger invariant before being written.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, params UpdateBookParams) (*Book, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Title != nil {
		book.Title = *params.Title
	}
	if params.Author != nil {
		book.Author = *params.Author
	}
	if params.ISBN != nil {
		book.ISBN = *params.ISBN
	}
	if params.Genre != nil {
		book.Genre = *params.Genre
	}
	if params.Copies != nil {
		book.Copies = *params.Copies
	}
	if params.AvailableCopies != nil {
		book.AvailableCopies = *params.AvailableCopies
	}
	if book.Copies < 0 || book.AvailableCopies < 0 || book.AvailableCopies > book.Copies {
		return nil, ErrInvalidCopies
	}

	book.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE books
		SET isbn = $1, title = $2, author = $3, genre = $4, copies = $5, available_copies = $6, updated_at = $7
		WHERE id = $8
	`, book.ISBN, book.Title, book.Author, book.Genre, book.Copies, book.AvailableCopies, book.UpdatedAt, book.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrBookExists
		}
		return nil, fmt.Errorf("update book: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book unless the loans service reports active loans on
// it. When the loans service is unreachable the deletion is refused rather
// than risking a dangling reference.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetBook(ctx, id); err != nil {
		return err
	}

	check, err := s.loans.ActiveLoansForBook(ctx, id)
	if err != nil {
		return err
	}
	if check.HasActiveLoans {
		return fmt.Errorf("%w: %d outstanding", ErrHasActiveLoans, check.ActiveLoansCount)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// ReserveCopy atomically claims one copy for a loan. The decrement is a
// single conditional UPDATE so two concurrent reservations of the last copy
// cannot both succeed.
func (s *service) ReserveCopy(ctx context.Context, id uuid.UUID) (int, error) {
	var available int
	err := s.db.QueryRowContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = NOW()
		WHERE id = $1 AND available_copies > 0
		RETURNING available_copies
	`, id).Scan(&available)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetBook(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, ErrNoCopiesAvailable
	}
	if err != nil {
		return 0, fmt.Errorf("reserve copy: %w", err)
	}
	return available, nil
}

// ReleaseCopy returns a copy to the shelf. An increment that would exceed the
// total owned copies means a double release upstream; it is refused and
// surfaced as an invariant violation.
func (s *service) ReleaseCopy(ctx context.Context, id uuid.UUID) (int, error) {
	var available int
	err := s.db.QueryRowContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = NOW()
		WHERE id = $1 AND available_copies < copies
		RETURNING available_copies
	`, id).Scan(&available)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetBook(ctx, id); getErr != nil {
			return 0, getErr
		}
		s.logger.Error("release refused: available_copies would exceed copies",
			"book_id", id.String(),
		)
		return 0, ErrInvariantViolation
	}
	if err != nil {
		return 0, fmt.Errorf("release copy: %w", err)
	}
	return available, nil
}

// CountBooks reports the catalog size for the system overview.
func (s *service) CountBooks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return count, nil
}

// TotalAvailableCopies sums availability across the catalog.
func (s *service) TotalAvailableCopies(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(available_copies), 0) FROM books`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum available copies: %w", err)
	}
	return total, nil
}

// PopularBooks fetches the loans popularity aggregate and joins it with local
// titles. Books deleted since the loans were recorded are skipped.
func (s *service) PopularBooks(ctx context.Context) ([]PopularBook, error) {
	activity, err := s.loans.PopularBooks(ctx)
	if err != nil {
		return nil, err
	}
	if len(activity) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(activity))
	for _, a := range activity {
		ids = append(ids, a.BookID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author
		FROM books
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query popular books: %w", err)
	}
	defer rows.Close()

	type bookInfo struct{ title, author string }
	info := make(map[uuid.UUID]bookInfo)
	for rows.Next() {
		var id uuid.UUID
		var title, author string
		if err := rows.Scan(&id, &title, &author); err != nil {
			return nil, fmt.Errorf("scan book info: %w", err)
		}
		info[id] = bookInfo{title: title, author: author}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}

	var result []PopularBook
	for _, a := range activity {
		b, ok := info[a.BookID]
		if !ok {
			continue
		}
		result = append(result, PopularBook{
			BookID:      a.BookID,
			Title:       b.title,
			Author:      b.author,
			BorrowCount: a.BorrowCount,
		})
	}
	return result, nil
}
