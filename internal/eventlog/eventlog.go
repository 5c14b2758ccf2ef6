// internal/eventlog/eventlog.go
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrVersionConflict signals a concurrent writer won the append race.
	ErrVersionConflict = errors.New("version conflict: loan modified concurrently")
)

// Entry is one recorded loan event.
type Entry struct {
	ID        int64           `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log is an append-only journal of loan lifecycle events, with optimistic
// version checking per loan.
type Log struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewLog creates a journal backed by the given database.
func NewLog(db *sql.DB) *Log {
	return &Log{
		db:     db,
		tracer: otel.Tracer("librelend/eventlog"),
	}
}

// Append records an event for the loan, expecting expectedVersion to be the
// loan's current highest version. A version mismatch, whether detected by the
// pre-check or by the unique index under concurrency, returns
// ErrVersionConflict.
func (l *Log) Append(ctx context.Context, loanID uuid.UUID, expectedVersion int, eventType string, data any) error {
	ctx, span := l.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.String("event.type", eventType),
			attribute.Int("expected.version", expectedVersion),
		),
	)
	defer span.End()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM loan_events
		WHERE loan_id = $1
	`, loanID).Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loan_events (loan_id, event_type, event_data, version, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, loanID, eventType, payload, expectedVersion+1, time.Now().UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load returns all events for a loan in version order.
func (l *Log) Load(ctx context.Context, loanID uuid.UUID) ([]Entry, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.load",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, loan_id, event_type, event_data, version, created_at
		FROM loan_events
		WHERE loan_id = $1
		ORDER BY version ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LoanID, &e.EventType, &e.EventData, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}

// CurrentVersion returns the highest recorded version for a loan, zero when
// the loan has no events yet.
func (l *Log) CurrentVersion(ctx context.Context, loanID uuid.UUID) (int, error) {
	var version int
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM loan_events
		WHERE loan_id = $1
	`, loanID).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}
