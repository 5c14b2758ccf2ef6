// internal/testdb/testdb.go
package testdb

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// DDL fragments mirroring migrations/001_init.sql, split per table so each
// package creates only what it touches.
const (
	SchemaUsers = `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`

	SchemaCredentials = `
		CREATE TABLE IF NOT EXISTS credentials (
			user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			password_hash TEXT NOT NULL,
			salt TEXT NOT NULL
		)`

	SchemaBooks = `
		CREATE TABLE IF NOT EXISTS books (
			id UUID PRIMARY KEY,
			isbn TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			genre TEXT NOT NULL,
			copies INT NOT NULL CHECK (copies >= 0),
			available_copies INT NOT NULL CHECK (available_copies >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (available_copies <= copies)
		)`

	SchemaLoans = `
		CREATE TABLE IF NOT EXISTS loans (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			book_id UUID NOT NULL,
			issue_date TIMESTAMPTZ NOT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			original_due_date TIMESTAMPTZ NOT NULL,
			return_date TIMESTAMPTZ,
			status TEXT NOT NULL,
			extensions_count INT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 1
		)`

	SchemaLoansActiveIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_pair
		ON loans (user_id, book_id)
		WHERE status IN ('ACTIVE', 'OVERDUE')`

	SchemaLoanEvents = `
		CREATE TABLE IF NOT EXISTS loan_events (
			id BIGSERIAL PRIMARY KEY,
			loan_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSONB NOT NULL,
			version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (loan_id, version)
		)`
)

func connString(extra string) string {
	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable %s",
		pgHost, pgPort, pgUser, pgPassword, pgDB, extra)
}

// Setup connects to the test PostgreSQL instance, recreates the named schema
// and applies the given DDL inside it. The test is skipped when no database
// is reachable. Each package uses its own schema so test binaries running in
// parallel do not see each other's rows.
func Setup(t testing.TB, schema string, ddl ...string) *sql.DB {
	t.Helper()

	admin, err := sql.Open("postgres", connString(""))
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := admin.Ping(); err != nil {
		admin.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	if _, err := admin.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		t.Fatalf("failed to drop schema: %v", err)
	}
	if _, err := admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	admin.Close()

	db, err := sql.Open("postgres", connString("search_path="+schema))
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			t.Fatalf("failed to create schema objects: %v", err)
		}
	}

	t.Cleanup(func() { db.Close() })
	return db
}
