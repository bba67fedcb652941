// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the relational persistence layer for the
// orchestrator: users, auth sessions, chat sessions, messages, uploaded
// files and their chunks, episodic memories, and agent checkpoints.
//
// All entity operations are package-level functions over small DB
// interfaces (Execer, sqlscan.Querier) so they run equally against the
// root *sql.DB or a transaction.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/001_initial_schema.sql
var initialSchema string

// =============================================================================
// Constants
// =============================================================================

const (
	// migrateMaxAttempts bounds retries when concurrent first use of the
	// database races on schema setup (SQLITE_BUSY under contention).
	migrateMaxAttempts = 3

	// migrateRetryDelay is the base backoff between migration attempts.
	migrateRetryDelay = 100 * time.Millisecond
)

// =============================================================================
// Interface Definitions
// =============================================================================

// Execer is an interface for executing SQL statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ExecQuerier combines both Execer and sqlscan.Querier interfaces
// for operations that need both SELECT and INSERT/UPDATE/DELETE capabilities.
type ExecQuerier interface {
	Execer
	sqlscan.Querier
}

// =============================================================================
// Struct Definition
// =============================================================================

// DB wraps the SQLite handle and owns schema lifecycle.
//
// # Description
//
// DB is opened once at service start via Open and shared across all
// request handlers. SQLite serializes writes internally; the busy
// timeout pragma keeps concurrent writers from failing fast under
// contention.
//
// # Thread Safety
//
// Safe for concurrent use. *sql.DB is a pooled handle and every entity
// operation runs in its own short transaction or single statement.
type DB struct {
	path    string
	db      *sql.DB
	migrate singleflight.Group
}

// =============================================================================
// Constructor
// =============================================================================

// Open opens (creating if needed) the SQLite database at path and applies
// any pending schema migrations.
//
// # Description
//
// The DSN enables foreign keys (cascading deletes depend on it), WAL
// journaling, and a 5 second busy timeout. Migration setup is idempotent
// and safe to race: concurrent callers collapse onto one flight, the
// flight retries on lock contention, and as a last resort falls back to
// a non-transactional statement-by-statement path.
//
// # Inputs
//
//   - path: Filesystem path for the database file, or ":memory:" for tests.
//
// # Outputs
//
//   - *DB: Open handle with schema applied.
//   - error: Non-nil if the database could not be opened or migrated.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		// WAL requires a file; shared cache keeps one in-memory DB per handle pool.
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	store := &DB{path: path, db: db}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// =============================================================================
// Methods
// =============================================================================

// DB returns the underlying sql.DB handle.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// EnsureSchema applies pending migrations. Idempotent and safe to call
// from concurrent goroutines; duplicate callers share a single flight.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err, _ := d.migrate.Do("migrate", func() (interface{}, error) {
		var lastErr error
		for attempt := 1; attempt <= migrateMaxAttempts; attempt++ {
			lastErr = d.runMigrations(ctx)
			if lastErr == nil {
				return nil, nil
			}
			if !isBusyError(lastErr) {
				return nil, lastErr
			}
			slog.Warn("Schema migration hit lock contention, retrying",
				"attempt", attempt, "error", lastErr)
			time.Sleep(migrateRetryDelay * time.Duration(attempt))
		}
		// Contention persisted through every transactional attempt. Apply
		// statements individually outside a transaction; each statement is
		// itself idempotent (IF NOT EXISTS).
		slog.Warn("Falling back to non-transactional schema setup", "error", lastErr)
		if err := d.runMigrationsNoTx(ctx); err != nil {
			return nil, fmt.Errorf("non-transactional schema setup failed: %w", err)
		}
		return nil, nil
	})
	return err
}

// runMigrations applies pending migrations, one transaction each.
func (d *DB) runMigrations(ctx context.Context) error {
	createMigrationsTable := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := d.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := d.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, migration := range allMigrations() {
		if applied[migration.version] {
			continue
		}

		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.version, err)
		}
		slog.Info("Applied schema migration", "version", migration.version)
	}
	return nil
}

// runMigrationsNoTx applies pending migrations statement by statement
// without a wrapping transaction.
func (d *DB) runMigrationsNoTx(ctx context.Context) error {
	applied, err := d.appliedVersions(ctx)
	if err != nil {
		return err
	}
	for _, migration := range allMigrations() {
		if applied[migration.version] {
			continue
		}
		for _, stmt := range splitStatements(migration.sql) {
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement of migration %d: %w", migration.version, err)
			}
		}
		if _, err := d.db.ExecContext(ctx, "INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)", migration.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.version, err)
		}
	}
	return nil
}

func (d *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// =============================================================================
// Helper Functions
// =============================================================================

type migration struct {
	version int
	sql     string
}

func allMigrations() []migration {
	return []migration{
		{1, extractUpMigration(initialSchema)},
	}
}

// extractUpMigration extracts the UP migration from goose format.
func extractUpMigration(content string) string {
	lines := strings.Split(content, "\n")
	var upMigration []string
	inUp := false
	inStatement := false

	for _, line := range lines {
		if strings.Contains(line, "-- +goose Up") {
			inUp = true
			continue
		}
		if strings.Contains(line, "-- +goose Down") {
			break
		}
		if strings.Contains(line, "-- +goose StatementBegin") {
			inStatement = true
			continue
		}
		if strings.Contains(line, "-- +goose StatementEnd") {
			inStatement = false
			continue
		}
		if inUp && inStatement {
			upMigration = append(upMigration, line)
		}
	}
	return strings.Join(upMigration, "\n")
}

// splitStatements splits a migration script on statement terminators for
// the non-transactional fallback path.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isBusyError reports whether err looks like SQLite lock contention.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrTxDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
