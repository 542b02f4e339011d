// Package store provides storage backends for LeadPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists LeadPipe data in PostgreSQL.
type PostgresStore struct {
	sqlStore
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return newPostgresStoreWithDB(db), nil
}

func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, name: "PostgresStore", postgres: true}}
}

// ClaimDueProgress leases due rows in one statement. SKIP LOCKED keeps
// concurrent passes from blocking on, or double-claiming, the same rows.
func (s *PostgresStore) ClaimDueProgress(now time.Time, limit int, leaseUntil time.Time) ([]models.LeadWorkflowProgress, error) {
	now = now.UTC()
	rows, err := s.db.Query(`
		UPDATE lead_workflow_progress SET claimed_until = $1
		WHERE id IN (
			SELECT id FROM lead_workflow_progress
			WHERE status = 'active' AND next_action_at IS NOT NULL AND next_action_at <= $2
				AND (claimed_until IS NULL OR claimed_until <= $2)
			ORDER BY next_action_at ASC LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+progressColumns,
		leaseUntil.UTC(), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due progress failed: %w", err)
	}
	claimed, err := scanProgressRows(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].NextActionAt.Before(*claimed[j].NextActionAt)
	})
	slog.Debug("PostgresStore.ClaimDueProgress", "claimed", len(claimed))
	return claimed, nil
}
