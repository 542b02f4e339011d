// Package store provides storage backends for LeadPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists LeadPipe data in a single SQLite file.
type SQLiteStore struct {
	sqlStore
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{sqlStore{db: db, name: "SQLiteStore"}}, nil
}

// ClaimDueProgress selects due rows and leases each with a conditional update.
// SQLite serializes writers, so a row whose update affects nothing was claimed
// by someone else in between and is dropped.
func (s *SQLiteStore) ClaimDueProgress(now time.Time, limit int, leaseUntil time.Time) ([]models.LeadWorkflowProgress, error) {
	now = now.UTC()
	rows, err := s.db.Query(`
		SELECT id FROM lead_workflow_progress
		WHERE `+progressClaimFilter+`
		ORDER BY next_action_at ASC LIMIT ?`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due progress query failed: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim due progress scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due progress iteration failed: %w", err)
	}

	var claimed []models.LeadWorkflowProgress
	for _, id := range ids {
		res, err := s.db.Exec(`
			UPDATE lead_workflow_progress SET claimed_until = ?
			WHERE id = ? AND `+progressClaimFilter, leaseUntil.UTC(), id, now, now)
		if err != nil {
			return claimed, fmt.Errorf("claim progress %s failed: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			slog.Debug("SQLiteStore.ClaimDueProgress: row claimed elsewhere", "progressID", id)
			continue
		}
		p, err := s.GetProgress(id)
		if err != nil {
			return claimed, err
		}
		if p != nil {
			claimed = append(claimed, *p)
		}
	}
	slog.Debug("SQLiteStore.ClaimDueProgress", "candidates", len(ids), "claimed", len(claimed))
	return claimed, nil
}
