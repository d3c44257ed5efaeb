// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
//
// The database holds a snapshot of one ledger: Save replaces every table in a
// single transaction and Load reads them back.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot with l.
func (s *SQLiteStore) Save(ctx context.Context, l *ledger.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Splits go first so the cascade has nothing left to do
	for _, table := range []string{"bill_splits", "bills", "categories", "payment_modes", "users", "meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := saveMeta(ctx, tx, l.Meta); err != nil {
		return err
	}
	if err := saveUsers(ctx, tx, l.Users()); err != nil {
		return err
	}
	if err := saveLookups(ctx, tx, l); err != nil {
		return err
	}
	if err := saveBills(ctx, tx, l); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load reads the stored snapshot. An empty database yields an empty ledger.
func (s *SQLiteStore) Load(ctx context.Context) (*ledger.Ledger, error) {
	l := ledger.New()

	meta, err := s.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	l.Meta = meta

	if err := s.loadUsers(ctx, l); err != nil {
		return nil, err
	}
	if err := s.loadLookups(ctx, l); err != nil {
		return nil, err
	}
	if err := s.loadBills(ctx, l); err != nil {
		return nil, err
	}

	return l, nil
}

func saveMeta(ctx context.Context, tx *sql.Tx, meta ledger.Meta) error {
	if meta == (ledger.Meta{}) {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO meta (id, version, created, modified) VALUES (1, ?, ?, ?)",
		meta.Version, formatTime(meta.Created), formatTime(meta.Modified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadMeta(ctx context.Context) (ledger.Meta, error) {
	var version, created, modified string
	err := s.db.QueryRowContext(ctx,
		"SELECT version, created, modified FROM meta WHERE id = 1",
	).Scan(&version, &created, &modified)
	if err == sql.ErrNoRows {
		return ledger.Meta{}, nil
	}
	if err != nil {
		return ledger.Meta{}, fmt.Errorf("failed to get meta: %w", err)
	}

	meta := ledger.Meta{Version: version}
	if meta.Created, err = parseTime(created); err != nil {
		return ledger.Meta{}, fmt.Errorf("failed to parse meta created: %w", err)
	}
	if meta.Modified, err = parseTime(modified); err != nil {
		return ledger.Meta{}, fmt.Errorf("failed to parse meta modified: %w", err)
	}
	return meta, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
