// Package store provides the SQLite log of classification runs.
//
// Every processed document becomes one row in the "memory" table: where it
// came from, its format tag, the intent label, and the serialized
// extraction. Rows are immutable; they are only ever inserted or deleted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Column bounds, counted in characters.
const (
	MaxSourceLen = 255
	MaxTypeLen   = 50
	MaxIntentLen = 100
)

// ErrNotFound is wrapped by storage errors for missing entries.
var ErrNotFound = errors.New("log entry not found")

// Entry is one persisted classification run.
type Entry struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Intent    string    `json:"intent"`
	Extracted string    `json:"extracted"`
	Timestamp time.Time `json:"timestamp"`
}

// ListOpts filters and bounds List.
type ListOpts struct {
	Intent string // exact match; "" = all intents
	Limit  int    // <= 0 = no limit
}

// Store defines the log operations.
type Store interface {
	Insert(ctx context.Context, e *Entry) (int64, error)
	Get(ctx context.Context, id int64) (*Entry, error)
	List(ctx context.Context, opts ListOpts) ([]*Entry, error)
	DistinctIntents(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewStore opens (creating if needed) the log database and ensures the
// schema exists. Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("opening database: no path configured")
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
