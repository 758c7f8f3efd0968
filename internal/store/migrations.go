package store

import (
	"fmt"
	"time"
)

const schemaVersion = "1"

var bootstrapDDL = []string{
	`CREATE TABLE IF NOT EXISTS memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT,
		type TEXT,
		intent TEXT,
		extracted TEXT,
		timestamp TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_intent ON memory(intent)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// migrate creates the schema if it doesn't exist and seeds metadata. Safe to
// run on every open, including against databases written by older tools
// that only created the memory table.
func (s *SQLiteStore) migrate() error {
	for _, stmt := range bootstrapDDL {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}
	return s.seedMeta()
}

func (s *SQLiteStore) seedMeta() error {
	seeds := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range seeds {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("seeding meta %s: %w", k, err)
		}
	}
	return nil
}
