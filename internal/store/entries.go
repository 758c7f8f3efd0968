package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/docrouter/internal/apperr"
	"github.com/hurttlocker/docrouter/internal/textutil"
)

// legacyTimestampLayout matches naive ISO-8601 timestamps written without a
// zone; they are read as UTC.
const legacyTimestampLayout = "2006-01-02T15:04:05.999999999"

// Insert validates, truncates and writes e, returning the new row id. A
// zero Timestamp is set to the current time. e is updated in place.
func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) (int64, error) {
	if e == nil {
		return 0, apperr.Validation("insert", "entry is nil", nil)
	}
	if strings.TrimSpace(e.Source) == "" {
		return 0, apperr.Validation("insert", "source is required", nil)
	}
	if strings.TrimSpace(e.Type) == "" {
		return 0, apperr.Validation("insert", "type is required", nil)
	}

	e.Source = textutil.Truncate(e.Source, MaxSourceLen)
	e.Type = textutil.Truncate(e.Type, MaxTypeLen)
	e.Intent = textutil.Truncate(e.Intent, MaxIntentLen)
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (source, type, intent, extracted, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.Source, e.Type, e.Intent, e.Extracted, e.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, apperr.Storage("insert", "writing log entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Storage("insert", "reading new id", err)
	}
	e.ID = id
	return id, nil
}

// Get returns one entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, type, intent, extracted, timestamp FROM memory WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Storage("get", fmt.Sprintf("entry %d", id), ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Storage("get", fmt.Sprintf("entry %d", id), err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	query := `SELECT id, source, type, intent, extracted, timestamp FROM memory`
	var args []any
	if opts.Intent != "" {
		query += ` WHERE intent = ?`
		args = append(args, opts.Intent)
	}
	query += ` ORDER BY id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list", "querying log", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Storage("list", "scanning row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list", "iterating rows", err)
	}
	return out, nil
}

// DistinctIntents returns the intents present in the log, sorted.
func (s *SQLiteStore) DistinctIntents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT intent FROM memory WHERE intent IS NOT NULL ORDER BY intent`)
	if err != nil {
		return nil, apperr.Storage("distinct intents", "querying log", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var intent string
		if err := rows.Scan(&intent); err != nil {
			return nil, apperr.Storage("distinct intents", "scanning row", err)
		}
		out = append(out, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("distinct intents", "iterating rows", err)
	}
	return out, nil
}

// Delete removes exactly one entry.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete", fmt.Sprintf("entry %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("delete", fmt.Sprintf("entry %d", id), err)
	}
	if n == 0 {
		return apperr.Storage("delete", fmt.Sprintf("entry %d", id), ErrNotFound)
	}
	return nil
}

// DeleteAll empties the log and returns how many rows were removed.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory`)
	if err != nil {
		return 0, apperr.Storage("delete all", "clearing log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage("delete all", "counting removed rows", err)
	}
	return n, nil
}

// Count returns the number of entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory`).Scan(&n); err != nil {
		return 0, apperr.Storage("count", "counting log entries", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e                                  Entry
		source, typ, intent, extracted, ts sql.NullString
	)
	if err := r.Scan(&e.ID, &source, &typ, &intent, &extracted, &ts); err != nil {
		return nil, err
	}
	e.Source = source.String
	e.Type = typ.String
	e.Intent = intent.String
	e.Extracted = extracted.String
	e.Timestamp = parseTimestamp(ts.String)
	return &e, nil
}

// parseTimestamp accepts RFC 3339 and naive ISO-8601; anything else is the
// zero time.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(legacyTimestampLayout, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
