package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS monitor_snapshots (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at TEXT NOT NULL,
	summary  TEXT NOT NULL
)`

// StoredSnapshot is a persisted summary row.
type StoredSnapshot struct {
	ID      int64
	TakenAt time.Time
	Summary Summary
}

// SQLiteSink persists snapshot summaries to a SQLite database. Series are not stored.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path. Use ":memory:" for tests.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createSnapshotsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create monitor_snapshots: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Flush implements Sink.
func (s *SQLiteSink) Flush(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_snapshots (taken_at, summary) VALUES (?, ?)`,
		snap.TakenAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent returns up to limit snapshots, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]StoredSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, taken_at, summary FROM monitor_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var (
			row     StoredSnapshot
			takenAt string
			summary string
		)
		if err := rows.Scan(&row.ID, &takenAt, &summary); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if row.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt); err != nil {
			return nil, fmt.Errorf("parse taken_at: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &row.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
