// Package history persists a transcript of assistant turns in SQLite
// so past queries and results survive restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	source     TEXT NOT NULL,
	query      TEXT NOT NULL,
	category   TEXT NOT NULL,
	response   TEXT NOT NULL,
	success    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_started_at ON turns(started_at);
`

// Turn is one recorded interaction.
type Turn struct {
	ID       string
	At       time.Time
	Source   string
	Query    string
	Category string
	Response string
	Success  bool
}

// Store is a SQLite-backed transcript.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// The driver serializes access per connection; one is enough here.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts a turn. A zero ID gets a fresh UUID; a zero timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, t Turn) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, started_at, source, query, category, response, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.At.Format(time.RFC3339Nano), t.Source, t.Query, t.Category, t.Response, boolToInt(t.Success))
	if err != nil {
		return "", fmt.Errorf("history: record: %w", err)
	}
	return t.ID, nil
}

// Recent returns up to limit turns, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, source, query, category, response, success
		 FROM turns ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var at string
		var success int
		if err := rows.Scan(&t.ID, &at, &t.Source, &t.Query, &t.Category, &t.Response, &success); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		t.Success = success != 0
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
