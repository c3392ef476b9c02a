// Package sqlitestore is the embedded single-node backend. It implements the
// same storage contracts as the PostgreSQL repositories and is used for local
// runs and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stemsi/exstem-gate/internal/repository"
)

// Store wraps a single-connection SQLite database. SQLite allows one writer at
// a time, so the pool is pinned to one connection and transactions take the
// write lock up front (_txlock=immediate).
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS learners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		contact_number TEXT NOT NULL,
		name_key TEXT NOT NULL,
		contact_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		UNIQUE (name_key, contact_key)
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		items TEXT NOT NULL DEFAULT '[]',
		total_score REAL NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS access_grants (
		assessment_id TEXT NOT NULL,
		learner_id INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (assessment_id, learner_id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		learner_id INTEGER NOT NULL,
		token_hash TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		submitted_at DATETIME,
		completed INTEGER NOT NULL DEFAULT 0,
		duration_seconds REAL,
		superseded_at DATETIME,
		superseded_by TEXT,
		client_meta TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_exam_sessions_token_hash ON exam_sessions (token_hash);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_exam_sessions_completed_pair
		ON exam_sessions (assessment_id, learner_id) WHERE completed = 1;
	CREATE INDEX IF NOT EXISTS ix_exam_sessions_pair ON exam_sessions (assessment_id, learner_id);

	CREATE TABLE IF NOT EXISTS submission_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES exam_sessions (id),
		assessment_id TEXT NOT NULL,
		learner_id INTEGER NOT NULL,
		answers TEXT NOT NULL,
		submitted_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_submission_records_session ON submission_records (session_id);

	CREATE TABLE IF NOT EXISTS session_audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL,
		learner_id INTEGER NOT NULL,
		client_meta TEXT,
		occurred_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and, when
// SQLite names them, which columns were involved.
func uniqueViolation(err error) (string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return "", false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE &&
		!(se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")) {
		return "", false
	}
	return se.Error(), true
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
