package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		role       TEXT NOT NULL,
		peer       TEXT NOT NULL DEFAULT '',
		host_name  TEXT NOT NULL DEFAULT '',
		host_os    TEXT NOT NULL DEFAULT '',
		screen     TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		reason     TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		frames     INTEGER NOT NULL DEFAULT 0,
		bytes      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		time       TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_session ON session_events (session_id, id)`,
}

// timeFormat keeps sub-second ordering for short sessions.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Sessions ---

const sessionColumns = `id, role, peer, host_name, host_os, screen, started_at, ended_at, reason, error, frames, bytes`

func (s *SQLiteStore) CreateSession(ctx context.Context, r *SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, role, peer, host_name, host_os, screen, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Role, r.Peer, r.HostName, r.HostOS, r.Screen, r.StartedAt.UTC().Format(timeFormat))
	return err
}

func (s *SQLiteStore) EndSession(ctx context.Context, id string, end *SessionEnd) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ?, error = ?, frames = ?, bytes = ? WHERE id = ?`,
		end.EndedAt.UTC().Format(timeFormat), end.Reason, end.Error, end.Frames, end.Bytes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	r, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListSessions returns the most recent sessions first. A limit of zero or
// less returns all of them.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var sessions []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var r SessionRecord
	var started string
	var ended sql.NullString
	if err := row.Scan(&r.ID, &r.Role, &r.Peer, &r.HostName, &r.HostOS, &r.Screen,
		&started, &ended, &r.Reason, &r.Error, &r.Frames, &r.Bytes); err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(timeFormat, started)
	if ended.Valid {
		t, _ := time.Parse(timeFormat, ended.String)
		r.EndedAt = &t
	}
	return &r, nil
}

// --- Events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *EventRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, kind, time, reason, error) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Kind, e.Time.UTC().Format(timeFormat), e.Reason, e.Error)
	if err != nil {
		return err
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, time, reason, error FROM session_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var events []*EventRecord
	for rows.Next() {
		var e EventRecord
		var t string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &t, &e.Reason, &e.Error); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(timeFormat, t)
		events = append(events, &e)
	}
	return events, rows.Err()
}
