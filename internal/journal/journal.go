// Package journal keeps a local record of every completed call session
// and its upload outcome. The CRM holds the authoritative call history;
// the journal exists so an operator can inspect what the bridge did on
// the device, including calls whose upload never succeeded.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	call_id        TEXT PRIMARY KEY,
	phone_number   TEXT NOT NULL DEFAULT '',
	remote         INTEGER NOT NULL DEFAULT 0,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER NOT NULL,
	duration_secs  REAL NOT NULL DEFAULT 0,
	recording_path TEXT NOT NULL DEFAULT '',
	upload_status  TEXT NOT NULL,
	upload_error   TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);
`

// Entry is one journaled call session. Timestamps are epoch millis.
type Entry struct {
	CallID        string
	PhoneNumber   string
	Remote        bool
	StartedAt     int64
	EndedAt       int64
	Duration      float64
	RecordingPath string
	UploadStatus  string
	UploadError   string
	Attempts      int
}

// Journal wraps a SQLite database holding session outcomes.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path with WAL mode
// enabled.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging journal: %w", err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	slog.Info("journal opened", "path", path)
	return &Journal{db: db}, nil
}

// Record inserts or replaces the entry for its call id. Sessions are
// journaled once at terminal outcome, but a replay of the same call id
// must not fail.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (call_id, phone_number, remote, started_at, ended_at, duration_secs,
		  recording_path, upload_status, upload_error, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CallID, e.PhoneNumber, boolToInt(e.Remote), e.StartedAt, e.EndedAt,
		e.Duration, e.RecordingPath, e.UploadStatus, e.UploadError, e.Attempts,
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", e.CallID, err)
	}
	return nil
}

// Get returns the entry for the given call id, or nil when absent.
func (j *Journal) Get(ctx context.Context, callID string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT call_id, phone_number, remote, started_at, ended_at, duration_secs,
		        recording_path, upload_status, upload_error, attempts
		 FROM sessions WHERE call_id = ?`, callID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", callID, err)
	}
	return e, nil
}

// Recent returns up to limit entries, most recently ended first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT call_id, phone_number, remote, started_at, ended_at, duration_secs,
		        recording_path, upload_status, upload_error, attempts
		 FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var remote int
	err := row.Scan(&e.CallID, &e.PhoneNumber, &remote, &e.StartedAt, &e.EndedAt,
		&e.Duration, &e.RecordingPath, &e.UploadStatus, &e.UploadError, &e.Attempts)
	if err != nil {
		return nil, err
	}
	e.Remote = remote != 0
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
