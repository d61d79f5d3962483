package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avoliek/slicetalk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		thread_id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		turns INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		user_text TEXT NOT NULL,
		target TEXT,
		reply TEXT,
		slots_json TEXT,
		suspension TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(thread_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertSession creates or refreshes a session summary row.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *SessionRecord) error {
	query := `
	INSERT INTO sessions (thread_id, caller_id, started_at, last_seen_at, turns)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		turns = excluded.turns`

	_, err := s.db.ExecContext(ctx, query,
		rec.ThreadID, rec.CallerID,
		rec.StartedAt.Unix(), rec.LastSeenAt.Unix(), rec.Turns,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// RecordTurn appends one turn audit entry. SQLITE_BUSY conflicts are retried
// with exponential backoff so a busy checkpoint never loses an audit row.
func (s *SQLiteStore) RecordTurn(ctx context.Context, rec *TurnRecord) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.recordTurnOnce(ctx, rec)
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("RecordTurn hit SQLITE_BUSY, retrying",
				"thread_id", rec.ThreadID, "seq", rec.Seq, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	return fmt.Errorf("record turn for %s/%d: %w", rec.ThreadID, rec.Seq, err)
}

func (s *SQLiteStore) recordTurnOnce(ctx context.Context, rec *TurnRecord) error {
	var slotsJSON interface{}
	if len(rec.Slots) > 0 {
		data, err := json.Marshal(rec.Slots)
		if err != nil {
			return fmt.Errorf("marshal slots: %w", err)
		}
		slotsJSON = string(data)
	}

	query := `
	INSERT INTO turns (id, thread_id, seq, user_text, target, reply, slots_json, suspension, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ThreadID, rec.Seq, rec.UserText,
		nullable(rec.Target), nullable(rec.Reply), slotsJSON,
		nullable(rec.Suspension), nullable(rec.Error),
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// GetSession retrieves one session summary.
func (s *SQLiteStore) GetSession(ctx context.Context, threadID string) (*SessionRecord, error) {
	query := `
		SELECT thread_id, caller_id, started_at, last_seen_at, turns
		FROM sessions WHERE thread_id = ?`

	row := s.db.QueryRowContext(ctx, query, threadID)

	rec, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListRecentSessions returns session summaries ordered by recency.
func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT thread_id, caller_id, started_at, last_seen_at, turns
		FROM sessions ORDER BY last_seen_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer closeRows(rows, "recent sessions")

	var recs []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return recs, nil
}

// ListTurns returns a session's turns in sequence order.
func (s *SQLiteStore) ListTurns(ctx context.Context, threadID string) ([]*TurnRecord, error) {
	query := `
		SELECT id, thread_id, seq, user_text, target, reply, slots_json, suspension, error, created_at
		FROM turns WHERE thread_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer closeRows(rows, "turns")

	var recs []*TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var target, reply, slotsJSON, suspension, errText sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.ThreadID, &rec.Seq, &rec.UserText,
			&target, &reply, &slotsJSON, &suspension, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		rec.Target = target.String
		rec.Reply = reply.String
		rec.Suspension = suspension.String
		rec.Error = errText.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		if slotsJSON.Valid && slotsJSON.String != "" {
			if err := json.Unmarshal([]byte(slotsJSON.String), &rec.Slots); err != nil {
				return nil, fmt.Errorf("unmarshal slots for turn %s: %w", rec.ID, err)
			}
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return recs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func scanSession(scan func(dest ...any) error) (*SessionRecord, error) {
	var rec SessionRecord
	var startedAt, lastSeen int64
	if err := scan(&rec.ThreadID, &rec.CallerID, &startedAt, &lastSeen, &rec.Turns); err != nil {
		return nil, err
	}
	rec.StartedAt = time.Unix(startedAt, 0)
	rec.LastSeenAt = time.Unix(lastSeen, 0)
	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
