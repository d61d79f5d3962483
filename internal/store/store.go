// Package store provides the persistent turn audit log. Live session state
// stays in connection memory; the store is an append-only record of
// completed turns served by the diagnostics API.
package store

import (
	"context"
	"time"
)

// SessionRecord summarizes one WebSocket session.
type SessionRecord struct {
	ThreadID   string    `json:"thread_id"`
	CallerID   string    `json:"caller_id"`
	StartedAt  time.Time `json:"started_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Turns      int       `json:"turns"`
}

// TurnRecord is the audit entry for one processed turn. Failed turns are
// recorded with Error set and an empty reply.
type TurnRecord struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	Seq        int               `json:"seq"`
	UserText   string            `json:"user_text"`
	Target     string            `json:"target,omitempty"`
	Reply      string            `json:"reply,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
	Suspension string            `json:"suspension,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Repository defines the interface for persisting session and turn records.
type Repository interface {
	// UpsertSession creates or refreshes a session summary row.
	UpsertSession(ctx context.Context, rec *SessionRecord) error

	// RecordTurn appends one turn audit entry.
	RecordTurn(ctx context.Context, rec *TurnRecord) error

	// GetSession retrieves one session summary, or nil if unknown.
	GetSession(ctx context.Context, threadID string) (*SessionRecord, error)

	// ListRecentSessions returns session summaries ordered by recency.
	ListRecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// ListTurns returns a session's turns in sequence order.
	ListTurns(ctx context.Context, threadID string) ([]*TurnRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
