// Package store persists the session journal. All implementations satisfy
// the Store interface so the host can swap backends without touching the
// session code.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for the session journal.
// Implementations must be safe for concurrent use.
type Store interface {
	// Sessions.
	CreateSession(ctx context.Context, s *SessionRecord) error
	EndSession(ctx context.Context, id string, end *SessionEnd) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// Events.
	AppendEvent(ctx context.Context, e *EventRecord) error
	ListEvents(ctx context.Context, sessionID string) ([]*EventRecord, error)

	// Close releases database resources.
	Close() error
}

// SessionRecord is the persistent record of one connection.
type SessionRecord struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Peer      string     `json:"peer"`
	HostName  string     `json:"host_name"`
	HostOS    string     `json:"host_os"`
	Screen    string     `json:"screen"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
	Frames    int64      `json:"frames"`
	Bytes     int64      `json:"bytes"`
}

// SessionEnd carries the fields written when a session closes.
type SessionEnd struct {
	EndedAt time.Time
	Reason  string
	Error   string
	Frames  int64
	Bytes   int64
}

// EventRecord is a journalled session event.
type EventRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Time      time.Time `json:"time"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}
