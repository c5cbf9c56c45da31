package database

import (
	"context"
	"time"
)

const SessionCollectionName = "sessions"

// SessionRecord is the journal entry of one broker session. Only the
// lifecycle is recorded, never messages or subscriptions.
type SessionRecord struct {
	SessionID   string     `bson:"session_id"`
	ClientID    string     `bson:"client_id"`
	RemoteAddr  string     `bson:"remote_addr"`
	ConnectedAt time.Time  `bson:"connected_at"`
	ClosedAt    *time.Time `bson:"closed_at,omitempty"`
	CloseReason string     `bson:"close_reason,omitempty"`
}

// SessionWriter persists session records.
type SessionWriter interface {
	SaveSession(ctx context.Context, record *SessionRecord) error
}

// SessionReader looks session records up.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListRecent(ctx context.Context, limit int64) ([]*SessionRecord, error)
}
