// Package store defines the persistence gateway consumed by the session
// registry. Each operation is durable and individually atomic; no
// multi-key transactions are required.
package store

import (
	"context"
	"time"
)

// Entry is one membership record in the pending or active set. Username is
// advisory, kept only for operator-facing notices.
type Entry struct {
	UserID   int64
	Username string
	AddedAt  time.Time
}

// TranscriptMessage is one relayed text message kept for audit.
type TranscriptMessage struct {
	UserID int64
	Role   string // "user" or "operator"
	Text   string
	SentAt time.Time
}

// Store is the durable source of truth for session membership. The
// in-memory registry is rebuilt from it at startup and writes through to it
// before mutating memory.
type Store interface {
	AddPending(ctx context.Context, userID int64, username string) error
	RemovePending(ctx context.Context, userID int64) error
	ListPending(ctx context.Context) ([]Entry, error)

	AddActive(ctx context.Context, userID int64, username string) error
	RemoveActive(ctx context.Context, userID int64) error
	ListActive(ctx context.Context) ([]Entry, error)

	Ban(ctx context.Context, userID int64) error
	Unban(ctx context.Context, userID int64) error
	IsBanned(ctx context.Context, userID int64) (bool, error)
	ListBanned(ctx context.Context) ([]int64, error)

	// SaveTranscript records a relayed text message. Best-effort from the
	// router's point of view; failures must not block the relay.
	SaveTranscript(ctx context.Context, msg TranscriptMessage) error

	Close() error
}
