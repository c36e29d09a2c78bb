// Package store persists sessions, messages and listings.
//
// Writes from the live conversation path are best-effort: callers log a
// PersistenceError and carry on.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
)

// PageSize bounds every listing query.
const PageSize = 20

// SessionRecord is the durable part of a session.
type SessionRecord struct {
	ID             string         `json:"id"`
	Channel        string         `json:"channel"`
	UserID         string         `json:"userId"`
	UserInfo       map[string]any `json:"userInfo,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivityAt time.Time      `json:"lastActivity"`
}

// RecordFromSnapshot builds a SessionRecord from a live session.
func RecordFromSnapshot(snap session.Snapshot) SessionRecord {
	return SessionRecord{
		ID:             snap.ID,
		Channel:        snap.Channel,
		UserID:         snap.UserID,
		UserInfo:       snap.UserInfo,
		CreatedAt:      snap.CreatedAt,
		LastActivityAt: snap.LastActivityAt,
	}
}

// StoredMessage is a persisted conversation message.
type StoredMessage struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"sessionId"`
	Sender    session.Sender `json:"from"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats counts persisted rows.
type Stats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
	Listings int `json:"listings"`
}

// Repository is the persistence collaborator.
type Repository interface {
	// SaveSession inserts the session or refreshes its user info and activity.
	SaveSession(ctx context.Context, rec SessionRecord) error
	// SaveMessage appends a message and returns its id.
	SaveMessage(ctx context.Context, sessionID string, msg session.Message) (int64, error)
	// SaveListing upserts by SourceMessageID; an existing listing keeps its id.
	SaveListing(ctx context.Context, l listing.Listing) (int64, error)
	// QueryListings returns at most PageSize matches, newest first.
	QueryListings(ctx context.Context, f listing.Filter) ([]listing.Listing, error)
	// SessionMessages returns a session's messages in the order they were saved.
	SessionMessages(ctx context.Context, sessionID string) ([]StoredMessage, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// PersistenceError reports a failed storage operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
