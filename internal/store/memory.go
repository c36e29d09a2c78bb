package store

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
)

// MemoryRepository keeps everything in process memory. Used when no database
// path is configured, and in tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	messages []StoredMessage
	listings map[string]listing.Listing
	nextMsg  int64
	nextList int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]SessionRecord),
		listings: make(map[string]listing.Listing),
	}
}

// SaveSession implements Repository.
func (r *MemoryRepository) SaveSession(_ context.Context, rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[rec.ID]; ok {
		if len(rec.UserInfo) == 0 {
			rec.UserInfo = old.UserInfo
		}
		rec.CreatedAt = old.CreatedAt
	}
	rec.UserInfo = maps.Clone(rec.UserInfo)
	r.sessions[rec.ID] = rec
	return nil
}

// SaveMessage implements Repository.
func (r *MemoryRepository) SaveMessage(_ context.Context, sessionID string, msg session.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsg++
	r.messages = append(r.messages, StoredMessage{
		ID:        r.nextMsg,
		SessionID: sessionID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	})
	return r.nextMsg, nil
}

// SaveListing implements Repository.
func (r *MemoryRepository) SaveListing(_ context.Context, l listing.Listing) (int64, error) {
	if l.SourceMessageID == "" {
		return 0, persistErr("save listing", errors.New("empty source message id"))
	}
	if l.PropertyType == "" {
		l.PropertyType = listing.TypeUnknown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.listings[l.SourceMessageID]; ok {
		l.ID = old.ID
	} else {
		r.nextList++
		l.ID = r.nextList
	}
	r.listings[l.SourceMessageID] = l
	return l.ID, nil
}

// QueryListings implements Repository.
func (r *MemoryRepository) QueryListings(_ context.Context, f listing.Filter) ([]listing.Listing, error) {
	r.mu.RLock()
	var out []listing.Listing
	for _, l := range r.listings {
		if f.Matches(l) {
			out = append(out, l)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ParsedAt.Equal(out[j].ParsedAt) {
			return out[i].ParsedAt.After(out[j].ParsedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > PageSize {
		out = out[:PageSize]
	}
	return out, nil
}

// SessionMessages implements Repository.
func (r *MemoryRepository) SessionMessages(_ context.Context, sessionID string) ([]StoredMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []StoredMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Stats implements Repository.
func (r *MemoryRepository) Stats(context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Sessions: len(r.sessions), Messages: len(r.messages), Listings: len(r.listings)}, nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error { return nil }
