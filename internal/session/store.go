// Package session keeps the live conversation state for every (channel, user)
// pair. Each session carries its own lock; the store lock only guards the
// index of sessions.
package session

import (
	"errors"
	"maps"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for operations on a session that does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrBotActive is returned when an operator writes to a session the bot owns.
	ErrBotActive = errors.New("session is not under operator control")
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser     Sender = "user"
	SenderBot      Sender = "bot"
	SenderOperator Sender = "operator"
)

// Message is one entry of a conversation. Messages are never edited.
type Message struct {
	Sender    Sender    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the session id for a channel and external user id.
func Key(channel, userID string) string {
	return channel + "_" + userID
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID             string         `json:"id"`
	Channel        string         `json:"channel"`
	UserID         string         `json:"userId"`
	UserInfo       map[string]any `json:"userInfo,omitempty"`
	OperatorActive bool           `json:"operatorActive"`
	OperatorID     string         `json:"operatorId,omitempty"`
	Messages       []Message      `json:"messages"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivityAt time.Time      `json:"lastActivity"`
}

// LastMessage returns the newest message, if any.
func (s Snapshot) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

type session struct {
	mu             sync.Mutex
	id             string
	channel        string
	userID         string
	userInfo       map[string]any
	operatorActive bool
	operatorID     string
	messages       []Message
	createdAt      time.Time
	lastActivityAt time.Time
}

// snapshot must be called with s.mu held.
func (s *session) snapshot() Snapshot {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:             s.id,
		Channel:        s.channel,
		UserID:         s.userID,
		UserInfo:       maps.Clone(s.userInfo),
		OperatorActive: s.operatorActive,
		OperatorID:     s.operatorID,
		Messages:       msgs,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// Store is the registry of live sessions. Sessions are kept for the life of
// the process.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

func (st *Store) lookup(id string) *session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[id]
}

// GetOrCreate returns the session for (channel, userID), creating it in the
// bot-active state if it does not exist. userInfo is recorded when the
// session has none yet. created reports whether this call made the session.
func (st *Store) GetOrCreate(channel, userID string, userInfo map[string]any) (snap Snapshot, created bool) {
	id := Key(channel, userID)

	s := st.lookup(id)
	if s == nil {
		st.mu.Lock()
		if s = st.sessions[id]; s == nil {
			now := st.now()
			s = &session{
				id:             id,
				channel:        channel,
				userID:         userID,
				createdAt:      now,
				lastActivityAt: now,
			}
			st.sessions[id] = s
			st.order = append(st.order, id)
			created = true
		}
		st.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.userInfo) == 0 && len(userInfo) > 0 {
		s.userInfo = maps.Clone(userInfo)
	}
	return s.snapshot(), created
}

// Get returns a snapshot of the session or ErrNotFound.
func (st *Store) Get(id string) (Snapshot, error) {
	s := st.lookup(id)
	if s == nil {
		return Snapshot{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Append adds a message to the session and reports whether an operator was
// in control at that instant. The check and the append are one atomic step.
func (st *Store) Append(id string, sender Sender, text string) (msg Message, operatorActive bool, err error) {
	s := st.lookup(id)
	if s == nil {
		return Message{}, false, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg = st.appendLocked(s, sender, text)
	return msg, s.operatorActive, nil
}

// AppendOperator adds an operator message, but only while the session is
// under operator control.
func (st *Store) AppendOperator(id, text string) (Message, error) {
	s := st.lookup(id)
	if s == nil {
		return Message{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.operatorActive {
		return Message{}, ErrBotActive
	}
	return st.appendLocked(s, SenderOperator, text), nil
}

func (st *Store) appendLocked(s *session, sender Sender, text string) Message {
	now := st.now()
	// Timestamps never go backwards within a session.
	if n := len(s.messages); n > 0 && now.Before(s.messages[n-1].Timestamp) {
		now = s.messages[n-1].Timestamp
	}
	msg := Message{Sender: sender, Text: text, Timestamp: now}
	s.messages = append(s.messages, msg)
	s.lastActivityAt = now
	return msg
}

// SetOperator switches control of the session. operatorID is kept only while
// active. changed reports whether the state or the owner differed.
func (st *Store) SetOperator(id string, active bool, operatorID string) (changed bool, err error) {
	s := st.lookup(id)
	if s == nil {
		return false, ErrNotFound
	}
	if !active {
		operatorID = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.operatorActive != active || s.operatorID != operatorID
	s.operatorActive = active
	s.operatorID = operatorID
	s.lastActivityAt = st.now()
	return changed, nil
}

// List returns snapshots of all sessions in creation order.
func (st *Store) List() []Snapshot {
	st.mu.RLock()
	ss := make([]*session, 0, len(st.order))
	for _, id := range st.order {
		ss = append(ss, st.sessions[id])
	}
	st.mu.RUnlock()

	out := make([]Snapshot, 0, len(ss))
	for _, s := range ss {
		s.mu.Lock()
		out = append(out, s.snapshot())
		s.mu.Unlock()
	}
	return out
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// OperatedBy returns the ids of the sessions operatorID currently controls.
func (st *Store) OperatedBy(operatorID string) []string {
	var ids []string
	for _, snap := range st.List() {
		if snap.OperatorActive && snap.OperatorID == operatorID {
			ids = append(ids, snap.ID)
		}
	}
	return ids
}
