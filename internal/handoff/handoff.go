// Package handoff switches a session between the bot and a human operator.
package handoff

import (
	"errors"
	"log"

	"github.com/dayuer/estatedesk/internal/console"
	"github.com/dayuer/estatedesk/internal/session"
)

// State is who answers a session.
type State int

const (
	BotActive State = iota
	OperatorActive
)

func (s State) String() string {
	switch s {
	case BotActive:
		return "bot"
	case OperatorActive:
		return "operator"
	default:
		return "unknown"
	}
}

// Broadcaster receives handoff notifications.
type Broadcaster interface {
	Broadcast(ev console.Event)
}

// Machine applies takeover and return transitions. Unknown sessions are a
// logged no-op; callers never see an error, since requests may come from a
// stale console view.
type Machine struct {
	sessions *session.Store
	notify   Broadcaster
}

// New creates a Machine. notify may be nil.
func New(sessions *session.Store, notify Broadcaster) *Machine {
	return &Machine{sessions: sessions, notify: notify}
}

// TakeOver hands the session to operatorID. Calling it again re-assigns the
// operator.
func (m *Machine) TakeOver(sessionID, operatorID string) bool {
	changed, err := m.sessions.SetOperator(sessionID, true, operatorID)
	if err != nil {
		m.logMissing("take over", sessionID, err)
		return false
	}
	if changed {
		log.Printf("[Handoff] Session %s taken over by %s", sessionID, operatorID)
	}
	m.broadcast(console.SessionTakenOver(sessionID, operatorID))
	return true
}

// ReturnToBot gives the session back to the bot.
func (m *Machine) ReturnToBot(sessionID string) bool {
	changed, err := m.sessions.SetOperator(sessionID, false, "")
	if err != nil {
		m.logMissing("return", sessionID, err)
		return false
	}
	if changed {
		log.Printf("[Handoff] Session %s returned to bot", sessionID)
	}
	m.broadcast(console.SessionReturnedToBot(sessionID))
	return true
}

// State reports the current state of a session.
func (m *Machine) State(sessionID string) (State, error) {
	snap, err := m.sessions.Get(sessionID)
	if err != nil {
		return BotActive, err
	}
	if snap.OperatorActive {
		return OperatorActive, nil
	}
	return BotActive, nil
}

// ReleaseOperator is called when a console goes away. Its sessions stay
// under operator control until someone returns them.
func (m *Machine) ReleaseOperator(operatorID string) {
	held := m.sessions.OperatedBy(operatorID)
	if len(held) == 0 {
		return
	}
	log.Printf("[Handoff] ⚠️ Operator %s disconnected while holding %d session(s): %v", operatorID, len(held), held)
}

func (m *Machine) broadcast(ev console.Event) {
	if m.notify != nil {
		m.notify.Broadcast(ev)
	}
}

func (m *Machine) logMissing(action, sessionID string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		log.Printf("[Handoff] Cannot %s %s: session not found", action, sessionID)
		return
	}
	log.Printf("[Handoff] Cannot %s %s: %v", action, sessionID, err)
}
