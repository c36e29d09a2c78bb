// Package console serves the operator console: a JSON event stream over
// WebSocket that mirrors every conversation and accepts operator commands.
package console

import (
	"encoding/json"
	"time"

	"github.com/dayuer/estatedesk/internal/session"
)

// EventType names a console event.
type EventType string

// Server → console.
const (
	TypeSessionsSnapshot     EventType = "sessionsSnapshot"
	TypeNewMessage           EventType = "newMessage"
	TypeBotMessageSent       EventType = "botMessageSent"
	TypeSessionTakenOver     EventType = "sessionTakenOver"
	TypeSessionReturnedToBot EventType = "sessionReturnedToBot"
	TypeOperatorMessageSent  EventType = "operatorMessageSent"
	TypeWebMessage           EventType = "webMessage"
	TypeDispatchError        EventType = "dispatchError"
	TypeError                EventType = "error"
)

// Console → server.
const (
	TypeIncomingMessage  EventType = "incomingMessage"
	TypeOperatorTakeOver EventType = "operatorTakeOver"
	TypeOperatorMessage  EventType = "operatorMessage"
	TypeReturnToBot      EventType = "returnToBot"
)

// Event is the envelope for every outgoing frame.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Incoming is the envelope for frames sent by a console.
type Incoming struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessageData is the payload of a newMessage event.
type NewMessageData struct {
	SessionID string          `json:"sessionId"`
	Channel   string          `json:"channel"`
	UserID    string          `json:"userId"`
	Message   session.Message `json:"message"`
	UserInfo  map[string]any  `json:"userInfo,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionMessageData carries a message appended to a session.
type SessionMessageData struct {
	SessionID string          `json:"sessionId"`
	Message   session.Message `json:"message"`
}

// HandoffData is the payload of takeover and return events.
type HandoffData struct {
	SessionID  string `json:"sessionId"`
	OperatorID string `json:"operatorId,omitempty"`
}

// WebMessageData is a reply addressed to a web widget user.
type WebMessageData struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// DispatchErrorData reports a reply the channel failed to deliver.
type DispatchErrorData struct {
	SessionID string `json:"sessionId"`
	Channel   string `json:"channel"`
	Error     string `json:"error"`
}

// ErrorData is a protocol-level error sent to one console.
type ErrorData struct {
	Message string `json:"message"`
}

// Console command payloads.

// IncomingMessageRequest injects a message as if a user had sent it.
type IncomingMessageRequest struct {
	Channel  string         `json:"channel"`
	UserID   string         `json:"userId"`
	Message  string         `json:"message"`
	UserInfo map[string]any `json:"userInfo,omitempty"`
}

// SessionRequest addresses a session; used by takeover and return.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// OperatorMessageRequest is an operator reply.
type OperatorMessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// Event constructors.

func SessionsSnapshot(sessions []session.Snapshot) Event {
	return Event{Type: TypeSessionsSnapshot, Data: sessions}
}

func NewMessage(snap session.Snapshot, msg session.Message) Event {
	return Event{Type: TypeNewMessage, Data: NewMessageData{
		SessionID: snap.ID,
		Channel:   snap.Channel,
		UserID:    snap.UserID,
		Message:   msg,
		UserInfo:  snap.UserInfo,
		Timestamp: msg.Timestamp,
	}}
}

func BotMessageSent(sessionID string, msg session.Message) Event {
	return Event{Type: TypeBotMessageSent, Data: SessionMessageData{SessionID: sessionID, Message: msg}}
}

func OperatorMessageSent(sessionID string, msg session.Message) Event {
	return Event{Type: TypeOperatorMessageSent, Data: SessionMessageData{SessionID: sessionID, Message: msg}}
}

func SessionTakenOver(sessionID, operatorID string) Event {
	return Event{Type: TypeSessionTakenOver, Data: HandoffData{SessionID: sessionID, OperatorID: operatorID}}
}

func SessionReturnedToBot(sessionID string) Event {
	return Event{Type: TypeSessionReturnedToBot, Data: HandoffData{SessionID: sessionID}}
}

func WebMessage(userID, text string) Event {
	return Event{Type: TypeWebMessage, Data: WebMessageData{UserID: userID, Message: text}}
}

func DispatchError(sessionID, channel string, err error) Event {
	return Event{Type: TypeDispatchError, Data: DispatchErrorData{SessionID: sessionID, Channel: channel, Error: err.Error()}}
}

func Error(message string) Event {
	return Event{Type: TypeError, Data: ErrorData{Message: message}}
}
