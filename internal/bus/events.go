// Package bus carries events from channel adapters to the router.
package bus

import "time"

// InboundMessage is a message a user sent on some channel.
type InboundMessage struct {
	Channel   string         `json:"channel"`
	UserID    string         `json:"userId"`
	Text      string         `json:"text"`
	UserInfo  map[string]any `json:"userInfo,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionKey returns the id of the session this message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + "_" + m.UserID
}

// OutboundMessage is a reply addressed to a user on a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	UserID  string `json:"userId"`
	Text    string `json:"text"`
}

// BroadcastPost is a message published on a broadcast channel that may
// describe a listing. Edited posts replace the listing of the same SourceID.
type BroadcastPost struct {
	Channel   string    `json:"channel"`
	SourceID  string    `json:"sourceId"`
	Text      string    `json:"text"`
	Edited    bool      `json:"edited,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
