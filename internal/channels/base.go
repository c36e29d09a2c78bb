// Package channels connects external messaging networks to the bus.
//
// Every adapter implements Channel; the Manager maps channel tags to
// adapters, so the router never switches on channel names.
package channels

import (
	"context"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dayuer/estatedesk/internal/bus"
)

// Channel is the interface that all chat platform integrations must implement.
type Channel interface {
	// Name returns the channel tag (e.g., "telegram", "web").
	Name() string

	// Start connects to the platform and begins listening. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop() error

	// Send delivers a reply to a user of this channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is active.
	IsRunning() bool
}

// BaseChannel provides shared logic for all channel implementations.
type BaseChannel struct {
	ChannelName string
	Bus         *bus.MessageBus
	AllowFrom   []string
	running     atomic.Bool
}

// Name returns the channel tag.
func (b *BaseChannel) Name() string { return b.ChannelName }

// IsRunning returns whether the channel is active.
func (b *BaseChannel) IsRunning() bool { return b.running.Load() }

func (b *BaseChannel) setRunning(v bool) { b.running.Store(v) }

// IsAllowed checks if a sender is permitted to talk to the bot.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range b.AllowFrom {
		if allowed == senderID {
			return true
		}
	}
	// Support pipe-separated sender IDs
	if strings.Contains(senderID, "|") {
		for _, part := range strings.Split(senderID, "|") {
			if part == "" {
				continue
			}
			for _, allowed := range b.AllowFrom {
				if allowed == part {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage checks permissions and publishes a user message to the bus.
// allowID is the identity checked against AllowFrom; it defaults to userID.
// Returns false when the message was dropped.
func (b *BaseChannel) HandleMessage(ctx context.Context, userID, allowID, text string, userInfo map[string]any) bool {
	if allowID == "" {
		allowID = userID
	}
	if !b.IsAllowed(allowID) {
		log.Printf("[%s] Message from %s rejected by allowlist", b.ChannelName, allowID)
		return false
	}
	if userID == "" || strings.TrimSpace(text) == "" {
		return false
	}
	err := b.Bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   b.ChannelName,
		UserID:    userID,
		Text:      text,
		UserInfo:  userInfo,
		Timestamp: time.Now(),
	})
	return err == nil
}

// HandlePost publishes a broadcast post for listing extraction.
func (b *BaseChannel) HandlePost(ctx context.Context, sourceID, text string, edited bool) bool {
	if sourceID == "" || strings.TrimSpace(text) == "" {
		return false
	}
	err := b.Bus.PublishPost(ctx, bus.BroadcastPost{
		Channel:   b.ChannelName,
		SourceID:  sourceID,
		Text:      text,
		Edited:    edited,
		Timestamp: time.Now(),
	})
	return err == nil
}
