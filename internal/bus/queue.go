package bus

import "context"

const defaultBuffer = 100

// MessageBus decouples channel adapters from the router with buffered Go
// channels.
type MessageBus struct {
	Inbound chan InboundMessage
	Posts   chan BroadcastPost
}

// NewMessageBus creates a new message bus with buffered channels.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		Inbound: make(chan InboundMessage, defaultBuffer),
		Posts:   make(chan BroadcastPost, defaultBuffer),
	}
}

// PublishInbound queues a user message. Blocks while the buffer is full,
// until ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishPost queues a broadcast post for the listing indexer.
func (b *MessageBus) PublishPost(ctx context.Context, post BroadcastPost) error {
	select {
	case b.Posts <- post:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.Inbound)
}

// PostsSize returns the number of pending broadcast posts.
func (b *MessageBus) PostsSize() int {
	return len(b.Posts)
}
