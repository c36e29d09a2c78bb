package channels

import (
	"context"

	"github.com/dayuer/estatedesk/internal/bus"
	"github.com/dayuer/estatedesk/internal/console"
)

// Broadcaster pushes events to connected consoles and web widgets.
type Broadcaster interface {
	Broadcast(ev console.Event)
}

// WebChannel is the site chat widget. Users arrive through console
// injection; replies go out as webMessage events on the console stream.
type WebChannel struct {
	BaseChannel
	notify Broadcaster
}

// NewWebChannel creates a WebChannel.
func NewWebChannel(notify Broadcaster, msgBus *bus.MessageBus) *WebChannel {
	return &WebChannel{
		BaseChannel: BaseChannel{ChannelName: "web", Bus: msgBus},
		notify:      notify,
	}
}

// Start marks the channel running until ctx is cancelled.
func (w *WebChannel) Start(ctx context.Context) error {
	w.setRunning(true)
	<-ctx.Done()
	w.setRunning(false)
	return nil
}

// Stop marks the channel stopped.
func (w *WebChannel) Stop() error {
	w.setRunning(false)
	return nil
}

// Send broadcasts the reply; the widget picks out its own user id.
func (w *WebChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	w.notify.Broadcast(console.WebMessage(msg.UserID, msg.Text))
	return nil
}
