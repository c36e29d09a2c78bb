package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dayuer/estatedesk/internal/bus"
)

// RunChannelContractTests runs the standard contract tests that ALL channels must pass.
func RunChannelContractTests(t *testing.T, ch Channel) {
	t.Helper()

	t.Run("Contract/Name_NonEmpty", func(t *testing.T) {
		assert.NotEmpty(t, ch.Name(), "Channel.Name() must return non-empty string")
	})
	t.Run("Contract/NotRunningBeforeStart", func(t *testing.T) {
		assert.False(t, ch.IsRunning())
	})
}

func TestChannelContracts(t *testing.T) {
	mb := bus.NewMessageBus()
	for _, ch := range []Channel{
		NewWebChannel(&recordingBroadcaster{}, mb),
		NewWhatsAppChannel("", "", nil, mb),
		NewFacebookChannel("verify", "", nil, mb),
		newTelegramChannel(&fakeBot{}, "", nil, mb),
		newDiscordChannel(nil, mb),
	} {
		t.Run(ch.Name(), func(t *testing.T) { RunChannelContractTests(t, ch) })
	}
}

func TestBaseChannel_IsAllowed_EmptyList(t *testing.T) {
	b := &BaseChannel{AllowFrom: []string{}}
	assert.True(t, b.IsAllowed("anyone"))
}

func TestBaseChannel_IsAllowed_InList(t *testing.T) {
	b := &BaseChannel{AllowFrom: []string{"user1", "user2"}}
	assert.True(t, b.IsAllowed("user1"))
	assert.True(t, b.IsAllowed("user2"))
	assert.False(t, b.IsAllowed("user3"))
}

func TestBaseChannel_IsAllowed_PipeSeparated(t *testing.T) {
	b := &BaseChannel{AllowFrom: []string{"user1"}}
	assert.True(t, b.IsAllowed("user1|extra"))
	assert.False(t, b.IsAllowed("user3|user4"))
}

func TestBaseChannel_HandleMessage_Allowed(t *testing.T) {
	mb := bus.NewMessageBus()
	b := &BaseChannel{ChannelName: "test", Bus: mb}

	assert.True(t, b.HandleMessage(context.Background(), "user1", "", "hello", map[string]any{"name": "U"}))
	assert.Equal(t, 1, mb.InboundSize())

	msg := <-mb.Inbound
	assert.Equal(t, "test", msg.Channel)
	assert.Equal(t, "user1", msg.UserID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "U", msg.UserInfo["name"])
	assert.False(t, msg.Timestamp.IsZero())
}

func TestBaseChannel_HandleMessage_Denied(t *testing.T) {
	mb := bus.NewMessageBus()
	b := &BaseChannel{ChannelName: "test", Bus: mb, AllowFrom: []string{"allowed_user"}}

	assert.False(t, b.HandleMessage(context.Background(), "chat1", "blocked_user", "hello", nil))
	assert.True(t, b.HandleMessage(context.Background(), "chat1", "allowed_user", "hello", nil))
	assert.Equal(t, 1, mb.InboundSize())
}

func TestBaseChannel_HandleMessage_Blank(t *testing.T) {
	mb := bus.NewMessageBus()
	b := &BaseChannel{ChannelName: "test", Bus: mb}
	assert.False(t, b.HandleMessage(context.Background(), "u", "", "   ", nil))
	assert.Equal(t, 0, mb.InboundSize())
}

func TestBaseChannel_HandlePost(t *testing.T) {
	mb := bus.NewMessageBus()
	b := &BaseChannel{ChannelName: "telegram", Bus: mb}

	assert.True(t, b.HandlePost(context.Background(), "-100:5", "villa $1", true))
	assert.False(t, b.HandlePost(context.Background(), "", "villa", false))

	post := <-mb.Posts
	assert.Equal(t, "-100:5", post.SourceID)
	assert.True(t, post.Edited)
	assert.Equal(t, 0, mb.PostsSize())
}
