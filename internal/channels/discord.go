package channels

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dayuer/estatedesk/internal/bus"
)

const discordSendTimeout = 10 * time.Second

// DiscordChannel answers messages the bot can read. A session is keyed by
// the author id; replies go to the channel the author last wrote from, or a
// fresh DM channel.
type DiscordChannel struct {
	BaseChannel
	session *discordgo.Session

	mu       sync.Mutex
	channels map[string]string // author id -> channel id
	botID    string
}

// NewDiscordChannel creates a DiscordChannel.
func NewDiscordChannel(token string, allowFrom []string, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token not configured")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	d := newDiscordChannel(allowFrom, msgBus)
	d.session = session
	return d, nil
}

func newDiscordChannel(allowFrom []string, msgBus *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: BaseChannel{
			ChannelName: "discord",
			Bus:         msgBus,
			AllowFrom:   allowFrom,
		},
		channels: make(map[string]string),
	}
}

// Start opens the gateway connection and holds it until ctx is cancelled.
func (d *DiscordChannel) Start(ctx context.Context) error {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.processMessage(ctx, m)
	})
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	d.setRunning(true)

	if s := d.session.State; s != nil && s.User != nil {
		d.mu.Lock()
		d.botID = s.User.ID
		d.mu.Unlock()
		log.Printf("[Discord] ✅ Bot %s connected", s.User.Username)
	}

	<-ctx.Done()
	return d.Stop()
}

// Stop closes the gateway connection.
func (d *DiscordChannel) Stop() error {
	if !d.IsRunning() {
		return nil
	}
	d.setRunning(false)
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// Send posts the reply to the author's channel.
func (d *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if d.session == nil || !d.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID, err := d.channelFor(msg.UserID)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, discordSendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.session.ChannelMessageSend(channelID, msg.Text)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (d *DiscordChannel) channelFor(userID string) (string, error) {
	d.mu.Lock()
	channelID, ok := d.channels[userID]
	d.mu.Unlock()
	if ok {
		return channelID, nil
	}

	dm, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return "", fmt.Errorf("discord dm channel: %w", err)
	}
	d.remember(userID, dm.ID)
	return dm.ID, nil
}

func (d *DiscordChannel) remember(userID, channelID string) {
	d.mu.Lock()
	d.channels[userID] = channelID
	d.mu.Unlock()
}

func (d *DiscordChannel) processMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	d.mu.Lock()
	botID := d.botID
	d.mu.Unlock()
	if botID != "" && m.Author.ID == botID {
		return
	}
	if m.Content == "" {
		return
	}

	d.remember(m.Author.ID, m.ChannelID)

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	d.HandleMessage(ctx, m.Author.ID, "", m.Content, map[string]any{
		"name":     name,
		"username": m.Author.Username,
		"id":       m.Author.ID,
		"guildId":  m.GuildID,
	})
}
