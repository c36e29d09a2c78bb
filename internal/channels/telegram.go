package channels

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/dayuer/estatedesk/internal/bus"
	"github.com/dayuer/estatedesk/internal/utils"
)

// telegramBot is the part of *telego.Bot the channel uses.
type telegramBot interface {
	GetMe(ctx context.Context) (*telego.User, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramChannel serves private chats with the bot and reads listing posts
// from a broadcast channel, both over one long-polling connection.
type TelegramChannel struct {
	BaseChannel
	// BroadcastChannel is the numeric id or @username of the listings
	// channel. Empty accepts posts from any channel the bot is in.
	BroadcastChannel string

	bot      telegramBot
	cancelFn context.CancelFunc
}

// NewTelegramChannel creates a TelegramChannel.
func NewTelegramChannel(token, broadcastChannel string, allowFrom []string, msgBus *bus.MessageBus) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramChannel(bot, broadcastChannel, allowFrom, msgBus), nil
}

func newTelegramChannel(bot telegramBot, broadcastChannel string, allowFrom []string, msgBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			ChannelName: "telegram",
			Bus:         msgBus,
			AllowFrom:   allowFrom,
		},
		BroadcastChannel: broadcastChannel,
		bot:              bot,
	}
}

// Start begins long polling for Telegram updates.
func (t *TelegramChannel) Start(ctx context.Context) error {
	ctx, t.cancelFn = context.WithCancel(ctx)
	defer t.setRunning(false)

	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	log.Printf("[Telegram] ✅ Bot @%s connected", me.Username)

	updates, err := t.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "channel_post", "edited_channel_post"},
	})
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}
	t.setRunning(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.processUpdate(ctx, update)
		}
	}
}

// Stop stops the Telegram bot.
func (t *TelegramChannel) Stop() error {
	t.setRunning(false)
	if t.cancelFn != nil {
		t.cancelFn()
	}
	return nil
}

// Send sends a plain-text message to a chat id or @username.
func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID := telego.ChatID{Username: msg.UserID}
	if id, err := strconv.ParseInt(msg.UserID, 10, 64); err == nil {
		chatID = telego.ChatID{ID: id}
	}
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{ChatID: chatID, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *TelegramChannel) processUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		t.processPrivate(ctx, update.Message)
	case update.ChannelPost != nil:
		t.processPost(ctx, update.ChannelPost, false)
	case update.EditedChannelPost != nil:
		t.processPost(ctx, update.EditedChannelPost, true)
	}
}

func (t *TelegramChannel) processPrivate(ctx context.Context, msg *telego.Message) {
	if msg.Chat.Type != telego.ChatTypePrivate || msg.From == nil {
		return
	}
	text := messageText(msg)
	if text == "" {
		return
	}

	from := msg.From
	allowID := strconv.FormatInt(from.ID, 10)
	if from.Username != "" {
		allowID += "|" + from.Username
	}
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	userInfo := map[string]any{"name": name, "id": from.ID}
	if from.Username != "" {
		userInfo["username"] = from.Username
	}

	t.HandleMessage(ctx, strconv.FormatInt(msg.Chat.ID, 10), allowID, text, userInfo)
}

func (t *TelegramChannel) processPost(ctx context.Context, msg *telego.Message, edited bool) {
	if !t.isBroadcastChannel(msg.Chat) {
		return
	}
	text := messageText(msg)
	if text == "" {
		return
	}
	log.Printf("[Telegram] 📢 Channel post %d: %s", msg.MessageID, utils.TruncateRunes(text, 100, "..."))
	t.HandlePost(ctx, fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID), text, edited)
}

func (t *TelegramChannel) isBroadcastChannel(chat telego.Chat) bool {
	want := t.BroadcastChannel
	if want == "" {
		return true
	}
	if want == strconv.FormatInt(chat.ID, 10) {
		return true
	}
	return chat.Username != "" && strings.EqualFold(strings.TrimPrefix(want, "@"), chat.Username)
}

func messageText(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}
