package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dayuer/estatedesk/internal/bus"
)

const defaultGraphURL = "https://graph.facebook.com/v18.0"

// FacebookChannel receives Messenger webhooks and replies through the Graph
// API. Without a page token replies are only logged.
type FacebookChannel struct {
	BaseChannel
	VerifyToken string
	PageToken   string
	GraphURL    string

	client *http.Client
}

// NewFacebookChannel creates a FacebookChannel.
func NewFacebookChannel(verifyToken, pageToken string, allowFrom []string, msgBus *bus.MessageBus) *FacebookChannel {
	return &FacebookChannel{
		BaseChannel: BaseChannel{
			ChannelName: "facebook",
			Bus:         msgBus,
			AllowFrom:   allowFrom,
		},
		VerifyToken: verifyToken,
		PageToken:   pageToken,
		GraphURL:    defaultGraphURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Start marks the channel running; messages arrive through the webhook.
func (f *FacebookChannel) Start(ctx context.Context) error {
	f.setRunning(true)
	<-ctx.Done()
	f.setRunning(false)
	return nil
}

// Stop marks the channel stopped.
func (f *FacebookChannel) Stop() error {
	f.setRunning(false)
	return nil
}

// Verify answers the webhook subscription handshake.
func (f *FacebookChannel) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "" || token == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if mode != "subscribe" || f.VerifyToken == "" || token != f.VerifyToken {
		log.Println("[Facebook] ❌ Webhook verification failed")
		return c.NoContent(http.StatusForbidden)
	}
	log.Println("[Facebook] ✅ Webhook verified")
	return c.String(http.StatusOK, challenge)
}

type fbWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []fbEvent `json:"messaging"`
	} `json:"entry"`
}

type fbEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

// Receive handles a webhook delivery.
func (f *FacebookChannel) Receive(c echo.Context) error {
	var body fbWebhook
	if err := c.Bind(&body); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if body.Object != "page" {
		return c.NoContent(http.StatusNotFound)
	}

	ctx := c.Request().Context()
	for _, entry := range body.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho {
				continue
			}
			f.HandleMessage(ctx, ev.Sender.ID, "", ev.Message.Text, map[string]any{
				"name": "Facebook User",
				"id":   ev.Sender.ID,
			})
		}
	}
	return c.String(http.StatusOK, "EVENT_RECEIVED")
}

// Send delivers a reply through the Send API.
func (f *FacebookChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if f.PageToken == "" {
		log.Printf("[Facebook] Page token not configured, reply to %s not sent: %s", msg.UserID, msg.Text)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"recipient":      map[string]string{"id": msg.UserID},
		"message":        map[string]string{"text": msg.Text},
		"messaging_type": "RESPONSE",
	})
	endpoint := f.GraphURL + "/me/messages?access_token=" + url.QueryEscape(f.PageToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("facebook send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("facebook send: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
