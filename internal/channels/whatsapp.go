package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dayuer/estatedesk/internal/bus"
)

const whatsappReconnectDelay = 5 * time.Second

// WhatsAppChannel talks to a WhatsApp Web bridge over a WebSocket.
type WhatsAppChannel struct {
	BaseChannel
	BridgeURL   string
	BridgeToken string

	mu        sync.Mutex // guards conn, connected and cancelFn
	conn      *websocket.Conn
	connected bool
	cancelFn  context.CancelFunc

	writeMu sync.Mutex // serializes socket writes

	// sendFn is an injectable message sender function (for testing).
	sendFn func(payload []byte) error
}

// NewWhatsAppChannel creates a WhatsAppChannel.
func NewWhatsAppChannel(bridgeURL, bridgeToken string, allowFrom []string, msgBus *bus.MessageBus) *WhatsAppChannel {
	if bridgeURL == "" {
		bridgeURL = "ws://localhost:3001"
	}
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{
			ChannelName: "whatsapp",
			Bus:         msgBus,
			AllowFrom:   allowFrom,
		},
		BridgeURL:   bridgeURL,
		BridgeToken: bridgeToken,
	}
}

// Start connects to the bridge and reconnects until ctx is cancelled.
func (w *WhatsAppChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelFn = cancel
	w.mu.Unlock()
	w.setRunning(true)
	defer w.setRunning(false)

	for {
		if err := w.runConnection(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[WhatsApp] ⚠️ Bridge connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(whatsappReconnectDelay):
			log.Printf("[WhatsApp] Reconnecting to %s", w.BridgeURL)
		}
	}
}

func (w *WhatsAppChannel) runConnection(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer conn.Close()

	if w.BridgeToken != "" {
		auth, _ := json.Marshal(map[string]string{"type": "auth", "token": w.BridgeToken})
		w.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, auth)
		w.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("bridge auth: %w", err)
		}
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	log.Printf("[WhatsApp] ✅ Connected to bridge %s", w.BridgeURL)

	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.connected = false
		w.mu.Unlock()
	}()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.ProcessBridgeMessage(ctx, string(data))
	}
}

// Stop stops the WhatsApp channel.
func (w *WhatsAppChannel) Stop() error {
	w.setRunning(false)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	if w.cancelFn != nil {
		w.cancelFn()
	}
	return nil
}

// Send sends a message through the WhatsApp bridge. UserID is the chat JID.
func (w *WhatsAppChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	payload, _ := json.Marshal(map[string]string{
		"type": "send",
		"to":   msg.UserID,
		"text": msg.Text,
	})
	if w.sendFn != nil {
		return w.sendFn(payload)
	}

	w.mu.Lock()
	conn, connected := w.conn, w.connected
	w.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// ProcessBridgeMessage handles an incoming message from the bridge (exported for testing).
func (w *WhatsAppChannel) ProcessBridgeMessage(ctx context.Context, raw string) {
	var data map[string]any
	if json.Unmarshal([]byte(raw), &data) != nil {
		return
	}

	msgType, _ := data["type"].(string)

	switch msgType {
	case "message":
		sender, _ := data["sender"].(string)
		pn, _ := data["pn"].(string)
		content, _ := data["content"].(string)
		if isGroup, _ := data["isGroup"].(bool); isGroup {
			return
		}

		phone := pn
		if phone == "" {
			phone = sender
		}
		phone, _, _ = strings.Cut(phone, "@")

		userInfo := map[string]any{"phone": phone}
		if name, _ := data["pushName"].(string); name != "" {
			userInfo["name"] = name
		}
		w.HandleMessage(ctx, sender, phone, content, userInfo)

	case "status":
		status, _ := data["status"].(string)
		log.Printf("[WhatsApp] Status: %s", status)
		w.mu.Lock()
		w.connected = status == "connected"
		w.mu.Unlock()

	case "qr":
		log.Println("[WhatsApp] Scan QR code in bridge terminal to connect WhatsApp")

	case "error":
		errMsg, _ := data["error"].(string)
		log.Printf("[WhatsApp] Bridge error: %s", errMsg)
	}
}
