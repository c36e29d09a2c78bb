package console

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dayuer/estatedesk/internal/session"
)

// Handler is what the console drives. The router implements it.
type Handler interface {
	Sessions() []session.Snapshot
	InjectMessage(ctx context.Context, channel, userID, text string, userInfo map[string]any)
	TakeOver(sessionID, operatorID string)
	SendOperatorMessage(ctx context.Context, sessionID, operatorID, text string)
	ReturnToBot(sessionID string)
	OperatorDisconnected(operatorID string)
}

// ServerConfig holds socket timings.
type ServerConfig struct {
	MaxMessageSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultServerConfig returns the timings used when none are configured.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxMessageSize: 64 * 1024,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   25 * time.Second,
	}
}

// Server upgrades operator console connections and routes their commands.
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	handler  Handler
	ctx      context.Context
	upgrader websocket.Upgrader
}

// NewServer creates a console server. ctx bounds the work started by
// console commands; it outlives individual requests.
func NewServer(ctx context.Context, cfg ServerConfig, h *Hub, handler Handler) *Server {
	if cfg.PingInterval <= 0 || cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		cfg = DefaultServerConfig()
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		handler: handler,
		ctx:     ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[Console] Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	if err := s.hub.SendTo(conn, SessionsSnapshot(s.handler.Sessions())); err != nil {
		log.Printf("[Console] ⚠️ Snapshot for %s not queued: %v", conn.ID, err)
	}

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
		s.handler.OperatorDisconnected(conn.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Console] WebSocket error: %v", err)
			}
			return
		}
		s.HandleFrame(conn, data)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[Console] Failed to write to %s: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleFrame decodes one console frame and dispatches it. The connection id
// is used as the operator id.
func (s *Server) HandleFrame(conn *Connection, data []byte) {
	var in Incoming
	if err := json.Unmarshal(data, &in); err != nil {
		s.reject(conn, "invalid JSON message")
		return
	}

	switch in.Type {
	case TypeIncomingMessage:
		var req IncomingMessageRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || strings.TrimSpace(req.Message) == "" || req.UserID == "" {
			s.reject(conn, "incomingMessage requires userId and message")
			return
		}
		if req.Channel == "" {
			req.Channel = "web"
		}
		s.handler.InjectMessage(s.ctx, req.Channel, req.UserID, req.Message, req.UserInfo)

	case TypeOperatorTakeOver, TypeReturnToBot:
		var req SessionRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.SessionID == "" {
			s.reject(conn, string(in.Type)+" requires sessionId")
			return
		}
		if in.Type == TypeOperatorTakeOver {
			s.handler.TakeOver(req.SessionID, conn.ID)
		} else {
			s.handler.ReturnToBot(req.SessionID)
		}

	case TypeOperatorMessage:
		var req OperatorMessageRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
			s.reject(conn, "operatorMessage requires sessionId and message")
			return
		}
		s.handler.SendOperatorMessage(s.ctx, req.SessionID, conn.ID, req.Message)

	default:
		s.reject(conn, "unknown message type: "+string(in.Type))
	}
}

func (s *Server) reject(conn *Connection, msg string) {
	log.Printf("[Console] ⚠️ %s: %s", conn.ID, msg)
	if err := s.hub.SendTo(conn, Error(msg)); err != nil {
		log.Printf("[Console] Error frame for %s dropped: %v", conn.ID, err)
	}
}
