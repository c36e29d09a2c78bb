package console

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrBufferFull is returned when a connection cannot take another frame.
var ErrBufferFull = errors.New("send buffer full")

const sendBufferSize = 256

// Connection is one operator console. Its ID doubles as the operator id.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex

	sendMu sync.Mutex
	closed bool
}

// queue hands data to the write pump without blocking. It reports false when
// the buffer is full or the connection was already dropped.
func (c *Connection) queue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WriteMessage writes a frame with the connection's write lock held.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Hub fans events out to every connected console. Broadcast never blocks:
// a console that cannot keep up is disconnected.
type Hub struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub creates a Hub. Call Run before registering connections.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
	}
}

// Run is the hub's main loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				conn.closeSend()
				delete(h.connections, id)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Printf("[Console] Connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			if h.remove(conn) {
				log.Printf("[Console] Connection unregistered: %s", conn.ID)
			}

		case data := <-h.broadcast:
			var slow []*Connection
			h.mu.RLock()
			for _, conn := range h.connections {
				if !conn.queue(data) {
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				log.Printf("[Console] Connection %s buffer full, closing", conn.ID)
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return false
	}
	delete(h.connections, conn.ID)
	conn.closeSend()
	return true
}

// NewConnection wraps a socket with a fresh connection id.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, sendBufferSize),
	}
}

// Register adds a connection to the broadcast set.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister removes a connection and closes its Send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues ev for every connected console. If the hub is backed up
// the event is dropped.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Console] ⚠️ Failed to encode %s: %v", ev.Type, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[Console] ⚠️ Broadcast queue full, dropping %s", ev.Type)
	}
}

// SendTo queues ev for a single connection.
func (h *Hub) SendTo(conn *Connection, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if !conn.queue(data) {
		return ErrBufferFull
	}
	return nil
}

// ConnectionCount returns the number of connected consoles.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
