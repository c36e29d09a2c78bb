// Package api is the HTTP surface: the read-only listing query API, session
// and stats views for the console, the console WebSocket and the Messenger
// webhook.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/store"
)

// SessionLister exposes the live sessions.
type SessionLister interface {
	List() []session.Snapshot
}

// StatusReporter reports which channels are running.
type StatusReporter interface {
	GetStatus() map[string]bool
}

// Options wires a Handler. Repo and Sessions are required; the rest enable
// their routes when set.
type Options struct {
	Repo      store.Repository
	Sessions  SessionLister
	Channels  StatusReporter
	WebSocket echo.HandlerFunc // console endpoint at /ws
	Webhook   Webhook          // Messenger endpoint at /facebook/webhook
	StaticDir string           // served at /operator
}

// Webhook is a platform webhook with a verification handshake.
type Webhook interface {
	Verify(c echo.Context) error
	Receive(c echo.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	opts      Options
	startedAt time.Time
}

// NewHandler creates a new handler.
func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts, startedAt: time.Now()}
}

// NewServer returns an echo instance with the standard middleware and every
// route registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/operator")
	})
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/stats", h.GetStats)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id/messages", h.GetSessionMessages)
	g.GET("/properties", h.GetProperties)
	g.GET("/properties/search", h.SearchProperties)

	if h.opts.WebSocket != nil {
		e.GET("/ws", h.opts.WebSocket)
	}
	if h.opts.Webhook != nil {
		e.GET("/facebook/webhook", h.opts.Webhook.Verify)
		e.POST("/facebook/webhook", h.opts.Webhook.Receive)
	}
	if h.opts.StaticDir != "" {
		e.Static("/operator", h.opts.StaticDir)
	}
}
