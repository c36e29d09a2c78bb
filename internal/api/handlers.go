package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/utils"
)

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetStats returns live session counts per channel and stored totals.
// GET /api/stats
func (h *Handler) GetStats(c echo.Context) error {
	sessions := h.opts.Sessions.List()
	perChannel := make(map[string]int)
	operated := 0
	for _, s := range sessions {
		perChannel[s.Channel]++
		if s.OperatorActive {
			operated++
		}
	}

	stored, err := h.opts.Repo.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	resp := map[string]any{
		"activeSessions":   len(sessions),
		"operatorSessions": operated,
		"channels":         perChannel,
		"stored":           stored,
	}
	if h.opts.Channels != nil {
		resp["channelStatus"] = h.opts.Channels.GetStatus()
	}
	return c.JSON(http.StatusOK, resp)
}

type sessionView struct {
	session.Snapshot
	LastMessage *session.Message `json:"lastMessage,omitempty"`
}

// ListSessions returns every live session with its last message.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	snaps := h.opts.Sessions.List()
	out := make([]sessionView, 0, len(snaps))
	for _, s := range snaps {
		v := sessionView{Snapshot: s}
		if last, ok := s.LastMessage(); ok {
			v.LastMessage = &last
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, out)
}

// GetSessionMessages returns the stored history of a session.
// GET /api/sessions/:id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	id := c.Param("id")
	if _, _, err := utils.ParseSessionKey(id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	messages, err := h.opts.Repo.SessionMessages(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessionId": id,
		"messages":  messages,
	})
}

// GetProperties returns the listings matching the query filter, newest
// first, at most one page.
// GET /api/properties?type=&rooms=&price_min=&price_max=
func (h *Handler) GetProperties(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	found, err := h.opts.Repo.QueryListings(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load listings"})
	}
	if found == nil {
		found = []listing.Listing{}
	}
	return c.JSON(http.StatusOK, found)
}

// SearchProperties narrows a filtered page of listings by free text.
// GET /api/properties/search?q=
func (h *Handler) SearchProperties(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	found, err := h.opts.Repo.QueryListings(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load listings"})
	}
	found = listing.Search(found, c.QueryParam("q"))
	if found == nil {
		found = []listing.Listing{}
	}
	return c.JSON(http.StatusOK, found)
}

func parseFilter(c echo.Context) (listing.Filter, error) {
	var f listing.Filter

	t, err := listing.ParseType(c.QueryParam("type"))
	if err != nil {
		return f, err
	}
	f.PropertyType = t

	if v := c.QueryParam("rooms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid rooms %q", v)
		}
		f.RoomCount = &n
	}
	if f.PriceMin, err = parsePrice(c, "price_min"); err != nil {
		return f, err
	}
	if f.PriceMax, err = parsePrice(c, "price_max"); err != nil {
		return f, err
	}
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMin > *f.PriceMax {
		return f, fmt.Errorf("price_min is greater than price_max")
	}
	return f, nil
}

func parsePrice(c echo.Context, name string) (*float64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil || p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return nil, fmt.Errorf("invalid %s %q", name, v)
	}
	return &p, nil
}
