package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/store"
)

type fakeWebhook struct{}

func (fakeWebhook) Verify(c echo.Context) error  { return c.String(http.StatusOK, c.QueryParam("hub.challenge")) }
func (fakeWebhook) Receive(c echo.Context) error { return c.String(http.StatusOK, "EVENT_RECEIVED") }

type staticStatus map[string]bool

func (s staticStatus) GetStatus() map[string]bool { return s }

type testEnv struct {
	e        *echo.Echo
	repo     *store.MemoryRepository
	sessions *session.Store
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	repo := store.NewMemoryRepository()
	_, err := store.SeedIfEmpty(context.Background(), repo)
	require.NoError(t, err)
	sessions := session.NewStore()

	opts.Repo = repo
	opts.Sessions = sessions
	return &testEnv{e: NewServer(NewHandler(opts)), repo: repo, sessions: sessions}
}

func (env *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRootRedirectsToOperator(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.get(t, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/operator", rec.Header().Get(echo.HeaderLocation))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestGetProperties(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all newest first", "", []string{"sample-3", "sample-2", "sample-1"}},
		{"apartment under 50000", "?type=apartment&price_max=50000", []string{"sample-1"}},
		{"rooms", "?rooms=3", []string{"sample-2"}},
		{"price range", "?price_min=1000&price_max=200000", []string{"sample-2", "sample-1"}},
		{"no match", "?type=villa&price_max=100000", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, "/api/properties"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			got := decode[[]listing.Listing](t, rec)
			ids := make([]string, 0, len(got))
			for _, l := range got {
				ids = append(ids, l.SourceMessageID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestGetProperties_BadInput(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, q := range []string{
		"?type=castle",
		"?rooms=two",
		"?rooms=-1",
		"?price_max=cheap",
		"?price_min=-5",
		"?price_min=NaN",
		"?price_min=500&price_max=100",
	} {
		rec := env.get(t, "/api/properties"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, decode[map[string]string](t, rec), "error")
	}
}

func TestSearchProperties(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.get(t, "/api/properties/search?q=gouna")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]listing.Listing](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "sample-2", got[0].SourceMessageID)

	rec = env.get(t, "/api/properties/search?q=castle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", jsonTrim(rec))
}

func jsonTrim(rec *httptest.ResponseRecorder) string {
	b := rec.Body.Bytes()
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}

func TestSessionsAndStats(t *testing.T) {
	env := newTestEnv(t, Options{Channels: staticStatus{"web": true, "telegram": false}})
	ctx := context.Background()

	snap, _ := env.sessions.GetOrCreate("web", "u1", map[string]any{"name": "Guest"})
	msg, _, err := env.sessions.Append(snap.ID, session.SenderUser, "hello")
	require.NoError(t, err)
	_, err = env.repo.SaveMessage(ctx, snap.ID, msg)
	require.NoError(t, err)
	env.sessions.GetOrCreate("telegram", "42", nil)
	_, err = env.sessions.SetOperator("telegram_42", true, "op-1")
	require.NoError(t, err)

	rec := env.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "web_u1", list[0]["id"])
	assert.Equal(t, "hello", list[0]["lastMessage"].(map[string]any)["text"])
	assert.Nil(t, list[1]["lastMessage"])
	assert.Equal(t, true, list[1]["operatorActive"])

	rec = env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, stats["activeSessions"])
	assert.EqualValues(t, 1, stats["operatorSessions"])
	assert.Equal(t, map[string]any{"web": float64(1), "telegram": float64(1)}, stats["channels"])
	assert.Equal(t, map[string]any{"web": true, "telegram": false}, stats["channelStatus"])
	assert.EqualValues(t, 3, stats["stored"].(map[string]any)["listings"])

	rec = env.get(t, "/api/sessions/web_u1/messages")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string]any](t, rec)
	assert.Equal(t, "web_u1", history["sessionId"])
	assert.Len(t, history["messages"], 1)

	rec = env.get(t, "/api/sessions/nokey/messages")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionalRoutes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>console</h1>"), 0644))

	wsCalled := false
	env := newTestEnv(t, Options{
		WebSocket: func(c echo.Context) error {
			wsCalled = true
			return c.NoContent(http.StatusSwitchingProtocols)
		},
		Webhook:   fakeWebhook{},
		StaticDir: dir,
	})

	env.get(t, "/ws")
	assert.True(t, wsCalled)

	rec := env.get(t, "/facebook/webhook?hub.challenge=77")
	assert.Equal(t, "77", rec.Body.String())

	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/facebook/webhook", nil))
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())

	rec = env.get(t, "/operator/index.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console")
}

func TestOptionalRoutesAbsent(t *testing.T) {
	env := newTestEnv(t, Options{})
	assert.Equal(t, http.StatusNotFound, env.get(t, "/ws").Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/facebook/webhook").Code)
}

func TestHandler_Uptime(t *testing.T) {
	h := NewHandler(Options{})
	h.startedAt = time.Now().Add(-time.Minute)
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)))
	assert.Equal(t, "1m0s", decode[map[string]any](t, rec)["uptime"])
}
