package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/estatedesk/internal/session"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub()
	go h.Run(ctx)
	return h
}

func decode(t *testing.T, data []byte) Incoming {
	t.Helper()
	var in Incoming
	require.NoError(t, json.Unmarshal(data, &in))
	return in
}

func TestHub_BroadcastReachesAll(t *testing.T) {
	h := startHub(t)
	a, b := h.NewConnection(nil), h.NewConnection(nil)
	h.Register(a)
	h.Register(b)
	assert.NotEqual(t, a.ID, b.ID)

	h.Broadcast(SessionReturnedToBot("web_u1"))

	for _, c := range []*Connection{a, b} {
		select {
		case data := <-c.Send:
			in := decode(t, data)
			assert.Equal(t, TypeSessionReturnedToBot, in.Type)
			assert.JSONEq(t, `{"sessionId":"web_u1"}`, string(in.Data))
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestHub_SlowConsoleIsDropped(t *testing.T) {
	h := startHub(t)
	slow := h.NewConnection(nil)
	fast := h.NewConnection(nil)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < cap(slow.Send); i++ {
		slow.Send <- []byte("{}")
	}
	h.Broadcast(Error("ping"))

	select {
	case <-fast.Send:
	case <-time.After(time.Second):
		t.Fatal("fast console starved by slow one")
	}
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	// Drain; the channel must end closed.
	for range slow.Send {
	}
}

func TestHub_UnregisterTwice(t *testing.T) {
	h := startHub(t)
	c := h.NewConnection(nil)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_SendToFullBuffer(t *testing.T) {
	h := NewHub()
	c := h.NewConnection(nil)
	for i := 0; i < cap(c.Send); i++ {
		c.Send <- nil
	}
	assert.ErrorIs(t, h.SendTo(c, Error("x")), ErrBufferFull)
}

func TestHub_SendToDroppedConnection(t *testing.T) {
	h := startHub(t)
	c := h.NewConnection(nil)
	h.Register(c)
	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, h.SendTo(c, Error("late")), ErrBufferFull)
	})
}

func TestEventEncoding(t *testing.T) {
	snap := session.Snapshot{ID: "telegram_7", Channel: "telegram", UserID: "7"}
	msg := session.Message{Sender: session.SenderUser, Text: "hi", Timestamp: time.Unix(0, 0).UTC()}

	data, err := json.Marshal(NewMessage(snap, msg))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"newMessage"`)
	assert.Contains(t, string(data), `"sessionId":"telegram_7"`)
	assert.Contains(t, string(data), `"from":"user"`)

	data, err = json.Marshal(DispatchError("web_u1", "web", errors.New("offline")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"dispatchError","data":{"sessionId":"web_u1","channel":"web","error":"offline"}}`, string(data))
}

type call struct {
	kind      string
	sessionID string
	operator  string
	channel   string
	userID    string
	text      string
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeHandler) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeHandler) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeHandler) Sessions() []session.Snapshot {
	return []session.Snapshot{{ID: "web_u1", Channel: "web", UserID: "u1"}}
}

func (f *fakeHandler) InjectMessage(_ context.Context, channel, userID, text string, _ map[string]any) {
	f.record(call{kind: "inject", channel: channel, userID: userID, text: text})
}

func (f *fakeHandler) TakeOver(sessionID, operatorID string) {
	f.record(call{kind: "takeover", sessionID: sessionID, operator: operatorID})
}

func (f *fakeHandler) SendOperatorMessage(_ context.Context, sessionID, operatorID, text string) {
	f.record(call{kind: "operator", sessionID: sessionID, operator: operatorID, text: text})
}

func (f *fakeHandler) ReturnToBot(sessionID string) {
	f.record(call{kind: "return", sessionID: sessionID})
}

func (f *fakeHandler) OperatorDisconnected(operatorID string) {
	f.record(call{kind: "disconnect", operator: operatorID})
}

func TestHandleFrame_Dispatch(t *testing.T) {
	h := NewHub()
	fh := &fakeHandler{}
	s := NewServer(context.Background(), DefaultServerConfig(), h, fh)
	conn := h.NewConnection(nil)

	s.HandleFrame(conn, []byte(`{"type":"incomingMessage","data":{"userId":"u9","message":"villa"}}`))
	s.HandleFrame(conn, []byte(`{"type":"operatorTakeOver","data":{"sessionId":"web_u9"}}`))
	s.HandleFrame(conn, []byte(`{"type":"operatorMessage","data":{"sessionId":"web_u9","message":"hello"}}`))
	s.HandleFrame(conn, []byte(`{"type":"returnToBot","data":{"sessionId":"web_u9"}}`))

	calls := fh.snapshot()
	require.Len(t, calls, 4)
	assert.Equal(t, call{kind: "inject", channel: "web", userID: "u9", text: "villa"}, calls[0])
	assert.Equal(t, call{kind: "takeover", sessionID: "web_u9", operator: conn.ID}, calls[1])
	assert.Equal(t, call{kind: "operator", sessionID: "web_u9", operator: conn.ID, text: "hello"}, calls[2])
	assert.Equal(t, call{kind: "return", sessionID: "web_u9"}, calls[3])
}

func TestHandleFrame_Rejects(t *testing.T) {
	h := NewHub()
	fh := &fakeHandler{}
	s := NewServer(context.Background(), DefaultServerConfig(), h, fh)
	conn := h.NewConnection(nil)

	frames := []string{
		`not json`,
		`{"type":"operatorTakeOver","data":{}}`,
		`{"type":"operatorMessage","data":{"sessionId":"web_u1","message":"   "}}`,
		`{"type":"incomingMessage","data":{"message":"no user"}}`,
		`{"type":"selfDestruct"}`,
	}
	for _, f := range frames {
		s.HandleFrame(conn, []byte(f))
		select {
		case data := <-conn.Send:
			assert.Equal(t, TypeError, decode(t, data).Type, f)
		default:
			t.Fatalf("no error frame for %s", f)
		}
	}
	assert.Empty(t, fh.snapshot())
}

func TestHandleWebSocket_EndToEnd(t *testing.T) {
	h := startHub(t)
	fh := &fakeHandler{}
	s := NewServer(context.Background(), DefaultServerConfig(), h, fh)

	e := echo.New()
	e.GET("/ws", s.HandleWebSocket)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	in := decode(t, data)
	assert.Equal(t, TypeSessionsSnapshot, in.Type)
	assert.Contains(t, string(in.Data), `"id":"web_u1"`)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"operatorTakeOver","data":{"sessionId":"web_u1"}}`)))
	assert.Eventually(t, func() bool { return len(fh.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	takeover := fh.snapshot()[0]
	assert.Equal(t, "takeover", takeover.kind)
	assert.NotEmpty(t, takeover.operator)

	h.Broadcast(SessionTakenOver("web_u1", takeover.operator))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, TypeSessionTakenOver, decode(t, data).Type)

	ws.Close()
	assert.Eventually(t, func() bool {
		calls := fh.snapshot()
		return len(calls) == 2 && calls[1].kind == "disconnect" && calls[1].operator == takeover.operator
	}, 2*time.Second, 10*time.Millisecond)
}
