package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/estatedesk/internal/bus"
	"github.com/dayuer/estatedesk/internal/console"
	"github.com/dayuer/estatedesk/internal/intent"
	"github.com/dayuer/estatedesk/internal/lane"
	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/reply"
	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/store"
)

var _ console.Handler = (*Engine)(nil)

type recordingNotifier struct {
	mu     sync.Mutex
	events []console.Event
}

func (r *recordingNotifier) Broadcast(ev console.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) types() []console.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]console.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recordingNotifier) last() console.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type sent struct {
	channel, userID, text string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []sent
	err   error
	block map[string]chan struct{} // user id -> released when closed
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, channel, userID, text string) error {
	f.mu.Lock()
	gate := f.block[userID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{channel, userID, text})
	return f.err
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type stubResponder struct {
	err   error
	panic bool
}

func (s stubResponder) Generate(context.Context, intent.Intent, string) (string, error) {
	if s.panic {
		panic("template exploded")
	}
	return "", s.err
}

func (s stubResponder) Apology(lang string) string { return "sorry:" + lang }

type failingRepo struct {
	*store.MemoryRepository
}

func (failingRepo) SaveMessage(context.Context, string, session.Message) (int64, error) {
	return 0, &store.PersistenceError{Op: "save message", Err: errors.New("disk full")}
}

type fixture struct {
	engine   *Engine
	sessions *session.Store
	repo     *store.MemoryRepository
	notify   *recordingNotifier
	dispatch *fakeDispatcher
}

func newFixture(t *testing.T, listings ...listing.Listing) *fixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	_, err := store.SeedIfEmpty(ctx, repo)
	require.NoError(t, err)
	for _, l := range listings {
		_, err := repo.SaveListing(ctx, l)
		require.NoError(t, err)
	}

	f := &fixture{
		sessions: session.NewStore(),
		repo:     repo,
		notify:   &recordingNotifier{},
		dispatch: &fakeDispatcher{},
	}
	f.engine, err = New(Options{
		Sessions:   f.sessions,
		Responder:  reply.NewGenerator(nil, repo),
		Dispatcher: f.dispatch,
		Repo:       repo,
		Notify:     f.notify,
		Indexer:    listing.NewIndexer(repo),
	})
	require.NoError(t, err)
	t.Cleanup(f.engine.Stop)
	return f
}

func inbound(channel, userID, text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: channel, UserID: userID, Text: text, Timestamp: time.Now()}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Sessions: session.NewStore()})
	assert.Error(t, err)
	_, err = New(Options{Sessions: session.NewStore(), Responder: stubResponder{}})
	assert.Error(t, err)
}

func TestHandleInbound_FreshSessionGetsListings(t *testing.T) {
	cheap := listing.Listing{
		SourceMessageID: "tg-7",
		RawText:         "2 bedroom villa in Magawish $95,000",
		PropertyType:    listing.TypeVilla,
		RoomCount:       listing.Int(2),
		Price:           listing.Float(95000),
		Area:            listing.String("Magawish"),
		ParsedAt:        time.Now().UTC(),
	}
	f := newFixture(t, cheap)
	ctx := context.Background()

	f.engine.HandleInbound(ctx, inbound("web", "u1", "Hi, show me villas under 100000"))

	require.Equal(t, 1, f.sessions.Len())
	snap, err := f.sessions.Get("web_u1")
	require.NoError(t, err)
	assert.False(t, snap.OperatorActive)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.SenderUser, snap.Messages[0].Sender)
	assert.Equal(t, session.SenderBot, snap.Messages[1].Sender)

	answer := snap.Messages[1].Text
	assert.Contains(t, answer, "Villa")
	assert.Contains(t, answer, "$95,000")
	assert.Contains(t, answer, "Magawish")
	assert.NotContains(t, answer, "$120,000")

	require.Equal(t, 1, f.dispatch.count())
	assert.Equal(t, sent{"web", "u1", answer}, f.dispatch.sent[0])

	assert.Equal(t, []console.EventType{console.TypeBotMessageSent, console.TypeNewMessage}, f.notify.types())
	data := f.notify.last().Data.(console.NewMessageData)
	assert.Equal(t, "web_u1", data.SessionID)
	assert.Equal(t, "Hi, show me villas under 100000", data.Message.Text)

	stored, err := f.repo.SessionMessages(ctx, "web_u1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	stats, err := f.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sessions)
}

func TestHandleInbound_NoMatchingListings(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleInbound(context.Background(), inbound("web", "u1", "Hi, show me villas under 100000"))

	snap, err := f.sessions.Get("web_u1")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, reply.DefaultRules().Lang("en").NoMatch, snap.Messages[1].Text)
	assert.False(t, snap.OperatorActive)
}

func TestHandleInbound_CannedReplyInDetectedLanguage(t *testing.T) {
	f := newFixture(t)
	f.engine.HandleInbound(context.Background(), inbound("telegram", "42", "Привет"))

	snap, err := f.sessions.Get("telegram_42")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Contains(t, snap.Messages[1].Text, "Привет!")
}

func TestHandleInbound_OperatorActiveSuppressesBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleInbound(ctx, inbound("web", "u1", "hello"))
	f.engine.TakeOver("web_u1", "op-1")
	before := f.dispatch.count()

	f.engine.HandleInbound(ctx, inbound("web", "u1", "is anyone there?"))

	snap, err := f.sessions.Get("web_u1")
	require.NoError(t, err)
	assert.True(t, snap.OperatorActive)
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, session.SenderUser, snap.Messages[2].Sender)
	assert.Equal(t, before, f.dispatch.count(), "no automated reply")

	last := f.notify.last()
	assert.Equal(t, console.TypeNewMessage, last.Type)
	assert.Equal(t, "is anyone there?", last.Data.(console.NewMessageData).Message.Text)
}

func TestHandleInbound_ReturnToBotResumesReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleInbound(ctx, inbound("web", "u1", "hello"))
	f.engine.TakeOver("web_u1", "op-1")
	f.engine.ReturnToBot("web_u1")
	f.engine.ReturnToBot("web_u1")
	f.engine.HandleInbound(ctx, inbound("web", "u1", "thanks"))

	snap, err := f.sessions.Get("web_u1")
	require.NoError(t, err)
	assert.False(t, snap.OperatorActive)
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, session.SenderBot, snap.Messages[3].Sender)
}

func TestHandleInbound_DispatchFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.dispatch.err = errors.New("bridge offline")

	f.engine.HandleInbound(context.Background(), inbound("whatsapp", "555@s.whatsapp.net", "hello"))

	snap, err := f.sessions.Get("whatsapp_555@s.whatsapp.net")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2, "the bot message is kept even though delivery failed")

	assert.Equal(t, []console.EventType{
		console.TypeDispatchError, console.TypeBotMessageSent, console.TypeNewMessage,
	}, f.notify.types())
	notice := f.notify.events[0].Data.(console.DispatchErrorData)
	assert.Equal(t, "whatsapp", notice.Channel)
	assert.Contains(t, notice.Error, "bridge offline")
}

func TestHandleInbound_GeneratorFailureSendsApology(t *testing.T) {
	for name, responder := range map[string]stubResponder{
		"error": {err: errors.New("db down")},
		"panic": {panic: true},
	} {
		t.Run(name, func(t *testing.T) {
			sessions := session.NewStore()
			d := &fakeDispatcher{}
			e, err := New(Options{Sessions: sessions, Responder: responder, Dispatcher: d})
			require.NoError(t, err)
			defer e.Stop()

			e.HandleInbound(context.Background(), inbound("web", "u1", "квартира"))

			snap, err := sessions.Get("web_u1")
			require.NoError(t, err)
			require.Len(t, snap.Messages, 2)
			assert.Equal(t, "sorry:ru", snap.Messages[1].Text)
			require.Equal(t, 1, d.count())
			assert.Equal(t, "sorry:ru", d.sent[0].text)
		})
	}
}

func TestHandleInbound_PersistenceFailureDoesNotBlock(t *testing.T) {
	sessions := session.NewStore()
	d := &fakeDispatcher{}
	repo := failingRepo{store.NewMemoryRepository()}
	e, err := New(Options{
		Sessions:   sessions,
		Responder:  reply.NewGenerator(nil, repo),
		Dispatcher: d,
		Repo:       repo,
	})
	require.NoError(t, err)
	defer e.Stop()

	e.HandleInbound(context.Background(), inbound("web", "u1", "hello"))

	snap, err := sessions.Get("web_u1")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)
	assert.Equal(t, 1, d.count())
}

func TestHandleOperatorMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.HandleOperatorMessage(ctx, "web_ghost", "op-1", "hi")
	assert.ErrorIs(t, err, session.ErrNotFound)

	f.engine.HandleInbound(ctx, inbound("telegram", "42", "hello"))
	sentBefore := f.dispatch.count()

	err = f.engine.HandleOperatorMessage(ctx, "telegram_42", "op-1", "I am a human")
	assert.ErrorIs(t, err, session.ErrBotActive)
	assert.Equal(t, sentBefore, f.dispatch.count())

	f.engine.TakeOver("telegram_42", "op-1")
	require.NoError(t, f.engine.HandleOperatorMessage(ctx, "telegram_42", "op-1", "I am a human"))

	snap, err := f.sessions.Get("telegram_42")
	require.NoError(t, err)
	last, ok := snap.LastMessage()
	require.True(t, ok)
	assert.Equal(t, session.SenderOperator, last.Sender)
	assert.Equal(t, sent{"telegram", "42", "I am a human"}, f.dispatch.sent[len(f.dispatch.sent)-1])

	ev := f.notify.last()
	assert.Equal(t, console.TypeOperatorMessageSent, ev.Type)
	assert.Equal(t, "telegram_42", ev.Data.(console.SessionMessageData).SessionID)

	stored, err := f.repo.SessionMessages(ctx, "telegram_42")
	require.NoError(t, err)
	assert.Equal(t, session.SenderOperator, stored[len(stored)-1].Sender)
}

func TestHandleOperatorMessage_DispatchFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.HandleInbound(ctx, inbound("facebook", "psid", "hello"))
	f.engine.TakeOver("facebook_psid", "op-1")
	f.dispatch.err = errors.New("token expired")

	err := f.engine.HandleOperatorMessage(ctx, "facebook_psid", "op-1", "see you")
	var dErr *DispatchError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "facebook", dErr.Channel)
	assert.EqualError(t, errors.Unwrap(dErr), "token expired")

	snap, err := f.sessions.Get("facebook_psid")
	require.NoError(t, err)
	last, _ := snap.LastMessage()
	assert.Equal(t, "see you", last.Text)
	assert.Contains(t, f.notify.types(), console.TypeDispatchError)
}

func TestSubmitOperatorMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Submit(ctx, inbound("web", "u2", "hello")))
	f.engine.TakeOver("web_u2", "op-9")

	require.NoError(t, f.engine.SubmitOperatorMessage(ctx, "web_u2", "op-9", "hi from ops"))
	assert.ErrorIs(t, f.engine.SubmitOperatorMessage(ctx, "web_nobody", "op-9", "x"), session.ErrNotFound)
}

func TestEngine_SlowChannelDoesNotBlockOtherSessions(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.dispatch.block = map[string]chan struct{}{"slow": gate}
	defer close(gate)

	require.NoError(t, f.engine.Enqueue(inbound("web", "slow", "hello")))
	require.NoError(t, f.engine.Submit(context.Background(), inbound("web", "fast", "hello")))

	snap, err := f.sessions.Get("web_fast")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)
}

func TestEngine_RunKeepsServingPastBackloggedSession(t *testing.T) {
	lanes := lane.NewManager(lane.ManagerConfig{QueueSize: 2})
	defer lanes.Stop()
	sessions := session.NewStore()
	d := &fakeDispatcher{}
	gate := make(chan struct{})
	d.block = map[string]chan struct{}{"slow": gate}
	defer close(gate)

	e, err := New(Options{
		Sessions:   sessions,
		Responder:  reply.NewGenerator(nil, store.NewMemoryRepository()),
		Dispatcher: d,
		Lanes:      lanes,
	})
	require.NoError(t, err)

	mb := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, mb)

	for i := 0; i < 5; i++ {
		require.NoError(t, mb.PublishInbound(ctx, inbound("web", "slow", "hello")))
	}
	require.NoError(t, mb.PublishInbound(ctx, inbound("web", "fast", "hello")))

	assert.Eventually(t, func() bool {
		snap, err := sessions.Get("web_fast")
		return err == nil && len(snap.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	e.InjectMessage(ctx, "web", "slow", "still there?", nil)
	e.InjectMessage(ctx, "web", "other", "hello", nil)
	assert.Eventually(t, func() bool {
		snap, err := sessions.Get("web_other")
		return err == nil && len(snap.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_RunConsumesBus(t *testing.T) {
	f := newFixture(t)
	mb := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.engine.Run(ctx, mb)

	require.NoError(t, mb.PublishInbound(ctx, inbound("discord", "d1", "hello")))
	require.NoError(t, mb.PublishPost(ctx, bus.BroadcastPost{
		Channel:  "telegram",
		SourceID: "-100:5",
		Text:     "3 bedroom villa in El Gouna $99,000",
	}))

	assert.Eventually(t, func() bool {
		snap, err := f.sessions.Get("discord_d1")
		return err == nil && len(snap.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ceiling := 100000.0
	assert.Eventually(t, func() bool {
		found, err := f.repo.QueryListings(ctx, listing.Filter{PropertyType: listing.TypeVilla, PriceMax: &ceiling})
		return err == nil && len(found) == 1 && found[0].SourceMessageID == "-100:5"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_ConsoleHandler(t *testing.T) {
	lanes := lane.NewManager(lane.ManagerConfig{})
	defer lanes.Stop()
	sessions := session.NewStore()
	d := &fakeDispatcher{}
	notify := &recordingNotifier{}
	e, err := New(Options{
		Sessions:   sessions,
		Responder:  reply.NewGenerator(nil, store.NewMemoryRepository()),
		Dispatcher: d,
		Notify:     notify,
		Lanes:      lanes,
	})
	require.NoError(t, err)

	ctx := context.Background()
	e.InjectMessage(ctx, "web", "tester", "hello", map[string]any{"name": "QA"})
	assert.Eventually(t, func() bool { return len(e.Sessions()) == 1 && d.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "QA", e.Sessions()[0].UserInfo["name"])

	e.TakeOver("web_tester", "conn-1")
	e.SendOperatorMessage(ctx, "web_tester", "conn-1", "operator here")
	assert.Eventually(t, func() bool { return d.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	e.OperatorDisconnected("conn-1")
	snap, err := sessions.Get("web_tester")
	require.NoError(t, err)
	assert.True(t, snap.OperatorActive, "disconnect keeps the takeover")
	assert.Contains(t, notify.types(), console.TypeSessionTakenOver)
}
