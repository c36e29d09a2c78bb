// Package router is the conversation engine. It records every inbound
// message in its session, lets the bot answer while no operator holds the
// session, relays operator replies, and keeps the consoles informed.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dayuer/estatedesk/internal/bus"
	"github.com/dayuer/estatedesk/internal/console"
	"github.com/dayuer/estatedesk/internal/handoff"
	"github.com/dayuer/estatedesk/internal/intent"
	"github.com/dayuer/estatedesk/internal/lane"
	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/store"
)

// Dispatcher delivers a reply to a user on a channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, userID, text string) error
}

// Responder produces bot replies.
type Responder interface {
	Generate(ctx context.Context, in intent.Intent, text string) (string, error)
	Apology(lang string) string
}

// Notifier fans events out to operator consoles. Broadcast must not block.
type Notifier interface {
	Broadcast(ev console.Event)
}

// PostIndexer stores listings parsed from broadcast posts.
type PostIndexer interface {
	Index(ctx context.Context, sourceMessageID, text string) (listing.Listing, error)
}

// DispatchError reports a reply the channel adapter failed to deliver.
type DispatchError struct {
	Channel string
	UserID  string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s user %s: %v", e.Channel, e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Options wires an Engine. Sessions, Responder and Dispatcher are required.
type Options struct {
	Sessions   *session.Store
	Handoff    *handoff.Machine // defaults to a machine over Sessions
	Responder  Responder
	Dispatcher Dispatcher
	Repo       store.Repository // optional; persistence is best-effort
	Notify     Notifier         // optional
	Indexer    PostIndexer      // optional; posts are dropped without one
	Lanes      *lane.Manager    // defaults to a private manager
}

// Engine routes conversations between users, the bot and operators.
type Engine struct {
	sessions   *session.Store
	handoff    *handoff.Machine
	responder  Responder
	dispatcher Dispatcher
	repo       store.Repository
	notify     Notifier
	indexer    PostIndexer
	lanes      *lane.Manager
	ownLanes   bool
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Sessions == nil {
		return nil, errors.New("router: session store is required")
	}
	if opts.Responder == nil {
		return nil, errors.New("router: responder is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("router: dispatcher is required")
	}

	e := &Engine{
		sessions:   opts.Sessions,
		handoff:    opts.Handoff,
		responder:  opts.Responder,
		dispatcher: opts.Dispatcher,
		repo:       opts.Repo,
		notify:     opts.Notify,
		indexer:    opts.Indexer,
		lanes:      opts.Lanes,
	}
	if e.handoff == nil {
		e.handoff = handoff.New(opts.Sessions, opts.Notify)
	}
	if e.lanes == nil {
		e.lanes = lane.NewManager(lane.ManagerConfig{})
		e.ownLanes = true
	}
	return e, nil
}

// Stop waits for queued work when the engine owns its lanes.
func (e *Engine) Stop() {
	if e.ownLanes {
		e.lanes.Stop()
	}
}

// HandleInbound processes one user message synchronously.
func (e *Engine) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	snap, created := e.sessions.GetOrCreate(msg.Channel, msg.UserID, msg.UserInfo)
	if created {
		log.Printf("[Router] New session %s", snap.ID)
	}

	userMsg, operatorActive, err := e.sessions.Append(snap.ID, session.SenderUser, msg.Text)
	if err != nil {
		log.Printf("[Router] ❌ Append to %s: %v", snap.ID, err)
		return
	}
	if snap, err = e.sessions.Get(snap.ID); err == nil {
		e.persistSession(ctx, snap)
	}
	e.persistMessage(ctx, snap.ID, userMsg)

	if operatorActive {
		log.Printf("[Router] Session %s is with an operator, no auto-reply", snap.ID)
	} else {
		e.botReply(ctx, snap, msg.Text)
	}

	if latest, err := e.sessions.Get(snap.ID); err == nil {
		snap = latest
	}
	e.broadcast(console.NewMessage(snap, userMsg))
}

func (e *Engine) botReply(ctx context.Context, snap session.Snapshot, text string) {
	in, reply := e.answer(ctx, text)
	if reply == "" {
		reply = e.responder.Apology(in.Language)
	}

	e.dispatch(ctx, snap, reply)

	botMsg, _, err := e.sessions.Append(snap.ID, session.SenderBot, reply)
	if err != nil {
		log.Printf("[Router] ❌ Append bot reply to %s: %v", snap.ID, err)
		return
	}
	e.persistMessage(ctx, snap.ID, botMsg)
	e.broadcast(console.BotMessageSent(snap.ID, botMsg))
}

// answer classifies text and generates the reply. Failures and panics leave
// reply empty so the caller falls back to the apology.
func (e *Engine) answer(ctx context.Context, text string) (in intent.Intent, reply string) {
	in.Language = intent.DefaultLanguage
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Router] ⚠️ Reply generation panicked: %v", r)
			reply = ""
		}
	}()

	in = intent.Classify(text)
	out, err := e.responder.Generate(ctx, in, text)
	if err != nil {
		log.Printf("[Router] ⚠️ Reply generation failed: %v", err)
		return in, ""
	}
	return in, strings.TrimSpace(out)
}

// HandleOperatorMessage relays an operator reply. It is a logged no-op
// returning session.ErrNotFound or session.ErrBotActive when the session is
// missing or not under operator control. Delivery failures are returned as
// *DispatchError after the message has been recorded.
func (e *Engine) HandleOperatorMessage(ctx context.Context, sessionID, operatorID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	snap, err := e.sessions.Get(sessionID)
	if err != nil {
		log.Printf("[Router] Operator %s message to %s ignored: %v", operatorID, sessionID, err)
		return err
	}
	msg, err := e.sessions.AppendOperator(sessionID, text)
	if err != nil {
		log.Printf("[Router] Operator %s message to %s ignored: %v", operatorID, sessionID, err)
		return err
	}

	dispatchErr := e.dispatch(ctx, snap, text)
	e.persistMessage(ctx, sessionID, msg)
	e.broadcast(console.OperatorMessageSent(sessionID, msg))
	return dispatchErr
}

func (e *Engine) dispatch(ctx context.Context, snap session.Snapshot, text string) error {
	err := e.dispatcher.Dispatch(ctx, snap.Channel, snap.UserID, text)
	if err == nil {
		return nil
	}
	dErr := &DispatchError{Channel: snap.Channel, UserID: snap.UserID, Err: err}
	log.Printf("[Router] ❌ %v", dErr)
	e.broadcast(console.DispatchError(snap.ID, snap.Channel, dErr))
	return dErr
}

func (e *Engine) persistSession(ctx context.Context, snap session.Snapshot) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveSession(ctx, store.RecordFromSnapshot(snap)); err != nil {
		log.Printf("[Router] ⚠️ %v", err)
	}
}

func (e *Engine) persistMessage(ctx context.Context, sessionID string, msg session.Message) {
	if e.repo == nil {
		return
	}
	if _, err := e.repo.SaveMessage(ctx, sessionID, msg); err != nil {
		log.Printf("[Router] ⚠️ %v", err)
	}
}

func (e *Engine) broadcast(ev console.Event) {
	if e.notify != nil {
		e.notify.Broadcast(ev)
	}
}

// Enqueue queues msg on its session's lane without waiting.
func (e *Engine) Enqueue(msg bus.InboundMessage) error {
	return e.lanes.Enqueue(msg.SessionKey(), func(ctx context.Context) {
		e.HandleInbound(ctx, msg)
	})
}

// Submit runs msg on its session's lane and waits for it.
func (e *Engine) Submit(ctx context.Context, msg bus.InboundMessage) error {
	return e.lanes.Submit(ctx, msg.SessionKey(), func(laneCtx context.Context) {
		e.HandleInbound(laneCtx, msg)
	})
}

// SubmitOperatorMessage runs an operator reply on the session's lane and
// waits for it.
func (e *Engine) SubmitOperatorMessage(ctx context.Context, sessionID, operatorID, text string) error {
	var result error
	err := e.lanes.Submit(ctx, sessionID, func(laneCtx context.Context) {
		result = e.HandleOperatorMessage(laneCtx, sessionID, operatorID, text)
	})
	if err != nil {
		return err
	}
	return result
}

// Run consumes the bus until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, mb *bus.MessageBus) {
	log.Println("[Router] Engine started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[Router] Engine stopped")
			return
		case msg := <-mb.Inbound:
			if err := e.Enqueue(msg); err != nil {
				log.Printf("[Router] ⚠️ Drop message for %s: %v", msg.SessionKey(), err)
			}
		case post := <-mb.Posts:
			e.enqueuePost(post)
		}
	}
}

func (e *Engine) enqueuePost(post bus.BroadcastPost) {
	if e.indexer == nil {
		log.Printf("[Router] No listing indexer, post %s dropped", post.SourceID)
		return
	}
	err := e.lanes.Enqueue("post_"+post.SourceID, func(ctx context.Context) {
		if _, err := e.indexer.Index(ctx, post.SourceID, post.Text); err != nil {
			log.Printf("[Router] ⚠️ %v", err)
		}
	})
	if err != nil {
		log.Printf("[Router] ⚠️ Drop post %s: %v", post.SourceID, err)
	}
}

// --- console.Handler ---

// Sessions returns every session in creation order.
func (e *Engine) Sessions() []session.Snapshot {
	return e.sessions.List()
}

// InjectMessage queues a console test message as if a user had sent it.
func (e *Engine) InjectMessage(_ context.Context, channel, userID, text string, userInfo map[string]any) {
	msg := bus.InboundMessage{Channel: channel, UserID: userID, Text: text, UserInfo: userInfo}
	if err := e.Enqueue(msg); err != nil {
		log.Printf("[Router] ⚠️ Drop injected message for %s: %v", msg.SessionKey(), err)
	}
}

// TakeOver hands a session to an operator.
func (e *Engine) TakeOver(sessionID, operatorID string) {
	e.handoff.TakeOver(sessionID, operatorID)
}

// ReturnToBot gives a session back to the bot.
func (e *Engine) ReturnToBot(sessionID string) {
	e.handoff.ReturnToBot(sessionID)
}

// SendOperatorMessage queues an operator reply on the session's lane.
func (e *Engine) SendOperatorMessage(_ context.Context, sessionID, operatorID, text string) {
	err := e.lanes.Enqueue(sessionID, func(ctx context.Context) {
		e.HandleOperatorMessage(ctx, sessionID, operatorID, text)
	})
	if err != nil {
		log.Printf("[Router] ⚠️ Drop operator message for %s: %v", sessionID, err)
	}
}

// OperatorDisconnected is called when a console connection closes.
func (e *Engine) OperatorDisconnected(operatorID string) {
	e.handoff.ReleaseOperator(operatorID)
}
