package botlink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codaki/botlink/internal/socket"
)

// internalTimeout bounds the commands the library issues on its own
// behalf (identity lookup, automatic replies).
const internalTimeout = 10 * time.Second

// Bot is the facade over the connection manager, the request correlator
// and the event dispatcher. A Bot is safe for concurrent use; listeners
// run on library goroutines and must not assume any goroutine affinity.
type Bot struct {
	cfg    Config
	logger *slog.Logger

	mgr   *manager
	disp  *dispatcher
	calls *correlator

	selfID atomic.Int64
}

// Option customizes a Bot beyond its Config.
type Option func(*Bot)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

// New builds a Bot from cfg. Unset config fields get defaults; see
// DefaultConfig for the baseline of a local reconnecting setup.
func New(cfg Config, opts ...Option) (*Bot, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bot{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	b.selfID.Store(cfg.SelfID)
	b.calls = newCorrelator()
	b.disp = newDispatcher(b.logger, b.autoReply)
	b.mgr = newManager(cfg, b.logger, managerHooks{
		emit:  b.disp.emitFlat,
		frame: b.handleFrame,
		open:  b.channelOpened,
	})
	return b, nil
}

// Connect starts the given channels, or every enabled channel when none
// are named. Connecting is asynchronous: watch the ready event or poll
// Ready.
func (b *Bot) Connect(chs ...Channel) error {
	return b.mgr.Connect(chs...)
}

// Disconnect closes the given channels (all when none are named) with a
// normal closure and cancels any pending reconnection for them.
func (b *Bot) Disconnect(chs ...Channel) error {
	return b.mgr.Disconnect(chs...)
}

// Reconnect cycles the given channels after delay. Connected channels
// close first and redial once the close is observed.
func (b *Bot) Reconnect(delay time.Duration, chs ...Channel) error {
	return b.mgr.Reconnect(delay, chs...)
}

// Ready reports whether every enabled channel is connected.
func (b *Bot) Ready() bool {
	return b.mgr.Ready()
}

// Status returns the lifecycle state of one channel, or "" for an
// unknown channel.
func (b *Bot) Status(ch Channel) Status {
	return b.mgr.Status(ch)
}

// Attempts returns a channel's connection attempt count for the current
// outage, zero once connected.
func (b *Bot) Attempts(ch Channel) int {
	return b.mgr.Attempts(ch)
}

// SelfID returns the bot's own account id, zero while unresolved.
func (b *Bot) SelfID() int64 {
	return b.selfID.Load()
}

// On registers a persistent listener for an event path. The returned
// function unregisters exactly this listener.
func (b *Bot) On(path string, fn Handler) func() {
	return b.disp.add(&listener{path: path, mode: modePersistent, fn: fn})
}

// Once registers a one-shot listener: removed after its first invocation
// unless it returns false, which keeps it armed until it returns true.
func (b *Bot) Once(path string, fn OnceHandler) func() {
	return b.disp.add(&listener{path: path, mode: modeOnce, once: fn})
}

// OnMessage registers a message listener. Within the message family it
// shares the dispatch context with the rest of the chain and may return
// a Reply; on any other path it still fires, but with a context of its
// own and nowhere for replies to go.
func (b *Bot) OnMessage(path string, fn MessageHandler) func() {
	return b.disp.add(&listener{path: path, mode: modePersistent, message: fn})
}

// Off unregisters listeners. With paths it clears the user listeners at
// exactly those paths; with no arguments it clears everything and
// reinstates the default error handler.
func (b *Bot) Off(paths ...string) {
	b.disp.off(paths)
}

// handleFrame routes one inbound frame by channel. Notifications get a
// goroutine each, so chains for different messages interleave freely.
func (b *Bot) handleFrame(ch Channel, msg socket.Message) {
	switch ch {
	case ChannelCommand:
		b.handleResponseFrame(msg)
	case ChannelEvent:
		go b.dispatchNotification(msg)
	}
}

// dispatchNotification decodes and classifies one notification, then
// runs the matching dispatch protocol.
func (b *Bot) dispatchNotification(msg socket.Message) {
	var p Payload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		b.emitError(&Error{Kind: KindBadPayload, Channel: ChannelEvent, Payload: msg.Data, Err: err})
		return
	}

	path, cerr := classify(&p, b.selfID.Load())
	if cerr != nil {
		cerr.Channel = ChannelEvent
		cerr.Payload = msg.Data
		b.emitError(cerr)
		return
	}

	ev := &Event{
		Path:    path,
		Channel: ChannelEvent,
		Payload: &p,
		Raw:     msg.Data,
		Time:    msg.ReceivedAt,
	}

	b.logger.Debug("notification", "path", path)

	if p.PostType == "message" {
		b.disp.dispatchMessage(ev)
	} else {
		b.disp.dispatchWalk(ev)
	}
}

// emitError surfaces a library fault as an error event. With no error
// listener registered this reaches the default handler, which panics.
func (b *Bot) emitError(e *Error) {
	b.logger.Warn("error event", "kind", e.Kind, "channel", e.Channel, "error", e)
	b.disp.emitFlat(&Event{Path: EventError, Channel: e.Channel, Err: e, Time: time.Now()})
}

// channelOpened runs when a channel reaches connected. A fresh command
// channel triggers identity resolution when SelfID is still unknown.
func (b *Bot) channelOpened(ch Channel) {
	if ch != ChannelCommand || b.selfID.Load() != 0 {
		return
	}
	go b.resolveIdentity()
}

// resolveIdentity asks the gateway for the bot's own account id. Failure
// surfaces as an error event; readiness is unaffected either way.
func (b *Bot) resolveIdentity() {
	ctx, cancel := context.WithTimeout(context.Background(), internalTimeout)
	defer cancel()

	data, err := b.Call(ctx, "get_login_info", nil, WithTimeout(internalTimeout))
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = &Error{Kind: KindSocket, Channel: ChannelCommand, Err: err}
		}
		b.emitError(e)
		return
	}

	var body responseBody
	var info loginInfo
	if jerr := json.Unmarshal(data, &body); jerr == nil && len(body.Data) > 0 {
		json.Unmarshal(body.Data, &info)
	}
	if info.UserID == 0 {
		b.emitError(&Error{
			Kind:    KindBadPayload,
			Channel: ChannelCommand,
			Payload: data,
			Err:     errors.New("get_login_info response carries no user_id"),
		})
		return
	}

	b.selfID.Store(info.UserID)
	b.logger.Info("resolved own identity", "user_id", info.UserID)
}

// autoReply issues the single send_msg for a finished message chain,
// addressed at the conversation the message came from.
func (b *Bot) autoReply(p *Payload, text string) {
	params := sendMessageParams{MessageType: p.MessageType, Message: text}
	switch p.MessageType {
	case "private":
		params.UserID = p.UserID
	case "group":
		params.GroupID = p.GroupID
	case "discuss":
		params.DiscussID = p.DiscussID
	}

	if _, err := b.Call(context.Background(), "send_msg", params, WithTimeout(internalTimeout)); err != nil {
		b.logger.Warn("auto-reply failed", "message_type", p.MessageType, "error", err)
	}
}
