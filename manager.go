package botlink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codaki/botlink/internal/socket"
)

// Channel identifies one of the two gateway links.
type Channel string

const (
	// ChannelCommand carries outbound requests and their responses
	// (the /api endpoint).
	ChannelCommand Channel = "command"

	// ChannelEvent carries inbound notifications (the /event endpoint).
	ChannelEvent Channel = "event"
)

// Status is a channel's lifecycle state.
type Status string

const (
	StatusDisabled   Status = "disabled"
	StatusInit       Status = "init"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// channelState tracks one channel's lifecycle. The socket handle is
// non-nil exactly while status is connecting, connected or closing; the
// attempt count resets on every successful connect.
type channelState struct {
	kind         Channel
	status       Status
	attempts     int
	reconnecting bool
	retryDelay   time.Duration
	sock         socket.Conn
}

// managerHooks are the manager's upward wiring into the facade.
type managerHooks struct {
	emit  func(*Event)
	frame func(Channel, socket.Message)
	open  func(Channel)
}

// manager owns both channel state machines and their sockets. Listener
// code is never invoked while the manager lock is held.
type manager struct {
	cfg    Config
	logger *slog.Logger
	hooks  managerHooks

	mu    sync.Mutex
	chans []*channelState
	ready bool
}

func newManager(cfg Config, logger *slog.Logger, hooks managerHooks) *manager {
	command := &channelState{kind: ChannelCommand, status: StatusInit}
	if cfg.DisableCommand {
		command.status = StatusDisabled
	}
	event := &channelState{kind: ChannelEvent, status: StatusInit}
	if cfg.DisableEvent {
		event.status = StatusDisabled
	}

	return &manager{
		cfg:    cfg,
		logger: logger,
		hooks:  hooks,
		chans:  []*channelState{command, event},
	}
}

// resolve maps a channel selection onto states. An empty selection means
// every channel; an unknown channel name is caller misuse.
func (m *manager) resolve(chs []Channel) ([]*channelState, error) {
	if len(chs) == 0 {
		return m.chans, nil
	}
	var out []*channelState
	for _, ch := range chs {
		found := false
		for _, cs := range m.chans {
			if cs.kind == ch {
				out = append(out, cs)
				found = true
				break
			}
		}
		if !found {
			return nil, &Error{Kind: KindInvalidChannel, Channel: ch}
		}
	}
	return out, nil
}

// Connect starts the selected channels. Disabled channels and channels
// that are already live are skipped.
func (m *manager) Connect(chs ...Channel) error {
	targets, err := m.resolve(chs)
	if err != nil {
		return err
	}

	var events []*Event
	m.mu.Lock()
	for _, cs := range targets {
		if cs.status != StatusInit && cs.status != StatusClosed {
			continue
		}
		events = append(events, m.beginConnectLocked(cs)...)
	}
	m.mu.Unlock()

	m.emitAll(events)
	return nil
}

// beginConnectLocked moves a channel into connecting and starts the dial.
func (m *manager) beginConnectLocked(cs *channelState) []*Event {
	cs.status = StatusConnecting
	cs.attempts++

	scfg := socket.Config{
		URL:          m.cfg.endpoint(cs.kind),
		Dialer:       m.cfg.Dialer,
		PingInterval: m.cfg.PingInterval,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}
	if scfg.PingInterval < 0 {
		scfg.PingInterval = 0
	}

	sock := socket.New(scfg, m.logger.With("channel", string(cs.kind)))
	cs.sock = sock

	m.logger.Info("connecting", "channel", cs.kind, "attempt", cs.attempts)
	go m.dial(cs, sock)

	return []*Event{{Path: EventSocketConnecting, Channel: cs.kind, Attempt: cs.attempts, Time: time.Now()}}
}

func (m *manager) dial(cs *channelState, sock socket.Conn) {
	if err := sock.Connect(context.Background()); err != nil {
		m.connectFailed(cs, sock, err)
		return
	}
	m.connected(cs, sock)
}

// connected handles a successful open: state transition, events, and the
// watch goroutine that pumps the socket from here on.
func (m *manager) connected(cs *channelState, sock socket.Conn) {
	m.mu.Lock()
	if cs.sock != sock {
		m.mu.Unlock()
		sock.Close(websocket.CloseNormalClosure, "superseded")
		return
	}
	attempt := cs.attempts
	wasReconnecting := cs.reconnecting
	cs.status = StatusConnected
	cs.attempts = 0
	cs.reconnecting = false

	now := time.Now()
	events := []*Event{{Path: EventSocketConnect, Channel: cs.kind, Attempt: attempt, Time: now}}
	if wasReconnecting {
		events = append(events, &Event{Path: EventSocketReconnect, Channel: cs.kind, Time: now})
	}
	if ready := m.readyLocked(); ready && !m.ready {
		m.ready = true
		events = append(events, &Event{Path: EventReady, Time: now})
	}
	m.mu.Unlock()

	m.logger.Info("channel connected", "channel", cs.kind)

	go m.watch(cs, sock)
	m.emitAll(events)

	if m.hooks.open != nil {
		m.hooks.open(cs.kind)
	}
}

// connectFailed handles a dial error: back to closed, then either a
// scheduled retry or reconnect exhaustion.
func (m *manager) connectFailed(cs *channelState, sock socket.Conn, err error) {
	m.mu.Lock()
	if cs.sock != sock {
		m.mu.Unlock()
		return
	}
	cs.sock = nil
	cs.status = StatusClosed
	m.ready = m.readyLocked()
	attempt := cs.attempts

	now := time.Now()
	events := []*Event{
		{Path: EventSocketError, Channel: cs.kind, Err: err, Time: now},
		{Path: EventSocketFailed, Channel: cs.kind, Attempt: attempt, Err: err, Time: now},
	}

	retry := m.cfg.Reconnect.Enabled && attempt < m.cfg.Reconnect.MaxAttempts
	if retry {
		cs.reconnecting = true
		cs.retryDelay = m.cfg.Reconnect.Delay
	} else {
		cs.reconnecting = false
		events = append(events, &Event{Path: EventSocketMaxReconnect, Channel: cs.kind, Attempt: attempt, Time: now})
	}
	m.mu.Unlock()

	m.logger.Warn("connect failed", "channel", cs.kind, "attempt", attempt, "error", err)

	m.emitAll(events)
	if retry {
		m.scheduleConnect(cs, m.cfg.Reconnect.Delay)
	}
}

// scheduleConnect arms the delayed dial for a reconnecting channel. The
// reconnecting flag doubles as the cancellation token: clearing it via
// Disconnect aborts the pending attempt.
func (m *manager) scheduleConnect(cs *channelState, delay time.Duration) {
	time.AfterFunc(delay, func() {
		var events []*Event
		m.mu.Lock()
		if cs.reconnecting && (cs.status == StatusInit || cs.status == StatusClosed) {
			events = m.beginConnectLocked(cs)
		}
		m.mu.Unlock()
		m.emitAll(events)
	})
}

// watch pumps one socket's signals into the state machine until the
// close notification arrives. Buffered frames are drained before the
// close is processed so nothing received ahead of it is lost.
func (m *manager) watch(cs *channelState, sock socket.Conn) {
	for {
		select {
		case msg := <-sock.Messages():
			if m.hooks.frame != nil {
				m.hooks.frame(cs.kind, msg)
			}
		case err := <-sock.Errors():
			m.socketError(cs, sock, err)
		case info := <-sock.Closed():
			for {
				select {
				case msg := <-sock.Messages():
					if m.hooks.frame != nil {
						m.hooks.frame(cs.kind, msg)
					}
				default:
					m.socketClosed(cs, sock, info)
					return
				}
			}
		}
	}
}

// socketError handles a transport error. While connected it begins the
// closing transition; the close notification that follows completes it
// and drives any retry.
func (m *manager) socketError(cs *channelState, sock socket.Conn, err error) {
	m.mu.Lock()
	if cs.sock != sock {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	events := []*Event{{Path: EventSocketError, Channel: cs.kind, Err: err, Time: now}}
	if cs.status == StatusConnected {
		cs.status = StatusClosing
		events = append(events, &Event{Path: EventSocketClosing, Channel: cs.kind, Err: err, Time: now})
	}
	m.mu.Unlock()

	m.logger.Warn("socket error", "channel", cs.kind, "error", err)
	m.emitAll(events)
}

// socketClosed finishes a channel's teardown and decides whether a new
// attempt follows: an explicit reconnect waiting for this close, or an
// abnormal close with reconnection enabled.
func (m *manager) socketClosed(cs *channelState, sock socket.Conn, info socket.CloseInfo) {
	m.mu.Lock()
	if cs.sock != sock {
		m.mu.Unlock()
		return
	}
	cs.sock = nil
	cs.status = StatusClosed
	m.ready = m.readyLocked()

	now := time.Now()
	events := []*Event{{Path: EventSocketClose, Channel: cs.kind, Code: info.Code, Reason: info.Reason, Time: now}}

	var retry bool
	var delay time.Duration
	switch {
	case cs.reconnecting:
		retry = true
		delay = cs.retryDelay
	case !info.Normal() && m.cfg.Reconnect.Enabled:
		cs.reconnecting = true
		cs.retryDelay = m.cfg.Reconnect.Delay
		retry = true
		delay = m.cfg.Reconnect.Delay
		events = append(events, &Event{Path: EventSocketReconnecting, Channel: cs.kind, Time: now})
	}
	m.mu.Unlock()

	m.logger.Info("channel closed", "channel", cs.kind, "code", info.Code, "reason", info.Reason)

	m.emitAll(events)
	if retry {
		m.scheduleConnect(cs, delay)
	}
}

// Disconnect closes the selected channels with a normal closure. It also
// cancels any pending reconnection for them.
func (m *manager) Disconnect(chs ...Channel) error {
	targets, err := m.resolve(chs)
	if err != nil {
		return err
	}

	var events []*Event
	var closers []socket.Conn
	m.mu.Lock()
	for _, cs := range targets {
		cs.reconnecting = false
		switch cs.status {
		case StatusConnected:
			cs.status = StatusClosing
			closers = append(closers, cs.sock)
			events = append(events, &Event{Path: EventSocketClosing, Channel: cs.kind, Time: time.Now()})
		case StatusConnecting:
			// Orphan the in-flight dial; its completion finds the stale
			// socket handle and shuts the connection down.
			cs.sock = nil
			cs.status = StatusClosed
		}
	}
	m.mu.Unlock()

	m.emitAll(events)
	for _, sock := range closers {
		sock.Close(websocket.CloseNormalClosure, "")
	}
	return nil
}

// Reconnect cycles the selected channels. Connected channels close first
// and redial once the close lands plus delay; idle channels just dial
// after delay. Channels already mid-reconnect are left alone.
func (m *manager) Reconnect(delay time.Duration, chs ...Channel) error {
	targets, err := m.resolve(chs)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}

	var events []*Event
	var closers []socket.Conn
	var idle []*channelState

	m.mu.Lock()
	for _, cs := range targets {
		if cs.reconnecting {
			continue
		}
		switch cs.status {
		case StatusConnected:
			cs.reconnecting = true
			cs.retryDelay = delay
			cs.status = StatusClosing
			closers = append(closers, cs.sock)
			events = append(events,
				&Event{Path: EventSocketClosing, Channel: cs.kind, Time: time.Now()},
				&Event{Path: EventSocketReconnecting, Channel: cs.kind, Time: time.Now()})
		case StatusInit, StatusClosed:
			cs.reconnecting = true
			cs.retryDelay = delay
			idle = append(idle, cs)
			events = append(events, &Event{Path: EventSocketReconnecting, Channel: cs.kind, Time: time.Now()})
		}
	}
	m.mu.Unlock()

	m.emitAll(events)
	for _, sock := range closers {
		sock.Close(websocket.CloseNormalClosure, "reconnecting")
	}
	for _, cs := range idle {
		m.scheduleConnect(cs, delay)
	}
	return nil
}

// Ready reports whether every enabled channel is connected.
func (m *manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyLocked()
}

func (m *manager) readyLocked() bool {
	for _, cs := range m.chans {
		if cs.status != StatusDisabled && cs.status != StatusConnected {
			return false
		}
	}
	return true
}

// Status returns a channel's lifecycle state, or "" for unknown channels.
func (m *manager) Status(ch Channel) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.chans {
		if cs.kind == ch {
			return cs.status
		}
	}
	return ""
}

// Attempts returns a channel's attempt count for the current outage,
// zero once connected.
func (m *manager) Attempts(ch Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.chans {
		if cs.kind == ch {
			return cs.attempts
		}
	}
	return 0
}

// liveSocket returns the connected socket for a channel, nil when the
// channel is anything but connected.
func (m *manager) liveSocket(ch Channel) socket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.chans {
		if cs.kind == ch && cs.status == StatusConnected {
			return cs.sock
		}
	}
	return nil
}

func (m *manager) emitAll(events []*Event) {
	if m.hooks.emit == nil {
		return
	}
	for _, ev := range events {
		m.hooks.emit(ev)
	}
}
