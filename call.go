package botlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codaki/botlink/internal/socket"
)

var errNoCommandSocket = errors.New("no live command socket")

// CallOption customizes a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	timeoutSet bool
	channel    Channel
}

// WithTimeout overrides the configured default timeout for one call.
// Zero waits indefinitely.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithChannel directs the call at a specific channel. Requests can only
// travel over the command channel; any other value fails the call
// immediately with an invalid-channel error.
func WithChannel(ch Channel) CallOption {
	return func(o *callOptions) { o.channel = ch }
}

type callResult struct {
	data json.RawMessage
	err  error
}

// correlator matches command responses to waiting callers by the echoed
// correlation id.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan callResult
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]chan callResult),
	}
}

// register allocates a correlation id and its result channel.
func (c *correlator) register() (string, chan callResult) {
	id := uuid.NewString()
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return id, ch
}

// take removes and returns the pending entry for id. The response path
// and the abandon path race for the entry; exactly one wins.
func (c *correlator) take(id string) (chan callResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch, ok
}

// abandon drops the pending entry for id, reporting whether it was still
// unclaimed.
func (c *correlator) abandon(id string) bool {
	_, ok := c.take(id)
	return ok
}

// Call sends a command over the command channel and blocks until the
// matching response, the timeout, or ctx cancellation. The returned
// payload is the response frame with the echo field stripped; business
// status fields are left to the caller to interpret.
func (b *Bot) Call(ctx context.Context, action string, params any, opts ...CallOption) (json.RawMessage, error) {
	co := callOptions{channel: ChannelCommand}
	for _, opt := range opts {
		opt(&co)
	}
	if co.channel != ChannelCommand {
		return nil, &Error{
			Kind:    KindInvalidChannel,
			Channel: co.channel,
			Err:     fmt.Errorf("requests travel over the %s channel", ChannelCommand),
		}
	}

	timeout := b.cfg.RequestTimeout
	if co.timeoutSet {
		timeout = co.timeout
	}

	sock := b.mgr.liveSocket(ChannelCommand)
	if sock == nil {
		return nil, &Error{
			Kind:    KindSocket,
			Channel: ChannelCommand,
			Action:  action,
			Err:     errNoCommandSocket,
		}
	}

	id, ch := b.calls.register()
	frame := commandFrame{Action: action, Params: params, Echo: echoData{CorrelationID: id}}
	data, err := json.Marshal(frame)
	if err != nil {
		b.calls.abandon(id)
		return nil, fmt.Errorf("marshal %s command: %w", action, err)
	}

	b.disp.emitFlat(&Event{Path: EventAPISendPre, Channel: ChannelCommand, Raw: data, Time: time.Now()})

	if err := sock.Send(data); err != nil {
		b.calls.abandon(id)
		return nil, &Error{Kind: KindSocket, Channel: ChannelCommand, Action: action, Err: err}
	}

	b.disp.emitFlat(&Event{Path: EventAPISendPost, Channel: ChannelCommand, Raw: data, Time: time.Now()})

	b.logger.Debug("command sent", "action", action, "correlation_id", id)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timeoutCh:
		if b.calls.abandon(id) {
			return nil, &Error{
				Kind:    KindTimeout,
				Channel: ChannelCommand,
				Action:  action,
				Timeout: timeout,
				Payload: data,
			}
		}
		// The response landed while the timer fired; deliver it.
		res := <-ch
		return res.data, res.err
	case <-ctx.Done():
		b.calls.abandon(id)
		return nil, ctx.Err()
	}
}

// handleResponseFrame processes one inbound command-channel frame: every
// observed frame emits api.response, matched frames additionally resolve
// their caller with the echo stripped, unmatched frames are dropped.
func (b *Bot) handleResponseFrame(msg socket.Message) {
	var env responseEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.emitError(&Error{Kind: KindBadPayload, Channel: ChannelCommand, Payload: msg.Data, Err: err})
		return
	}

	b.disp.emitFlat(&Event{Path: EventAPIResponse, Channel: ChannelCommand, Raw: msg.Data, Time: msg.ReceivedAt})

	if env.Echo == nil || env.Echo.CorrelationID == "" {
		b.logger.Debug("response without correlation id dropped")
		return
	}
	ch, ok := b.calls.take(env.Echo.CorrelationID)
	if !ok {
		b.logger.Debug("unmatched response dropped", "correlation_id", env.Echo.CorrelationID)
		return
	}
	ch <- callResult{data: stripEcho(msg.Data)}
}

// stripEcho removes the echo field from a response frame.
func stripEcho(raw []byte) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}
	delete(fields, "echo")
	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}
