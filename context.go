package botlink

import "sync"

// Reply is what a message listener returns to influence the automatic
// reply for the message being dispatched. Return nil to contribute
// nothing.
type Reply interface {
	isReply()
}

// Text contributes reply text immediately. It overwrites any reply set by
// an earlier listener and applies even if the context has been cancelled.
func Text(s string) Reply {
	return textReply{text: s}
}

// Async runs fn on its own goroutine and applies its result when it
// resolves, unless the context has been cancelled by then. The dispatch
// chain does not wait for fn before moving on to further listeners, but
// the automatic reply is only decided once every pending Async result is
// in.
func Async(fn func() string) Reply {
	return asyncReply{fn: fn}
}

type textReply struct{ text string }

type asyncReply struct{ fn func() string }

func (textReply) isReply()  {}
func (asyncReply) isReply() {}

// MessageContext is shared by every listener in one message dispatch
// chain. It carries the cancellation flag and the pending reply text.
type MessageContext struct {
	mu        sync.Mutex
	cancelled bool
	reply     string
	payload   *Payload
}

func newMessageContext(p *Payload) *MessageContext {
	return &MessageContext{payload: p}
}

// Cancel halts the chain: no further listener at this or any ancestor
// level will run. Cancelling does not retract a reply that is already
// set, and the cancelling listener may still attach one.
func (mc *MessageContext) Cancel() {
	mc.mu.Lock()
	mc.cancelled = true
	mc.mu.Unlock()
}

// Cancelled reports whether the chain has been cancelled.
func (mc *MessageContext) Cancelled() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cancelled
}

// SetReply replaces the pending reply text. Setting the empty string
// clears it, suppressing the automatic reply.
func (mc *MessageContext) SetReply(s string) {
	mc.mu.Lock()
	mc.reply = s
	mc.mu.Unlock()
}

// PendingReply returns the reply text as currently set.
func (mc *MessageContext) PendingReply() string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.reply
}

// applyIfLive records a deferred result unless cancellation already
// happened; late results are discarded, never applied.
func (mc *MessageContext) applyIfLive(s string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.cancelled {
		return
	}
	mc.reply = s
}
