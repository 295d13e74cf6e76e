package botlink

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler observes an event.
type Handler func(*Event)

// OnceHandler observes an event and reports whether it is done. Returning
// false keeps the listener armed for the next matching event.
type OnceHandler func(*Event) bool

// MessageHandler handles a message-family event. It shares the dispatch
// context with every other listener in the chain and may return a Reply
// to feed the automatic response.
type MessageHandler func(*MessageContext, *Event) Reply

// listenerMode is the retention mode of a registration. A one-shot
// listener that reports not-done is re-armed as retry-until-true.
type listenerMode int

const (
	modePersistent listenerMode = iota
	modeOnce
	modeRetry
)

// listener couples a callback with its registration path and retention
// mode. Exactly one of fn, once and message is set.
type listener struct {
	id   uint64
	path string
	mode listenerMode

	fn      Handler
	once    OnceHandler
	message MessageHandler

	builtin bool // the default error handler
}

// dispatcher owns the listener registry and runs all three dispatch
// protocols: exact-path, ancestor walk, and the message chain.
type dispatcher struct {
	logger *slog.Logger
	reply  func(*Payload, string)

	mu     sync.Mutex
	nextID uint64
	paths  map[string][]*listener
}

func newDispatcher(logger *slog.Logger, reply func(*Payload, string)) *dispatcher {
	d := &dispatcher{
		logger: logger,
		reply:  reply,
		paths:  make(map[string][]*listener),
	}
	d.mu.Lock()
	d.installDefaultLocked()
	d.mu.Unlock()
	return d
}

// installDefaultLocked registers the built-in error listener, which turns
// an otherwise unobserved error event into an unrecoverable fault.
func (d *dispatcher) installDefaultLocked() {
	d.nextID++
	d.paths[EventError] = append(d.paths[EventError], &listener{
		id:      d.nextID,
		path:    EventError,
		mode:    modePersistent,
		builtin: true,
		fn: func(ev *Event) {
			panic(fmt.Errorf("botlink: unhandled error event: %w", ev.Err))
		},
	})
}

// add registers a listener and returns a func removing exactly it. The
// first listener on the error path displaces the built-in handler.
func (d *dispatcher) add(l *listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.path == EventError {
		d.dropBuiltinLocked()
	}
	d.nextID++
	l.id = d.nextID
	d.paths[l.path] = append(d.paths[l.path], l)

	path, id := l.path, l.id
	return func() { d.remove(path, id) }
}

func (d *dispatcher) dropBuiltinLocked() {
	var kept []*listener
	for _, l := range d.paths[EventError] {
		if !l.builtin {
			kept = append(kept, l)
		}
	}
	d.setLocked(EventError, kept)
}

func (d *dispatcher) remove(path string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(path, id)
}

func (d *dispatcher) removeLocked(path string, id uint64) {
	entries := d.paths[path]
	for i, l := range entries {
		if l.id == id {
			d.setLocked(path, append(entries[:i], entries[i+1:]...))
			return
		}
	}
}

func (d *dispatcher) setLocked(path string, entries []*listener) {
	if len(entries) == 0 {
		delete(d.paths, path)
		return
	}
	d.paths[path] = entries
}

// off with no paths clears the whole registry and reinstates the default
// error handler. With paths it removes the user listeners at exactly
// those paths; the built-in handler is not a user listener and stays.
func (d *dispatcher) off(paths []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(paths) == 0 {
		d.paths = make(map[string][]*listener)
		d.installDefaultLocked()
		return
	}
	for _, p := range paths {
		var kept []*listener
		for _, l := range d.paths[p] {
			if l.builtin {
				kept = append(kept, l)
			}
		}
		d.setLocked(p, kept)
	}
}

// snapshot copies the current entries for a path so dispatch runs outside
// the lock. Listeners added mid-dispatch see only later events.
func (d *dispatcher) snapshot(path string) []*listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*listener(nil), d.paths[path]...)
}

// emitFlat delivers an event to the listeners registered at exactly its
// path, in registration order. Lifecycle and api events use this
// protocol; an event with no listeners is a no-op.
func (d *dispatcher) emitFlat(ev *Event) {
	for _, l := range d.snapshot(ev.Path) {
		d.fire(l, ev)
	}
}

// dispatchWalk delivers a non-message notification to its own path and
// then each ancestor, flat semantics at every level.
func (d *dispatcher) dispatchWalk(ev *Event) {
	for _, level := range ancestorPaths(ev.Path) {
		for _, l := range d.snapshot(level) {
			d.fire(l, ev)
		}
	}
}

// dispatchMessage runs the message chain: one shared context, most
// specific level first, cancellation checked before every invocation.
// When the chain is over and all deferred results are in, a pending
// reply is sent back to the source conversation exactly once.
func (d *dispatcher) dispatchMessage(ev *Event) {
	mc := newMessageContext(ev.Payload)
	var deferred sync.WaitGroup

	for _, level := range ancestorPaths(ev.Path) {
		if mc.Cancelled() {
			break
		}
		for _, l := range d.snapshot(level) {
			if mc.Cancelled() {
				break
			}
			d.fireInChain(l, ev, mc, &deferred)
		}
	}

	deferred.Wait()

	if text := mc.PendingReply(); text != "" && d.reply != nil {
		d.reply(ev.Payload, text)
	}
}

// fire invokes one listener outside any message chain. A message
// listener invoked here gets a throwaway context: there is no reply
// protocol outside the message family.
func (d *dispatcher) fire(l *listener, ev *Event) {
	switch {
	case l.message != nil:
		l.message(newMessageContext(ev.Payload), ev)
	case l.once != nil:
		d.settleOnce(l, l.once(ev))
	default:
		l.fn(ev)
	}
}

// fireInChain invokes one listener within a message chain, collecting
// reply contributions.
func (d *dispatcher) fireInChain(l *listener, ev *Event, mc *MessageContext, deferred *sync.WaitGroup) {
	switch {
	case l.message != nil:
		switch r := l.message(mc, ev).(type) {
		case nil:
		case textReply:
			mc.SetReply(r.text)
		case asyncReply:
			deferred.Add(1)
			go func() {
				defer deferred.Done()
				mc.applyIfLive(r.fn())
			}()
		}
	case l.once != nil:
		d.settleOnce(l, l.once(ev))
	default:
		l.fn(ev)
	}
}

// settleOnce applies one-shot retention: done removes the listener, not
// done re-arms it as retry-until-true.
func (d *dispatcher) settleOnce(l *listener, done bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if done {
		d.removeLocked(l.path, l.id)
		return
	}
	if l.mode == modeOnce {
		l.mode = modeRetry
		d.logger.Debug("one-shot listener re-armed", "path", l.path)
	}
}
