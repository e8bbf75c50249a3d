// Package eventbus is a minimal named-event emitter.
//
// Handlers are registered synchronously with On. Emit queues an event and
// returns immediately; a single goroutine owned by the bus delivers queued
// events in emission order, so handlers of one bus never run concurrently.
// Once registers a one-shot waiter used for readiness synchronization.
package eventbus

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/golang/glog"
)

// ErrClosed is returned by Wait when the bus is closed before the event fires.
var ErrClosed = errors.New("event bus is closed")

// Handler receives the arguments passed to Emit.
type Handler func(args ...any)

type emission struct {
	name string
	args []any
}

// Bus delivers named events to registered handlers and waiters.
// It is safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	waiters  map[string]map[*Waiter]struct{}
	pending  []emission
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// New creates a bus and starts its delivery goroutine.
func New() *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		waiters:  make(map[string]map[*Waiter]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// On appends a handler for the named event.
func (b *Bus) On(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit queues an event for asynchronous delivery. Emitting on a closed bus
// is a no-op.
func (b *Bus) Emit(name string, args ...any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, emission{name: name, args: args})
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Once registers a one-shot waiter for the next occurrence of the named event.
// The caller must Cancel the waiter if it stops waiting before it fires.
func (b *Bus) Once(name string) *Waiter {
	w := &Waiter{bus: b, name: name, fired: make(chan []any, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(w.fired)
		return w
	}
	set, ok := b.waiters[name]
	if !ok {
		set = make(map[*Waiter]struct{})
		b.waiters[name] = set
	}
	set[w] = struct{}{}
	return w
}

// Wait blocks until the named event fires, the context ends or the bus closes.
func (b *Bus) Wait(ctx context.Context, name string) ([]any, error) {
	w := b.Once(name)
	defer w.Cancel()

	select {
	case args, ok := <-w.C():
		if !ok {
			return nil, ErrClosed
		}
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops delivery. Pending events are dropped and open waiters are released.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.pending = nil
	waiters := b.waiters
	b.waiters = make(map[string]map[*Waiter]struct{})
	b.mu.Unlock()

	for _, set := range waiters {
		for w := range set {
			close(w.fired)
		}
	}
	close(b.done)
}

func (b *Bus) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			e, handlers, waiters, ok := b.next()
			if !ok {
				break
			}
			for _, w := range waiters {
				w.fired <- e.args
			}
			for _, h := range handlers {
				b.invoke(e, h)
			}
		}
	}
}

func (b *Bus) next() (emission, []Handler, []*Waiter, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.pending) == 0 {
		return emission{}, nil, nil, false
	}
	e := b.pending[0]
	b.pending[0] = emission{}
	b.pending = b.pending[1:]

	handlers := append([]Handler(nil), b.handlers[e.name]...)

	var waiters []*Waiter
	if set, ok := b.waiters[e.name]; ok {
		waiters = make([]*Waiter, 0, len(set))
		for w := range set {
			waiters = append(waiters, w)
		}
		delete(b.waiters, e.name)
	}
	return e, handlers, waiters, true
}

func (b *Bus) invoke(e emission, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[eventbus] handler for %q panicked: %v\n%s", e.name, r, debug.Stack())
		}
	}()
	h(e.args...)
}

// Waiter is a one-shot registration created by Once.
type Waiter struct {
	bus   *Bus
	name  string
	fired chan []any
}

// C receives the event arguments once. It is closed without a value if the
// bus closes first.
func (w *Waiter) C() <-chan []any {
	return w.fired
}

// Cancel removes the waiter. It is safe to call more than once and after
// the waiter fired.
func (w *Waiter) Cancel() {
	w.bus.mu.Lock()
	defer w.bus.mu.Unlock()
	if set, ok := w.bus.waiters[w.name]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(w.bus.waiters, w.name)
		}
	}
}
