// Package lifecycle normalizes the raw events of the three store links into
// one readiness signal and one error channel.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/rmacdonaldsmith/storemesh-go/internal/eventbus"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// Normalized events emitted on the coordinator's bus.
const (
	EventConnected    = "connected"
	EventReady        = "ready"
	EventDisconnected = "disconnected"
	// EventError carries a *LinkError as its only argument.
	EventError = "error"
)

// DefaultReadyTimeout is used when no readiness timeout is configured.
const DefaultReadyTimeout = 10 * time.Second

// Links is the set of connections owned by one instance.
type Links struct {
	Client     storelink.Link
	Publisher  storelink.Link
	Subscriber storelink.Link
}

// Each calls fn for every link, client first.
func (l Links) Each(fn func(storelink.Role, storelink.Link)) {
	fn(storelink.RoleClient, l.Client)
	fn(storelink.RolePublisher, l.Publisher)
	fn(storelink.RoleSubscriber, l.Subscriber)
}

// Coordinator drives the command-link state machine
// (initial -> connecting -> ready <-> disconnected/error) and the readiness
// gate. It is the only writer of that state.
type Coordinator struct {
	links   Links
	bus     *eventbus.Bus
	timeout time.Duration

	// newTimer is replaced in tests to observe timer usage.
	newTimer func(time.Duration) *time.Timer

	mu    sync.RWMutex
	state storelink.Status
}

// NewCoordinator wires handlers onto the links. It must be called before the
// links are opened.
func NewCoordinator(links Links, bus *eventbus.Bus, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	c := &Coordinator{
		links:    links,
		bus:      bus,
		timeout:  timeout,
		newTimer: time.NewTimer,
		state:    storelink.StatusInitial,
	}

	links.Client.On(storelink.EventConnect, func(error) {
		c.transition(storelink.StatusConnecting)
		c.bus.Emit(EventConnected)
	})
	links.Client.On(storelink.EventReady, func(error) {
		c.transition(storelink.StatusReady)
		c.bus.Emit(EventReady)
	})
	links.Client.On(storelink.EventDisconnect, func(error) {
		prev := c.transition(storelink.StatusDisconnected)
		// A link error already reported disconnected for this cycle.
		if prev == storelink.StatusError || prev == storelink.StatusDisconnected {
			return
		}
		c.bus.Emit(EventDisconnected)
	})

	links.Each(func(role storelink.Role, link storelink.Link) {
		link.On(storelink.EventError, c.linkFailed(role))
	})

	return c
}

// Start opens all three links.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.state == storelink.StatusInitial {
		c.state = storelink.StatusConnecting
	}
	c.mu.Unlock()

	c.links.Each(func(_ storelink.Role, link storelink.Link) {
		link.Open()
	})
}

func (c *Coordinator) linkFailed(role storelink.Role) storelink.EventHandler {
	return func(err error) {
		linkErr := &LinkError{Role: role, Err: err}
		glog.Warningf("[lifecycle] %v\n", linkErr)

		prev := c.transition(storelink.StatusError)
		c.bus.Emit(EventError, linkErr)
		// A drop reported by the client link, or an earlier error, already
		// emitted disconnected for this cycle.
		if prev != storelink.StatusDisconnected && prev != storelink.StatusError {
			c.bus.Emit(EventDisconnected)
		}

		if err := c.links.Client.Disconnect(true); err != nil {
			glog.Warningf("[lifecycle] forced disconnect of client link failed: %v\n", err)
		}
	}
}

func (c *Coordinator) transition(to storelink.Status) storelink.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = to
	if prev != to {
		glog.V(1).Infof("[lifecycle] client %s -> %s\n", prev, to)
	}
	return prev
}

// State returns the command-link state as last observed by the coordinator.
func (c *Coordinator) State() storelink.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Timeout returns the configured readiness timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// Target returns the connection target of the command link.
func (c *Coordinator) Target() string {
	return c.links.Client.Target()
}

// AwaitConnection returns nil once the command link is ready.
//
// If the link is already ready it returns immediately without arming a
// timer. Otherwise it waits for a ready event after which the link is still
// ready; if the readiness timeout elapses first it returns a
// *ConnectionTimeoutError. Callers must not retry on timeout: reconnecting
// is the link's job.
func (c *Coordinator) AwaitConnection(ctx context.Context) error {
	if c.links.Client.Status() == storelink.StatusReady {
		return nil
	}

	w := c.bus.Once(EventReady)
	defer func() { w.Cancel() }()

	// The waiter is registered before this second check so a ready event
	// racing the first check cannot be missed.
	if c.links.Client.Status() == storelink.StatusReady {
		return nil
	}

	timer := c.newTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-w.C():
			if !ok {
				return eventbus.ErrClosed
			}
			if c.links.Client.Status() == storelink.StatusReady {
				return nil
			}
			// A ready queued before the link dropped again. Keep waiting
			// for the next one on the same timer.
			glog.V(2).Infof("[lifecycle] stale ready for %s, still waiting\n", c.Target())
			w = c.bus.Once(EventReady)
			if c.links.Client.Status() == storelink.StatusReady {
				return nil
			}
		case <-timer.C:
			return &ConnectionTimeoutError{Target: c.Target(), Timeout: c.timeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
