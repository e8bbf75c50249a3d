package storelink

import (
	"context"
	"io"
	"time"
)

// Status represents the connection state of a single link
type Status int

const (
	StatusInitial Status = iota
	StatusConnecting
	StatusReady
	StatusError
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Role identifies which of the three links of an instance a link plays
type Role int

const (
	RoleClient Role = iota
	RolePublisher
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// Event names a raw lifecycle event reported by a link
type Event string

const (
	EventConnect    Event = "connect"
	EventReady      Event = "ready"
	EventDisconnect Event = "disconnect"
	EventError      Event = "error"
)

// EventHandler receives a raw lifecycle event. err is only set for EventError.
type EventHandler func(err error)

// MessageHandler receives a message delivered on a subscribed channel.
type MessageHandler func(channel, payload string)

// Link is one connection to the remote store.
//
// Lifecycle events and inbound messages are delivered asynchronously and in
// order on a goroutine owned by the link. Handlers must be registered before
// Open is called to observe the first connect/ready pair.
type Link interface {
	io.Closer

	// Target describes the connection target (host:port/db or the URL).
	Target() string

	// Status returns the current connection state.
	Status() Status

	// On registers a handler for a raw lifecycle event.
	On(event Event, handler EventHandler)

	// OnMessage registers a handler for inbound pub/sub messages.
	OnMessage(handler MessageHandler)

	// Open starts connecting. Calling Open more than once has no effect.
	Open()

	// Duplicate creates a new, unopened link with the same target configuration.
	Duplicate() (Link, error)

	// Disconnect drops the connection. A forced disconnect is terminal;
	// otherwise the link reconnects on its own.
	Disconnect(force bool) error

	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Publish returns the number of subscribers that received the payload.
	Publish(ctx context.Context, channel, payload string) (int64, error)

	// Subscribe returns the number of channels this link is subscribed to.
	Subscribe(ctx context.Context, channel string) (int64, error)
}

// Dialer creates unopened links for a connection target.
type Dialer interface {
	Dial(opts Options) (Link, error)
}
