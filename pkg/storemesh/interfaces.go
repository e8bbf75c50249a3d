package storemesh

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// Instance is one coordinated set of store links.
// All methods are safe for concurrent use.
type Instance interface {
	io.Closer

	// ID returns the unique identifier of this instance.
	ID() string

	// AwaitConnection blocks until the command link is ready or the
	// readiness timeout elapses.
	AwaitConnection(ctx context.Context) error

	// State returns the command-link state.
	State() storelink.Status

	// On registers a handler for a normalized lifecycle event
	// ("connected", "ready", "disconnected", "error").
	On(event string, handler func(args ...any))

	// Get returns the value stored under key; found is false for a missing key.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key. A positive expire sets a time to live.
	Set(ctx context.Context, key, value string, expire time.Duration) error

	// Delete removes one or more keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// GetObject returns the JSON object stored under key.
	// Missing keys and values that are not JSON objects are not found.
	GetObject(ctx context.Context, key string) (message.Object, bool, error)

	// SetObject stores value as JSON, optionally shallow-merged over the
	// object already stored, and returns what was stored.
	SetObject(ctx context.Context, key string, value message.Object, merge bool, expire time.Duration) (message.Object, error)

	// Listen registers fn for channel and subscribes to it.
	// It returns the subscription count acknowledged by the store.
	Listen(ctx context.Context, channel string, fn func(msg message.Payload)) (int64, error)

	// Publish sends a string, message.Payload or object-like value on channel
	// and returns the number of receivers.
	Publish(ctx context.Context, channel string, msg any) (int64, error)

	// Channels lists the channels with registered listeners.
	Channels() []string

	// ListenerCount returns the number of listeners registered on channel.
	ListenerCount(channel string) int

	// Events returns up to maxCount of the most recent lifecycle events.
	Events(ctx context.Context, maxCount int) ([]*eventlog.Entry, error)

	// Health reports the instance's connection health.
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the connection health of an instance
type HealthStatus struct {
	// Healthy indicates the command link is ready
	Healthy bool

	// State is the command-link state
	State storelink.Status

	// Target is the connection target without credentials
	Target string

	// Links holds the status of each link by role
	Links map[storelink.Role]storelink.Status

	// Channels is the number of channels with listeners
	Channels int

	// Listeners is the total number of registered listeners
	Listeners int

	// Message provides additional health information
	Message string
}
