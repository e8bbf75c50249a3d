// Package storemesh implements pkg/storemesh.Instance on top of the
// lifecycle coordinator, the pub/sub multiplexer and the key/value facade.
package storemesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/rmacdonaldsmith/storemesh-go/internal/eventbus"
	"github.com/rmacdonaldsmith/storemesh-go/internal/eventlog"
	"github.com/rmacdonaldsmith/storemesh-go/internal/kv"
	"github.com/rmacdonaldsmith/storemesh-go/internal/lifecycle"
	"github.com/rmacdonaldsmith/storemesh-go/internal/pubsub"
	eventlogpkg "github.com/rmacdonaldsmith/storemesh-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("instance is closed")

// Instance implements the storemesh.Instance interface.
// It owns its three links, the event bus, the subscription table and the
// lifecycle journal; nothing is shared with other instances.
type Instance struct {
	config *Config

	bus     *eventbus.Bus
	links   lifecycle.Links
	coord   *lifecycle.Coordinator
	mux     *pubsub.Multiplexer
	kv      *kv.Facade
	journal *eventlog.InMemoryJournal

	mu     sync.RWMutex
	closed bool
}

// New dials the command link, duplicates it into the publisher and
// subscriber links and opens all three. It does not wait for readiness.
func New(config *Config) (*Instance, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := config.Dialer.Dial(config.Link)
	if err != nil {
		return nil, fmt.Errorf("failed to create client link: %w", err)
	}
	publisher, err := client.Duplicate()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create publisher link: %w", err)
	}
	subscriber, err := client.Duplicate()
	if err != nil {
		client.Close()
		publisher.Close()
		return nil, fmt.Errorf("failed to create subscriber link: %w", err)
	}

	bus := eventbus.New()
	links := lifecycle.Links{Client: client, Publisher: publisher, Subscriber: subscriber}
	coord := lifecycle.NewCoordinator(links, bus, config.ReadyTimeout)

	inst := &Instance{
		config:  config,
		bus:     bus,
		links:   links,
		coord:   coord,
		mux:     pubsub.New(publisher, subscriber, coord, config.Codec),
		kv:      kv.New(client, coord, config.Codec),
		journal: eventlog.NewInMemoryJournal(config.JournalCapacity),
	}
	inst.recordLifecycle()

	glog.Infof("[storemesh] instance %s connecting to %s\n", config.ID, client.Target())
	coord.Start()
	return inst, nil
}

func (i *Instance) recordLifecycle() {
	record := func(source, event, detail string) {
		_, err := i.journal.Append(context.Background(), eventlogpkg.NewEntry(source, event, detail))
		if err != nil && !errors.Is(err, eventlog.ErrClosed) {
			glog.Warningf("[storemesh] failed to journal %s/%s: %v\n", source, event, err)
		}
	}

	client := storelink.RoleClient.String()
	for _, event := range []string{lifecycle.EventConnected, lifecycle.EventReady, lifecycle.EventDisconnected} {
		event := event
		i.bus.On(event, func(...any) { record(client, event, "") })
	}
	i.bus.On(lifecycle.EventError, func(args ...any) {
		source, detail := client, ""
		if len(args) > 0 {
			if linkErr, ok := args[0].(*lifecycle.LinkError); ok {
				source = linkErr.Role.String()
				detail = linkErr.Err.Error()
			}
		}
		record(source, lifecycle.EventError, detail)
	})
}

func (i *Instance) checkOpen() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	return nil
}

// ID returns the unique identifier of this instance.
func (i *Instance) ID() string {
	return i.config.ID
}

// AwaitConnection blocks until the command link is ready.
func (i *Instance) AwaitConnection(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	return i.coord.AwaitConnection(ctx)
}

// State returns the command-link state.
func (i *Instance) State() storelink.Status {
	return i.coord.State()
}

// On registers a handler for a normalized lifecycle event.
func (i *Instance) On(event string, handler func(args ...any)) {
	i.bus.On(event, handler)
}

// Get returns the value stored under key.
func (i *Instance) Get(ctx context.Context, key string) (string, bool, error) {
	if err := i.checkOpen(); err != nil {
		return "", false, err
	}
	return i.kv.Get(ctx, key)
}

// Set stores value under key.
func (i *Instance) Set(ctx context.Context, key, value string, expire time.Duration) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	return i.kv.Set(ctx, key, value, expire)
}

// Delete removes keys.
func (i *Instance) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}
	return i.kv.Delete(ctx, keys...)
}

// GetObject returns the JSON object stored under key.
func (i *Instance) GetObject(ctx context.Context, key string) (message.Object, bool, error) {
	if err := i.checkOpen(); err != nil {
		return nil, false, err
	}
	return i.kv.GetObject(ctx, key)
}

// SetObject stores value as JSON, optionally merged over the current object.
func (i *Instance) SetObject(ctx context.Context, key string, value message.Object, merge bool, expire time.Duration) (message.Object, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	return i.kv.SetObject(ctx, key, value, merge, expire)
}

// Listen registers fn for channel.
func (i *Instance) Listen(ctx context.Context, channel string, fn func(msg message.Payload)) (int64, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}
	return i.mux.Listen(ctx, channel, fn)
}

// Publish sends msg on channel.
func (i *Instance) Publish(ctx context.Context, channel string, msg any) (int64, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}
	return i.mux.Publish(ctx, channel, msg)
}

// Channels lists the channels with registered listeners.
func (i *Instance) Channels() []string {
	return i.mux.Channels()
}

// ListenerCount returns the number of listeners on channel.
func (i *Instance) ListenerCount(channel string) int {
	return i.mux.ListenerCount(channel)
}

// Events returns the most recent lifecycle events, oldest first.
func (i *Instance) Events(ctx context.Context, maxCount int) ([]*eventlogpkg.Entry, error) {
	return i.journal.Recent(ctx, maxCount)
}

// Journal returns the lifecycle journal.
func (i *Instance) Journal() eventlogpkg.Journal {
	return i.journal
}

// Health reports the instance's connection health.
func (i *Instance) Health(ctx context.Context) (storemesh.HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return storemesh.HealthStatus{}, err
	}

	state := i.coord.State()
	status := storemesh.HealthStatus{
		Healthy: state == storelink.StatusReady,
		State:   state,
		Target:  i.coord.Target(),
		Links: map[storelink.Role]storelink.Status{
			storelink.RoleClient:     i.links.Client.Status(),
			storelink.RolePublisher:  i.links.Publisher.Status(),
			storelink.RoleSubscriber: i.links.Subscriber.Status(),
		},
	}

	for _, ch := range i.mux.Channels() {
		status.Channels++
		status.Listeners += i.mux.ListenerCount(ch)
	}

	switch {
	case i.checkOpen() != nil:
		status.Healthy = false
		status.Message = "instance is closed"
	case status.Healthy:
		status.Message = "ready"
	default:
		status.Message = fmt.Sprintf("command link is %s", state)
	}
	return status, nil
}

// Close force-disconnects all three links and stops event delivery.
// It is safe to call more than once.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	var errs []error
	i.links.Each(func(role storelink.Role, link storelink.Link) {
		if err := link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s link: %w", role, err))
		}
	})
	i.bus.Close()
	i.journal.Close()

	glog.Infof("[storemesh] instance %s closed\n", i.config.ID)
	return errors.Join(errs...)
}

var _ storemesh.Instance = (*Instance)(nil)
