package routingtable

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/routingtable"
)

var (
	// ErrEmptyChannel is returned when a channel name is empty
	ErrEmptyChannel = errors.New("channel cannot be empty")
	// ErrNilSubscriber is returned when a nil subscriber is provided
	ErrNilSubscriber = errors.New("subscriber cannot be nil")
	// ErrEmptySubscriberID is returned when a subscriber ID is empty
	ErrEmptySubscriberID = errors.New("subscriber ID cannot be empty")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("routing table is closed")
)

// InMemoryRoutingTable implements routingtable.RoutingTable with a map of
// ordered subscriber lists. It is safe for concurrent use.
type InMemoryRoutingTable struct {
	mu       sync.RWMutex
	channels map[string][]routingtable.Subscriber // channel -> subscribers in attach order
	refs     map[string]int                       // subscriber ID -> number of channels
	closed   bool
}

// NewInMemoryRoutingTable creates an empty routing table.
func NewInMemoryRoutingTable() *InMemoryRoutingTable {
	return &InMemoryRoutingTable{
		channels: make(map[string][]routingtable.Subscriber),
		refs:     make(map[string]int),
	}
}

// Subscribe attaches subscriber to channel.
func (rt *InMemoryRoutingTable) Subscribe(ctx context.Context, channel string, subscriber routingtable.Subscriber) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if subscriber == nil {
		return ErrNilSubscriber
	}
	if subscriber.ID() == "" {
		return ErrEmptySubscriberID
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return ErrClosed
	}

	for _, s := range rt.channels[channel] {
		if s.ID() == subscriber.ID() {
			return nil
		}
	}
	rt.channels[channel] = append(rt.channels[channel], subscriber)
	rt.refs[subscriber.ID()]++
	return nil
}

// Unsubscribe detaches the subscriber with subscriberID from channel.
// Detaching an unknown subscriber is a no-op.
func (rt *InMemoryRoutingTable) Unsubscribe(ctx context.Context, channel string, subscriberID string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if subscriberID == "" {
		return ErrEmptySubscriberID
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return ErrClosed
	}

	subs := rt.channels[channel]
	for i, s := range subs {
		if s.ID() != subscriberID {
			continue
		}
		// Copy so slices handed out by GetSubscribers stay intact.
		remaining := make([]routingtable.Subscriber, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		if len(remaining) == 0 {
			delete(rt.channels, channel)
		} else {
			rt.channels[channel] = remaining
		}

		rt.refs[subscriberID]--
		if rt.refs[subscriberID] <= 0 {
			delete(rt.refs, subscriberID)
		}
		return nil
	}
	return nil
}

// GetSubscribers returns a snapshot of channel's subscribers.
func (rt *InMemoryRoutingTable) GetSubscribers(ctx context.Context, channel string) ([]routingtable.Subscriber, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return nil, ErrClosed
	}
	return append([]routingtable.Subscriber(nil), rt.channels[channel]...), nil
}

// GetAllSubscriptions returns every channel/subscriber pair.
func (rt *InMemoryRoutingTable) GetAllSubscriptions(ctx context.Context) ([]routingtable.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return nil, ErrClosed
	}

	var subs []routingtable.Subscription
	for channel, subscribers := range rt.channels {
		for _, s := range subscribers {
			subs = append(subs, routingtable.Subscription{Channel: channel, Subscriber: s})
		}
	}
	return subs, nil
}

// GetChannelCount returns the number of channels with subscribers.
func (rt *InMemoryRoutingTable) GetChannelCount(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return 0, ErrClosed
	}
	return len(rt.channels), nil
}

// GetSubscriberCount returns the number of distinct subscribers.
func (rt *InMemoryRoutingTable) GetSubscriberCount(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return 0, ErrClosed
	}
	return len(rt.refs), nil
}

// Close drops all subscriptions.
func (rt *InMemoryRoutingTable) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil
	}
	rt.channels = make(map[string][]routingtable.Subscriber)
	rt.refs = make(map[string]int)
	rt.closed = true
	return nil
}

var _ routingtable.RoutingTable = (*InMemoryRoutingTable)(nil)
