// Package pubsub fans inbound channel messages out to every listener
// registered on this instance.
package pubsub

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/rmacdonaldsmith/storemesh-go/internal/codec"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storelink"
)

// Listener receives each message delivered on the channel it was registered for.
type Listener func(msg message.Payload)

// Gate blocks until the command link is ready.
type Gate interface {
	AwaitConnection(ctx context.Context) error
}

// Multiplexer owns the channel subscription table of one instance.
// Registrations are append-only: there is no dedup and no removal.
type Multiplexer struct {
	publisher  storelink.Link
	subscriber storelink.Link
	gate       Gate
	codec      codec.Codec

	mu    sync.RWMutex
	table map[string][]Listener
}

// New creates a multiplexer and attaches it to the subscriber link's inbound
// message stream.
func New(publisher, subscriber storelink.Link, gate Gate, c codec.Codec) *Multiplexer {
	if c == nil {
		c = codec.JSON{}
	}
	m := &Multiplexer{
		publisher:  publisher,
		subscriber: subscriber,
		gate:       gate,
		codec:      c,
		table:      make(map[string][]Listener),
	}
	subscriber.OnMessage(m.deliver)
	return m
}

// Listen registers fn for channel, waits for readiness and subscribes the
// subscriber link. It returns the subscription count acknowledged by the store.
//
// The registration is kept even if waiting or subscribing fails, so a later
// Listen on the same channel delivers to both.
func (m *Multiplexer) Listen(ctx context.Context, channel string, fn Listener) (int64, error) {
	if fn == nil {
		return 0, fmt.Errorf("listener for channel %q is nil", channel)
	}

	m.mu.Lock()
	m.table[channel] = append(m.table[channel], fn)
	n := len(m.table[channel])
	m.mu.Unlock()
	glog.V(1).Infof("[pubsub] listener %d registered on %q\n", n, channel)

	if err := m.gate.AwaitConnection(ctx); err != nil {
		return 0, err
	}

	count, err := m.subscriber.Subscribe(ctx, channel)
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe to %q: %w", channel, err)
	}
	return count, nil
}

// Publish sends msg on channel and returns the number of receivers reported
// by the store. msg must be a string, a message.Payload or an object-like
// value; anything else fails with a *message.TypeMismatchError before any
// I/O happens.
func (m *Multiplexer) Publish(ctx context.Context, channel string, msg any) (int64, error) {
	p, err := message.Of(msg)
	if err != nil {
		return 0, err
	}
	if err := message.Check(p); err != nil {
		return 0, err
	}

	if err := m.gate.AwaitConnection(ctx); err != nil {
		return 0, err
	}

	var body string
	switch t := p.(type) {
	case message.Raw:
		body = string(t)
	case message.Structured:
		body, err = m.codec.Encode(t.Value)
		if err != nil {
			return 0, err
		}
	}

	count, err := m.publisher.Publish(ctx, channel, body)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %q: %w", channel, err)
	}
	return count, nil
}

// Channels lists every channel with at least one registration, sorted.
func (m *Multiplexer) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channels := make([]string, 0, len(m.table))
	for ch := range m.table {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// ListenerCount returns how many listeners are registered on channel.
func (m *Multiplexer) ListenerCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.table[channel])
}

func (m *Multiplexer) deliver(channel, raw string) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.table[channel]...)
	m.mu.RUnlock()

	if len(listeners) == 0 {
		glog.V(2).Infof("[pubsub] dropping message on %q: no listeners\n", channel)
		return
	}

	msg := codec.DecodeMessage(m.codec, raw)
	glog.V(2).Infof("[pubsub] delivering message on %q to %d listeners\n", channel, len(listeners))
	for i, fn := range listeners {
		invoke(channel, i, fn, msg)
	}
}

func invoke(channel string, i int, fn Listener, msg message.Payload) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[pubsub] listener %d on %q panicked: %v\n%s", i, channel, r, debug.Stack())
		}
	}()
	fn(msg)
}
