package routingtable

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
)

// Kind identifies the transport of a stream subscriber
type Kind int

const (
	// KindSSE is a server-sent events stream
	KindSSE Kind = iota

	// KindWebSocket is a WebSocket connection
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindSSE:
		return "sse"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Subscriber is a stream attached to one or more channels
type Subscriber interface {
	// ID returns unique identifier for this subscriber
	ID() string

	// Kind returns the stream transport
	Kind() Kind

	// Deliver hands a message to the subscriber without blocking.
	// It returns false if the message was dropped.
	Deliver(channel string, msg message.Payload) bool
}

// Subscription pairs a channel with an attached subscriber
type Subscription struct {
	Channel    string
	Subscriber Subscriber
}

// RoutingTable manages channel-to-subscriber mappings for gateway streams.
// Channel names match exactly; there are no patterns.
type RoutingTable interface {
	io.Closer

	// Subscribe attaches a subscriber to a channel. Attaching the same
	// subscriber ID twice is a no-op.
	Subscribe(ctx context.Context, channel string, subscriber Subscriber) error

	// Unsubscribe detaches a subscriber from a channel.
	Unsubscribe(ctx context.Context, channel string, subscriberID string) error

	// GetSubscribers returns the subscribers of a channel in attach order.
	GetSubscribers(ctx context.Context, channel string) ([]Subscriber, error)

	// GetAllSubscriptions returns every current subscription.
	GetAllSubscriptions(ctx context.Context) ([]Subscription, error)

	// GetChannelCount returns the number of channels with at least one subscriber.
	GetChannelCount(ctx context.Context) (int, error)

	// GetSubscriberCount returns the number of distinct subscribers.
	GetSubscriberCount(ctx context.Context) (int, error)
}
