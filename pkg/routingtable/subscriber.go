package routingtable

import (
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
)

// Delivery is one message handed to a stream
type Delivery struct {
	Channel string
	Message message.Payload
}

// StreamSubscriber buffers deliveries for a single gateway stream
type StreamSubscriber struct {
	id      string
	kind    Kind
	ch      chan Delivery
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewStreamSubscriber creates a subscriber with a delivery buffer of the given size
func NewStreamSubscriber(id string, kind Kind, buffer int) *StreamSubscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &StreamSubscriber{id: id, kind: kind, ch: make(chan Delivery, buffer)}
}

// ID returns the unique identifier for this subscriber
func (s *StreamSubscriber) ID() string {
	return s.id
}

// Kind returns the stream transport
func (s *StreamSubscriber) Kind() Kind {
	return s.kind
}

// Deliver queues msg; it drops the message when the buffer is full or the
// subscriber is closed.
func (s *StreamSubscriber) Deliver(channel string, msg message.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- Delivery{Channel: channel, Message: msg}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// C returns the delivery channel. It is closed by Close.
func (s *StreamSubscriber) C() <-chan Delivery {
	return s.ch
}

// Dropped returns how many deliveries were discarded because the buffer was full
func (s *StreamSubscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *StreamSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var _ Subscriber = (*StreamSubscriber)(nil)
