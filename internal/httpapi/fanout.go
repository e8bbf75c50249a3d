package httpapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/routingtable"
	"github.com/rmacdonaldsmith/storemesh-go/pkg/storemesh"
)

// Fanout attaches gateway streams to channels. Each channel gets a single
// listener on the instance; that listener delivers to every stream the
// routing table holds for the channel.
type Fanout struct {
	inst  storemesh.Instance
	table routingtable.RoutingTable

	mu       sync.Mutex
	channels map[string]*channelState
}

// channelState serializes attaches on one channel. Attaches on other
// channels do not wait for it.
type channelState struct {
	mu         sync.Mutex
	registered bool // dispatch listener added
	subscribed bool // store subscription acknowledged
}

// NewFanout creates a fanout over inst using table for stream membership.
func NewFanout(inst storemesh.Instance, table routingtable.RoutingTable) *Fanout {
	return &Fanout{
		inst:     inst,
		table:    table,
		channels: make(map[string]*channelState),
	}
}

func (f *Fanout) state(channel string) *channelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.channels[channel]
	if !ok {
		st = &channelState{}
		f.channels[channel] = st
	}
	return st
}

// Attach adds sub to channel and makes sure the instance listens on it.
// On error the stream is left attached; callers that give up must Detach.
func (f *Fanout) Attach(ctx context.Context, channel string, sub routingtable.Subscriber) error {
	if err := f.table.Subscribe(ctx, channel, sub); err != nil {
		return fmt.Errorf("failed to attach stream: %w", err)
	}

	st := f.state(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.subscribed {
		return nil
	}

	// The listener registration persists even when Listen fails. Only the
	// first attempt registers the dispatcher; retries just re-subscribe.
	fn := f.dispatch(channel)
	if st.registered {
		fn = func(message.Payload) {}
	}
	st.registered = true

	if _, err := f.inst.Listen(ctx, channel, fn); err != nil {
		return err
	}
	st.subscribed = true
	glog.V(1).Infof("[http] gateway listening on %q\n", channel)
	return nil
}

// Detach removes the stream from channel. The instance keeps listening.
func (f *Fanout) Detach(channel, subscriberID string) {
	if err := f.table.Unsubscribe(context.Background(), channel, subscriberID); err != nil {
		glog.V(2).Infof("[http] detach %s from %q: %v\n", subscriberID, channel, err)
	}
}

// Table returns the routing table holding stream membership.
func (f *Fanout) Table() routingtable.RoutingTable {
	return f.table
}

func (f *Fanout) dispatch(channel string) func(msg message.Payload) {
	return func(msg message.Payload) {
		subs, err := f.table.GetSubscribers(context.Background(), channel)
		if err != nil {
			glog.Warningf("[http] failed to route message on %q: %v\n", channel, err)
			return
		}
		for _, sub := range subs {
			if !sub.Deliver(channel, msg) {
				glog.V(1).Infof("[http] dropped message on %q for %s stream %s\n", channel, sub.Kind(), sub.ID())
			}
		}
	}
}
