// Package routingtable provides interfaces for channel-to-stream routing in
// the gateway.
//
// The instance keeps exactly one multiplexer listener per channel the
// gateway serves. That listener hands each message to the routing table,
// which fans it out to every stream (SSE or WebSocket) currently attached to
// the channel. Unlike multiplexer registrations, streams come and go: they
// are added on connect and removed on disconnect.
//
// Example usage:
//
//	sub := routingtable.NewStreamSubscriber(id, routingtable.KindSSE, 64)
//	if err := table.Subscribe(ctx, "orders", sub); err != nil {
//		return err
//	}
//	defer table.Unsubscribe(ctx, "orders", sub.ID())
//
//	for d := range sub.C() {
//		write(d.Channel, d.Message)
//	}
package routingtable
