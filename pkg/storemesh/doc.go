// Package storemesh provides the interface of a storemesh instance.
//
// An instance owns three connections to one store endpoint (a command link,
// a publisher link and a subscriber link) and coordinates them:
//   - Lifecycle: the command link's state drives a single readiness signal
//   - Gating: commands issued before the link is ready wait for readiness or
//     fail with a connection timeout
//   - Pub/sub: many independent listeners per channel, invoked in
//     registration order for every message
//   - Key/value: plain strings and JSON objects with optional shallow merge
//
// The implementation lives in internal/storemesh. Example usage:
//
//	config := impl.NewConfig(storelink.Options{Host: "localhost"})
//	inst, err := impl.New(config)
//	if err != nil {
//		return err
//	}
//	defer inst.Close()
//
//	if err := inst.Set(ctx, "greeting", "hello", time.Minute); err != nil {
//		return err
//	}
//
//	_, err = inst.Listen(ctx, "orders", func(msg message.Payload) {
//		switch m := msg.(type) {
//		case message.Structured:
//			handle(m.Value)
//		case message.Raw:
//			log.Printf("text message: %s", m)
//		}
//	})
//
//	n, err := inst.Publish(ctx, "orders", map[string]any{"id": 7})
package storemesh
