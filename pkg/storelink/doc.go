// Package storelink defines the contract of a connection to the remote
// key-value/pub-sub store.
//
// This package defines the core abstractions consumed by the coordination layer:
//   - Link: one connection (command, publisher or subscriber role)
//   - Dialer: creates unopened links for a target
//   - Options: the connection target, structured or as a URL
//
// A link reports raw lifecycle events (connect, ready, disconnect, error)
// and inbound channel messages asynchronously. It never interprets
// payloads; encoding belongs to the caller.
//
// Example usage:
//
//	link, err := dialer.Dial(storelink.Options{Host: "localhost"})
//	if err != nil {
//		return err
//	}
//	link.On(storelink.EventReady, func(error) { log.Println("ready") })
//	link.OnMessage(func(channel, payload string) { handle(channel, payload) })
//	link.Open()
//
//	sub, err := link.Duplicate()
//	...
package storelink
