// Package eventlog provides interfaces for the lifecycle journal.
//
// The journal is a bounded, append-only record of the normalized lifecycle
// events an instance observed (connected, ready, disconnected, error). Each
// source has its own offset sequence starting at 0; sources are the link
// roles ("client", "publisher", "subscriber").
//
// Example usage:
//
//	entry, err := journal.Append(ctx, eventlog.NewEntry("client", "ready", ""))
//	if err != nil {
//		return err
//	}
//
//	// Everything the client link reported, oldest first
//	entries, err := journal.Read(ctx, "client", 0, 100)
//
//	// Stream retained entries of one source
//	entryChan, errChan := journal.Replay(ctx, "publisher", 0)
//	for entry := range entryChan {
//		fmt.Println(entry.Offset, entry.Event)
//	}
//	if err := <-errChan; err != nil {
//		return err
//	}
package eventlog
