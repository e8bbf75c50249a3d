package eventlog

import (
	"context"
	"io"
)

// Journal is a bounded append-only log of lifecycle events, partitioned by source.
// Offsets keep increasing when old entries are evicted.
type Journal interface {
	io.Closer

	// Append stores an entry and returns it with its assigned offset.
	Append(ctx context.Context, entry *Entry) (*Entry, error)

	// Read returns retained entries of a source starting at startOffset, up to maxCount.
	Read(ctx context.Context, source string, startOffset int64, maxCount int) ([]*Entry, error)

	// Recent returns up to maxCount of the newest entries across all sources, oldest first.
	Recent(ctx context.Context, maxCount int) ([]*Entry, error)

	// EndOffset returns the next offset that will be assigned for a source.
	EndOffset(ctx context.Context, source string) (int64, error)

	// Replay streams retained entries of a source starting at startOffset.
	// Both channels are closed when all entries are sent or ctx is done.
	Replay(ctx context.Context, source string, startOffset int64) (<-chan *Entry, <-chan error)

	// Statistics returns aggregate counts.
	Statistics(ctx context.Context) (Statistics, error)
}

// Statistics provides aggregate counts about the journal
type Statistics struct {
	TotalEntries int64            // Entries appended since creation
	Retained     int              // Entries currently held
	SourceCounts map[string]int64 // Entries appended per source
	SourceCount  int              // Number of distinct sources
}
