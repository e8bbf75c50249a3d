package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/eventlog"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilEntry is returned when a nil entry is provided
	ErrNilEntry = errors.New("entry cannot be nil")
	// ErrEmptySource is returned when an entry has no source
	ErrEmptySource = errors.New("entry source cannot be empty")
	// ErrClosed is returned for appends after Close
	ErrClosed = errors.New("journal is closed")
)

// DefaultCapacity is the number of entries retained per source when none is given.
const DefaultCapacity = 256

// InMemoryJournal implements eventlog.Journal with a bounded slice per source.
// When a source is full its oldest entry is evicted. It is safe for concurrent use.
type InMemoryJournal struct {
	mu         sync.RWMutex
	capacity   int
	bySource   map[string][]*eventlog.Entry // source -> retained entries, oldest first
	nextOffset map[string]int64             // source -> next offset
	order      []*eventlog.Entry            // all retained entries in append order
	total      int64
	closed     bool
}

// NewInMemoryJournal creates a journal retaining up to capacity entries per source.
func NewInMemoryJournal(capacity int) *InMemoryJournal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryJournal{
		capacity:   capacity,
		bySource:   make(map[string][]*eventlog.Entry),
		nextOffset: make(map[string]int64),
	}
}

// Append stores a copy of entry with the next offset of its source.
func (j *InMemoryJournal) Append(ctx context.Context, entry *eventlog.Entry) (*eventlog.Entry, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}
	if entry.Source == "" {
		return nil, ErrEmptySource
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	stored := entry.WithOffset(j.nextOffset[entry.Source])
	j.nextOffset[entry.Source]++
	j.total++

	entries := append(j.bySource[entry.Source], stored)
	if len(entries) > j.capacity {
		evicted := entries[0]
		entries = entries[1:]
		j.evict(evicted)
	}
	j.bySource[entry.Source] = entries
	j.order = append(j.order, stored)

	return stored, nil
}

// evict must be called with j.mu held.
func (j *InMemoryJournal) evict(e *eventlog.Entry) {
	for i, o := range j.order {
		if o == e {
			j.order = append(j.order[:i:i], j.order[i+1:]...)
			return
		}
	}
}

// Read returns retained entries of source with offsets >= startOffset.
func (j *InMemoryJournal) Read(ctx context.Context, source string, startOffset int64, maxCount int) ([]*eventlog.Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]*eventlog.Entry, 0, min(maxCount, len(j.bySource[source])))
	for _, e := range j.bySource[source] {
		if len(results) >= maxCount {
			break
		}
		if e.Offset >= startOffset {
			results = append(results, e)
		}
	}
	return results, nil
}

// Recent returns the newest retained entries across sources, oldest first.
func (j *InMemoryJournal) Recent(ctx context.Context, maxCount int) ([]*eventlog.Entry, error) {
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	start := len(j.order) - maxCount
	if start < 0 {
		start = 0
	}
	return append([]*eventlog.Entry(nil), j.order[start:]...), nil
}

// EndOffset returns the next append position for source.
func (j *InMemoryJournal) EndOffset(ctx context.Context, source string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextOffset[source], nil
}

// Replay streams retained entries of source from startOffset.
func (j *InMemoryJournal) Replay(ctx context.Context, source string, startOffset int64) (<-chan *eventlog.Entry, <-chan error) {
	entryChan := make(chan *eventlog.Entry)
	errChan := make(chan error, 1)

	go func() {
		defer close(entryChan)
		defer close(errChan)

		if startOffset < 0 {
			errChan <- ErrNegativeOffset
			return
		}
		if err := ctx.Err(); err != nil {
			errChan <- err
			return
		}

		j.mu.RLock()
		var replay []*eventlog.Entry
		for _, e := range j.bySource[source] {
			if e.Offset >= startOffset {
				replay = append(replay, e)
			}
		}
		j.mu.RUnlock()

		for _, e := range replay {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case entryChan <- e:
			}
		}
	}()

	return entryChan, errChan
}

// Statistics returns aggregate counts.
func (j *InMemoryJournal) Statistics(ctx context.Context) (eventlog.Statistics, error) {
	select {
	case <-ctx.Done():
		return eventlog.Statistics{}, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	counts := make(map[string]int64, len(j.nextOffset))
	for source, next := range j.nextOffset {
		counts[source] = next
	}
	return eventlog.Statistics{
		TotalEntries: j.total,
		Retained:     len(j.order),
		SourceCounts: counts,
		SourceCount:  len(counts),
	}, nil
}

// Close drops all entries. Further appends fail with ErrClosed.
func (j *InMemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.bySource = make(map[string][]*eventlog.Entry)
	j.order = nil
	j.closed = true
	return nil
}

var _ eventlog.Journal = (*InMemoryJournal)(nil)
