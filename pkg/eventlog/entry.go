package eventlog

import "time"

// Entry is one journaled lifecycle event
type Entry struct {
	// Offset is the position of this entry within its source
	Offset int64

	// Source is the link role that reported the event
	Source string

	// Event is the normalized event name
	Event string

	// Detail carries the error text for error events
	Detail string

	// Timestamp is when the entry was created
	Timestamp time.Time
}

// NewEntry creates an entry stamped with the current time. The offset is
// assigned by the journal on append.
func NewEntry(source, event, detail string) *Entry {
	return &Entry{
		Source:    source,
		Event:     event,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// WithOffset returns a copy of the entry at the given offset
func (e *Entry) WithOffset(offset int64) *Entry {
	c := *e
	c.Offset = offset
	return &c
}
