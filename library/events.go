package library

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// EventLog is the append-only history of committed operations.
type EventLog struct {
	events []Event
}

// Append stamps e with the next sequence number and stores it.
func (l *EventLog) Append(e Event) Event {
	e.Seq = len(l.events) + 1
	l.events = append(l.events, e)
	return e
}

// Events returns a copy of the log in insertion order.
func (l *EventLog) Events() []Event {
	return append([]Event(nil), l.events...)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int { return len(l.events) }

// WriteJSONLines encodes events to w, one JSON object per line.
func WriteJSONLines(w io.Writer, events []Event) error {
	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(w)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	for _, e := range events {
		stream.WriteVal(e)
		stream.WriteRaw("\n")
		if stream.Error != nil {
			return fmt.Errorf("encode event %d: %w", e.Seq, stream.Error)
		}
	}
	return stream.Flush()
}
