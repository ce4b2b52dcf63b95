// Package sse decodes text/event-stream response bodies.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Vendors put whole JSON payloads on one line.
const maxLineSize = 1024 * 1024

// Event is one dispatched server-sent event.
type Event struct {
	Name string // "event:" field, empty when the stream does not name events
	Data string // "data:" lines joined with "\n"
}

// Reader reads events from an SSE stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next event with a non-empty data field.
// Comment lines and events without data (heartbeats) are skipped.
// It returns io.EOF when the stream ends cleanly.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var data []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	// Flush a final event that was not followed by a blank line.
	if len(data) > 0 {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
