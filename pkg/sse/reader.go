// Package sse implements a client-side reader for Server-Sent Events
// (text/event-stream) responses.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single server-sent event. Name is empty for unnamed
// (default "message") events.
type Event struct {
	Name string
	Data string
	ID   string
}

// Reader parses an event stream incrementally. Events are delimited by
// blank lines; multiple data lines within one event are joined with \n.
type Reader struct {
	scanner *bufio.Scanner
}

// Large model fragments can arrive as one long data line.
const maxLineSize = 1024 * 1024 // 1MB

// NewReader wraps an event-stream body.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next complete event. It returns io.EOF when the
// stream ends cleanly, or the underlying read error otherwise.
func (r *Reader) Next() (*Event, error) {
	var (
		name     string
		id       string
		data     []string
		haveData bool
	)

	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")

		// Blank line ends the event. Named events are meaningful even
		// without data (bare start/ready markers).
		if line == "" {
			if haveData || name != "" {
				return &Event{Name: name, Data: strings.Join(data, "\n"), ID: id}, nil
			}
			// Unnamed frames without data carry nothing, keep reading
			name, id, data = "", "", nil
			continue
		}

		// Comment line
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			haveData = true
		case "id":
			id = value
		}
		// Unknown fields (including "retry") are ignored
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended mid-event: deliver what was accumulated
	if haveData || name != "" {
		return &Event{Name: name, Data: strings.Join(data, "\n"), ID: id}, nil
	}

	return nil, io.EOF
}

// splitField splits "field: value", trimming the single optional space
// after the colon per the SSE format.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
