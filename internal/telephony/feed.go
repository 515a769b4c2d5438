package telephony

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Parser reads a newline-delimited JSON stream of call-state
// notifications from the device shim and emits RawEvents.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	return &Parser{scanner: bufio.NewScanner(r)}
}

// Next reads the next event from the stream.
// Returns the event and true if one was read, or a zero RawEvent and
// false at EOF. Blank and malformed lines are skipped; the shim is a
// line protocol and a garbled line must not kill the session.
func (p *Parser) Next() (RawEvent, bool) {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" {
			continue
		}

		var evt RawEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.State == "" {
			continue
		}
		return evt, true
	}
	return RawEvent{}, false
}

// ParseAll reads all events from the stream and returns them.
func (p *Parser) ParseAll() []RawEvent {
	var events []RawEvent
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		events = append(events, evt)
	}
	return events
}

// ParseBytes is a convenience function that parses all events from a byte slice.
func ParseBytes(data []byte) []RawEvent {
	return NewParser(strings.NewReader(string(data))).ParseAll()
}
