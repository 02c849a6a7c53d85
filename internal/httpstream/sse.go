package httpstream

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// SSEParser incrementally parses a Server-Sent Events stream. It is
// deliberately lenient: real-world streaming endpoints emit "field value"
// lines without a colon and other off-spec shapes, and the inspector
// wants to show those rather than drop them.
type SSEParser struct {
	reader *bufio.Reader
	lastID string

	event    SSEEvent
	data     strings.Builder
	raw      bytes.Buffer
	hasEvent bool
}

// NewSSEParser wraps r for streaming event reads.
func NewSSEParser(r io.Reader) *SSEParser {
	return &SSEParser{reader: bufio.NewReader(r)}
}

// LastEventID returns the most recent id field seen on the stream.
func (p *SSEParser) LastEventID() string { return p.lastID }

// Next returns the next complete event, or io.EOF when the stream ends.
// A stream that ends mid-event still yields that final partial event.
func (p *SSEParser) Next() (*SSEEvent, error) {
	for {
		line, err := p.reader.ReadBytes('\n')
		if len(line) > 0 {
			p.raw.Write(line)
		}
		if err != nil {
			// A last line with no terminating newline still carries a field.
			if tail := bytes.TrimRight(line, "\r\n"); len(tail) > 0 && tail[0] != ':' {
				p.consumeField(tail)
			}
			if p.hasEvent {
				return p.flush(), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if p.hasEvent {
				return p.flush(), nil
			}
			p.raw.Reset()
			continue
		}
		if line[0] == ':' {
			continue
		}
		p.consumeField(line)
	}
}

// flush finalizes the accumulated event and resets for the next one.
func (p *SSEParser) flush() *SSEEvent {
	ev := p.event
	ev.Data = strings.TrimSuffix(p.data.String(), "\n")
	ev.Raw = append([]byte(nil), p.raw.Bytes()...)
	if ev.ID == "" {
		ev.ID = p.lastID
	}

	p.event = SSEEvent{}
	p.data.Reset()
	p.raw.Reset()
	p.hasEvent = false
	return &ev
}

// consumeField applies one non-empty line to the pending event.
func (p *SSEParser) consumeField(line []byte) {
	field, value := splitField(line)
	switch field {
	case "data":
		p.data.WriteString(value)
		p.data.WriteByte('\n')
		p.hasEvent = true
	case "event":
		p.event.Event = value
		p.hasEvent = true
	case "id":
		// An id carrying NUL is ignored per the event stream rules.
		if !strings.ContainsRune(value, 0) {
			p.event.ID = value
			p.lastID = value
			p.hasEvent = true
		}
	case "retry":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			p.event.Retry = n
			p.hasEvent = true
		}
	}
}

// splitField separates an SSE line into field name and value. Standard
// form is "field: value"; the colonless "field value" variant some
// implementations emit is accepted too.
func splitField(line []byte) (field, value string) {
	if idx := bytes.IndexByte(line, ':'); idx >= 0 {
		field = string(line[:idx])
		value = string(line[idx+1:])
		value = strings.TrimPrefix(value, " ")
		return field, value
	}
	if idx := bytes.IndexByte(line, ' '); idx >= 0 {
		return string(line[:idx]), strings.TrimSpace(string(line[idx+1:]))
	}
	return string(line), ""
}
