package sse

import "strings"

// Parser incrementally decodes a byte stream into frames. Feed it chunks
// as they arrive; it returns every frame completed by the new input and
// retains any trailing partial line for the next call. It never blocks
// and never drops a frame because it arrived split across chunks.
type Parser struct {
	buf   strings.Builder
	event string
	data  []string
	open  bool // a field line has been seen for the current frame
}

// Feed appends chunk to the parse buffer and returns all frames completed
// by it. Malformed lines (no recognized prefix) are ignored.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf.Write(chunk)

	pending := p.buf.String()
	var frames []Frame

	for {
		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(pending[:idx], "\r")
		pending = pending[idx+1:]

		if frame, ok := p.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}

	p.buf.Reset()
	p.buf.WriteString(pending)
	return frames
}

// consumeLine advances the state machine by one complete line. It returns
// a frame when a blank line terminates a run of field lines.
func (p *Parser) consumeLine(line string) (Frame, bool) {
	if line == "" {
		if !p.open {
			return Frame{}, false
		}
		frame := Frame{Event: p.event, Data: strings.Join(p.data, "\n")}
		p.event = ""
		p.data = nil
		p.open = false
		return frame, true
	}

	switch {
	case strings.HasPrefix(line, "event:"):
		// At most one leading space after the colon is separator, the
		// rest of the value is significant.
		p.event = strings.TrimPrefix(line[len("event:"):], " ")
		p.open = true
	case strings.HasPrefix(line, "data:"):
		p.data = append(p.data, strings.TrimPrefix(line[len("data:"):], " "))
		p.open = true
	case strings.HasPrefix(line, ":"):
		// comment line, ignored
	default:
		// unrecognized field, ignored
	}
	return Frame{}, false
}
