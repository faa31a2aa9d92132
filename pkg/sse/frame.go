// Package sse implements the text event-stream framing used between the
// gateway and its upstream: named events with data payloads separated by
// blank lines. The parser is a pure buffering state machine so it can be
// fed partial reads straight off a network transport.
package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Frame is one discrete unit of the streaming protocol. An empty Event
// means the default "message" event.
type Frame struct {
	Event string
	Data  string
}

// EventEndpoint is the event name carrying the session endpoint URL.
const EventEndpoint = "endpoint"

// Encode renders the frame in wire format, terminated by a blank line.
func (f Frame) Encode() string {
	var b strings.Builder
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// Writer writes frames to a client stream, flushing after each write so
// frames are delivered immediately rather than sitting in HTTP buffers.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a frame writer. If w implements http.Flusher, every
// frame and comment is flushed as it is written.
func NewWriter(w io.Writer) *Writer {
	fw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// WriteFrame writes one frame.
func (w *Writer) WriteFrame(f Frame) error {
	if _, err := io.WriteString(w.w, f.Encode()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	w.flush()
	return nil
}

// WriteComment writes a comment line. Comments are ignored by conforming
// clients; the bridge uses them as keepalives.
func (w *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("writing comment: %w", err)
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
