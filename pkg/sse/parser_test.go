package sse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_SingleFrame(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("event: endpoint\ndata: /message?sessionId=abc\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "endpoint", frames[0].Event)
	assert.Equal(t, "/message?sessionId=abc", frames[0].Data)
}

func TestParser_DefaultEventName(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("data: {\"jsonrpc\":\"2.0\"}\n\n"))

	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Event)
	assert.Equal(t, "{\"jsonrpc\":\"2.0\"}", frames[0].Data)
}

func TestParser_MultiLineData(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("event: message\ndata: line1\ndata: line2\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "line1\nline2", frames[0].Data)
}

func TestParser_MultipleFramesOneChunk(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("data: one\n\ndata: two\n\nevent: e\ndata: three\n\n"))

	require.Len(t, frames, 3)
	assert.Equal(t, "one", frames[0].Data)
	assert.Equal(t, "two", frames[1].Data)
	assert.Equal(t, "e", frames[2].Event)
}

func TestParser_PartialThenRest(t *testing.T) {
	var p Parser

	frames := p.Feed([]byte("event: end"))
	assert.Empty(t, frames)

	frames = p.Feed([]byte("point\ndata: /msg\n"))
	assert.Empty(t, frames)

	frames = p.Feed([]byte("\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "endpoint", frames[0].Event)
	assert.Equal(t, "/msg", frames[0].Data)
}

// Only the single separator space after the colon is removed; any
// further whitespace belongs to the payload.
func TestParser_PreservesPayloadWhitespace(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("data:  indented\ndata:no-space\ndata: trailing \n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, " indented\nno-space\ntrailing ", frames[0].Data)
}

func TestParser_CRLFLines(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("event: endpoint\r\ndata: /msg\r\n\r\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "endpoint", frames[0].Event)
	assert.Equal(t, "/msg", frames[0].Data)
}

func TestParser_CommentsAndBlankLinesIgnored(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte(": keepalive\n\n\n: another\n\ndata: real\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "real", frames[0].Data)
}

func TestParser_MalformedLinesIgnored(t *testing.T) {
	var p Parser
	frames := p.Feed([]byte("garbage without prefix\ndata: payload\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "payload", frames[0].Data)
}

// Splitting the input at every possible byte boundary must yield the same
// frames as feeding it whole.
func TestParser_SplitAtEveryBoundary(t *testing.T) {
	raw := "event: endpoint\ndata: /message?sessionId=xyz\n\nevent: message\ndata: {\"id\":1}\ndata: more\n\n"

	var whole Parser
	want := whole.Feed([]byte(raw))
	require.Len(t, want, 2)

	for i := 0; i <= len(raw); i++ {
		t.Run(fmt.Sprintf("split-%d", i), func(t *testing.T) {
			var p Parser
			var got []Frame
			got = append(got, p.Feed([]byte(raw[:i]))...)
			got = append(got, p.Feed([]byte(raw[i:]))...)
			assert.Equal(t, want, got)
		})
	}
}

func TestFrame_EncodeRoundTrip(t *testing.T) {
	frames := []Frame{
		{Event: "endpoint", Data: "/message?sessionId=abc"},
		{Event: "", Data: "bare"},
		{Event: "message", Data: "line1\nline2"},
	}

	for _, f := range frames {
		var p Parser
		got := p.Feed([]byte(f.Encode()))
		require.Len(t, got, 1)
		assert.Equal(t, f, got[0])
	}
}

func TestWriter_WritesAndFlushes(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)

	require.NoError(t, w.WriteFrame(Frame{Event: "endpoint", Data: "/msg"}))
	require.NoError(t, w.WriteComment("keepalive"))

	out := sb.String()
	assert.Contains(t, out, "event: endpoint\n")
	assert.Contains(t, out, "data: /msg\n")
	assert.Contains(t, out, ": keepalive\n")
}
