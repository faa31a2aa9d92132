package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/sse"
)

// fakeUpstream is a scriptable streaming upstream.
type fakeUpstream struct {
	t *testing.T

	// frames written on the stream after the endpoint frame.
	frames []sse.Frame

	// preEndpoint frames are written before the endpoint frame.
	preEndpoint []sse.Frame

	// skipEndpoint suppresses the endpoint frame entirely.
	skipEndpoint bool

	// repeatEndpoint sends the endpoint frame twice.
	repeatEndpoint bool

	upstreamID string

	// holdOpen keeps the stream open until the request is canceled; when
	// that happens, streamClosed is closed.
	holdOpen     bool
	streamClosed chan struct{}

	// lastMessage captures the most recent POST.
	mu          sync.Mutex
	lastMessage []byte
	lastQuery   string
	lastCT      string
}

func (u *fakeUpstream) last() (query, contentType, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastQuery, u.lastCT, string(u.lastMessage)
}

func (u *fakeUpstream) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			u.serveStream(w, r)
		case http.MethodPost:
			u.serveMessage(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (u *fakeUpstream) serveStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fw := sse.NewWriter(w)

	for _, f := range u.preEndpoint {
		_ = fw.WriteFrame(f)
	}
	if !u.skipEndpoint {
		endpoint := sse.Frame{Event: sse.EventEndpoint, Data: "/message?sessionId=" + u.upstreamID}
		_ = fw.WriteFrame(endpoint)
		if u.repeatEndpoint {
			_ = fw.WriteFrame(endpoint)
		}
	}
	for _, f := range u.frames {
		_ = fw.WriteFrame(f)
	}

	if u.holdOpen {
		<-r.Context().Done()
		close(u.streamClosed)
	}
}

func (u *fakeUpstream) serveMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.lastMessage = body
	u.lastQuery = r.URL.RawQuery
	u.lastCT = r.Header.Get("Content-Type")
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
}

// syncBuffer is an io.Writer safe for cross-goroutine use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestBridge(t *testing.T, upstreamURL string, cfg Config) (*Bridge, *session.Registry) {
	t.Helper()
	cfg.UpstreamURL = upstreamURL
	registry := session.NewRegistry(session.Config{MaxSessions: 10})
	t.Cleanup(registry.Shutdown)
	return New(cfg, registry, nil), registry
}

func parseStream(t *testing.T, raw string) []sse.Frame {
	t.Helper()
	var p sse.Parser
	return p.Feed([]byte(raw))
}

func TestBridge_RelaysStream(t *testing.T) {
	up := &fakeUpstream{
		upstreamID: "up-123",
		frames: []sse.Frame{
			{Event: "message", Data: `{"jsonrpc":"2.0","method":"ping"}`},
			{Event: "message", Data: `{"jsonrpc":"2.0","method":"pong"}`},
		},
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	err := b.ServeStream(context.Background(), "client-1", &out)
	require.NoError(t, err)

	frames := parseStream(t, out.String())
	require.NotEmpty(t, frames)

	// First visible frame is the synthesized endpoint with the
	// client-facing id, never the upstream one.
	assert.Equal(t, sse.EventEndpoint, frames[0].Event)
	assert.Contains(t, frames[0].Data, "sessionId=client-1")
	assert.NotContains(t, frames[0].Data, "up-123")

	// Upstream frames relayed in order.
	require.Len(t, frames, 3)
	assert.Contains(t, frames[1].Data, "ping")
	assert.Contains(t, frames[2].Data, "pong")

	// Session removed once the stream ended.
	assert.Equal(t, 0, registry.Len())
}

func TestBridge_SuppressesRepeatedEndpoint(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:     "up-123",
		repeatEndpoint: true,
		frames:         []sse.Frame{{Event: "message", Data: "after"}},
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, _ := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	require.NoError(t, b.ServeStream(context.Background(), "client-1", &out))

	endpoints := 0
	for _, f := range parseStream(t, out.String()) {
		if f.Event == sse.EventEndpoint {
			endpoints++
		}
	}
	assert.Equal(t, 1, endpoints)
}

func TestBridge_BuffersEarlyFrames(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:  "up-123",
		preEndpoint: []sse.Frame{{Event: "message", Data: "early"}},
		frames:      []sse.Frame{{Event: "message", Data: "late"}},
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, _ := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	require.NoError(t, b.ServeStream(context.Background(), "client-1", &out))

	frames := parseStream(t, out.String())
	require.Len(t, frames, 3)
	assert.Equal(t, sse.EventEndpoint, frames[0].Event, "endpoint always first")
	assert.Equal(t, "early", frames[1].Data)
	assert.Equal(t, "late", frames[2].Data)
}

func TestBridge_DiscardsEarlyFramesWhenConfigured(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:  "up-123",
		preEndpoint: []sse.Frame{{Event: "message", Data: "early"}},
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, _ := newTestBridge(t, srv.URL, Config{DiscardEarlyFrames: true})
	var out syncBuffer

	require.NoError(t, b.ServeStream(context.Background(), "client-1", &out))

	frames := parseStream(t, out.String())
	require.Len(t, frames, 1)
	assert.Equal(t, sse.EventEndpoint, frames[0].Event)
}

func TestBridge_EndpointTimeout(t *testing.T) {
	up := &fakeUpstream{
		skipEndpoint: true,
		holdOpen:     true,
		streamClosed: make(chan struct{}),
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{EndpointWait: 50 * time.Millisecond})
	var out syncBuffer

	err := b.ServeStream(context.Background(), "client-1", &out)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindUpstreamTimeout, gwerrors.KindOf(err))
	assert.Equal(t, 0, registry.Len())

	// The upstream connection is canceled, not leaked.
	select {
	case <-up.streamClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not canceled after timeout")
	}
}

func TestBridge_ClientDisconnectCancelsUpstream(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:   "up-123",
		holdOpen:     true,
		streamClosed: make(chan struct{}),
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.ServeStream(ctx, "client-1", &out) }()

	// Wait until the session is registered, then drop the client.
	require.Eventually(t, func() bool { return registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after client disconnect")
	}

	select {
	case <-up.streamClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not canceled after client disconnect")
	}
	assert.Equal(t, 0, registry.Len())
}

func TestBridge_RegistryRemoveTearsDownRelay(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:   "up-123",
		holdOpen:     true,
		streamClosed: make(chan struct{}),
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	done := make(chan error, 1)
	go func() { done <- b.ServeStream(context.Background(), "client-1", &out) }()

	require.Eventually(t, func() bool { return registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	registry.Remove("client-1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after registry removal")
	}
}

func TestBridge_ConnectionRefused(t *testing.T) {
	b, _ := newTestBridge(t, "http://127.0.0.1:1", Config{})
	var out syncBuffer

	err := b.ServeStream(context.Background(), "client-1", &out)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindConnection, gwerrors.KindOf(err))
}

func TestBridge_ProxyMessage(t *testing.T) {
	up := &fakeUpstream{upstreamID: "up-123"}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})

	_, err := registry.Create("client-1", session.KindStream, nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetUpstreamID("client-1", "up-123"))

	body := []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)
	res, err := b.ProxyMessage(context.Background(), "client-1", "application/json", body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)

	var rpc map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &rpc))
	assert.Equal(t, float64(1), rpc["id"])

	// The upstream saw its own session id, not the client-facing one.
	query, _, msg := up.last()
	assert.Contains(t, query, "sessionId=up-123")
	assert.Equal(t, string(body), msg)
}

func TestBridge_ProxyMessageSniffsPlainTextJSON(t *testing.T) {
	up := &fakeUpstream{upstreamID: "up-123"}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	_, err := registry.Create("client-1", session.KindStream, nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetUpstreamID("client-1", "up-123"))

	_, err = b.ProxyMessage(context.Background(), "client-1", "text/plain",
		[]byte(`  {"jsonrpc":"2.0","method":"ping","id":2}  `))
	require.NoError(t, err)

	_, ct, msg := up.last()
	assert.Equal(t, "application/json", ct)
	assert.True(t, strings.HasPrefix(msg, "{"))
}

func TestBridge_ProxyMessagePassesThroughNonJSON(t *testing.T) {
	up := &fakeUpstream{upstreamID: "up-123"}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	_, err := registry.Create("client-1", session.KindStream, nil)
	require.NoError(t, err)
	require.NoError(t, registry.SetUpstreamID("client-1", "up-123"))

	_, err = b.ProxyMessage(context.Background(), "client-1", "text/plain", []byte("{not json"))
	require.NoError(t, err)

	_, ct, msg := up.last()
	assert.Equal(t, "text/plain", ct)
	assert.Equal(t, "{not json", msg)
}

// Clients may post to the operation endpoint the moment their session is
// registered, while the stream goroutine is still recording the upstream
// endpoint path. Session reads and writes both go through the registry
// lock, so proxying during setup must be safe and route to the upstream id.
func TestBridge_ProxyMessageConcurrentWithSetup(t *testing.T) {
	up := &fakeUpstream{
		upstreamID:   "up-123",
		holdOpen:     true,
		streamClosed: make(chan struct{}),
	}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, _ := newTestBridge(t, srv.URL, Config{})
	var out syncBuffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.ServeStream(ctx, "client-1", &out) }()

	// Post from the start so proxying overlaps session setup.
	body := []byte(`{"jsonrpc":"2.0","method":"ping","id":3}`)
	require.Eventually(t, func() bool {
		res, err := b.ProxyMessage(ctx, "client-1", "application/json", body)
		return err == nil && res.StatusCode == http.StatusOK
	}, 2*time.Second, time.Millisecond)

	for i := 0; i < 25; i++ {
		res, err := b.ProxyMessage(ctx, "client-1", "application/json", body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	}

	query, _, _ := up.last()
	assert.Contains(t, query, "sessionId=up-123")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after client disconnect")
	}
}

func TestBridge_ProxyMessageUnknownSession(t *testing.T) {
	up := &fakeUpstream{upstreamID: "up-123"}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, _ := newTestBridge(t, srv.URL, Config{})

	_, err := b.ProxyMessage(context.Background(), "ghost", "application/json", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindSessionNotFound, gwerrors.KindOf(err))
}

func TestBridge_ProxyMessageNoUpstreamID(t *testing.T) {
	up := &fakeUpstream{upstreamID: "up-123"}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	b, registry := newTestBridge(t, srv.URL, Config{})
	_, err := registry.Create("client-1", session.KindStream, nil)
	require.NoError(t, err)

	_, err = b.ProxyMessage(context.Background(), "client-1", "application/json", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindProtocol, gwerrors.KindOf(err))
}
