// Package bridge relays streaming sessions between clients and the
// upstream endpoint. Each client stream gets its own upstream connection;
// the bridge extracts the upstream-assigned session id from the first
// endpoint frame, registers the pairing, and forwards frames in both
// directions until either side disconnects.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/sse"
)

// Defaults for the bridge configuration.
const (
	DefaultEndpointWait      = 5 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultMessagePath       = "/message"
)

// Config configures the session bridge.
type Config struct {
	// UpstreamURL is the upstream streaming endpoint.
	UpstreamURL string `yaml:"upstream_url"`

	// EndpointWait bounds how long to wait for the upstream endpoint
	// frame before failing the session. Defaults to 5s.
	EndpointWait time.Duration `yaml:"endpoint_wait"`

	// KeepaliveInterval is how often a comment frame is sent to the
	// client to defeat intermediary idle timeouts. Defaults to 30s.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// MessagePath is the client-facing operation path advertised in the
	// synthesized endpoint frame. Defaults to "/message".
	MessagePath string `yaml:"message_path"`

	// DiscardEarlyFrames drops upstream frames received before the
	// endpoint frame instead of buffering them for later delivery.
	DiscardEarlyFrames bool `yaml:"discard_early_frames"`
}

func (c *Config) applyDefaults() {
	if c.EndpointWait <= 0 {
		c.EndpointWait = DefaultEndpointWait
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.MessagePath == "" {
		c.MessagePath = DefaultMessagePath
	}
}

// streamTransport ties a session record to its upstream connection so
// registry removal cancels the relay. Close is idempotent.
type streamTransport struct {
	cancel context.CancelFunc
	body   io.Closer
	once   sync.Once
}

func (t *streamTransport) Close() error {
	t.once.Do(func() {
		t.cancel()
		if t.body != nil {
			_ = t.body.Close()
		}
	})
	return nil
}

// Metadata key holding the upstream operation endpoint path.
const metaUpstreamPath = "upstream_path"

// Bridge relays streams between clients and the upstream.
type Bridge struct {
	cfg      Config
	registry *session.Registry
	client   *http.Client
}

// New creates a bridge over the registry. The HTTP client may be nil, in
// which case a client without a global timeout is used; streaming reads
// must not be cut off by a client-wide deadline.
func New(cfg Config, registry *session.Registry, client *http.Client) *Bridge {
	cfg.applyDefaults()
	if client == nil {
		client = &http.Client{}
	}
	return &Bridge{cfg: cfg, registry: registry, client: client}
}

// ServeStream runs one client session through its whole lifecycle:
// connecting, awaiting the upstream session id, relaying, closed. Errors
// before the client has received its endpoint frame are returned so the
// caller can reply with a proper failure; once relaying, errors only
// tear the session down.
func (b *Bridge) ServeStream(ctx context.Context, clientID string, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := b.openUpstream(ctx)
	if err != nil {
		return err
	}

	transport := &streamTransport{cancel: cancel, body: resp.Body}
	defer func() { _ = transport.Close() }()

	frames := make(chan sse.Frame, 16)
	go readFrames(resp.Body, frames)

	upstreamEndpoint, buffered, err := b.awaitEndpoint(ctx, frames)
	if err != nil {
		return err
	}

	upstreamID, err := ExtractSessionID(upstreamEndpoint)
	if err != nil {
		return err
	}

	if _, err := b.registry.Create(clientID, session.KindStream, transport); err != nil {
		return err
	}
	defer b.registry.Remove(clientID)

	if err := b.registry.SetUpstreamID(clientID, upstreamID); err != nil {
		return err
	}
	if err := b.registry.SetMetadata(clientID, metaUpstreamPath, EndpointPath(upstreamEndpoint)); err != nil {
		return err
	}

	slog.Info("session bridged",
		"session_id", clientID,
		"upstream_session_id", upstreamID,
	)

	return b.relay(ctx, clientID, w, frames, buffered)
}

// openUpstream opens the streaming connection with the headers the
// protocol requires.
func (b *Bridge) openUpstream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.UpstreamURL, nil)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "building upstream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "connecting to upstream").
			WithContext("upstream_url", b.cfg.UpstreamURL).
			WithSuggestion("check that the upstream endpoint is reachable")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, gwerrors.Newf(gwerrors.KindConnection,
			"upstream returned status %d", resp.StatusCode).
			WithContext("upstream_url", b.cfg.UpstreamURL)
	}
	return resp, nil
}

// readFrames pumps the upstream body through the frame parser. The
// channel is closed when the body ends, whatever the reason.
func readFrames(body io.Reader, out chan<- sse.Frame) {
	defer close(out)

	var parser sse.Parser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, f := range parser.Feed(buf[:n]) {
				out <- f
			}
		}
		if err != nil {
			return
		}
	}
}

// awaitEndpoint waits for the first endpoint frame, bounded by the
// configured timeout. Frames arriving before it are buffered (or
// discarded) so the client never sees anything before its own endpoint
// frame.
func (b *Bridge) awaitEndpoint(ctx context.Context, frames <-chan sse.Frame) (string, []sse.Frame, error) {
	timer := time.NewTimer(b.cfg.EndpointWait)
	defer timer.Stop()

	var buffered []sse.Frame
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return "", nil, gwerrors.New(gwerrors.KindConnection,
					"upstream closed before sending an endpoint frame")
			}
			if f.Event == sse.EventEndpoint {
				return f.Data, buffered, nil
			}
			if !b.cfg.DiscardEarlyFrames {
				buffered = append(buffered, f)
			}
		case <-timer.C:
			return "", nil, gwerrors.Newf(gwerrors.KindUpstreamTimeout,
				"no endpoint frame from upstream within %s", b.cfg.EndpointWait).
				WithSuggestion("check that the upstream speaks the streaming protocol")
		case <-ctx.Done():
			return "", nil, gwerrors.Wrap(ctx.Err(), gwerrors.KindConnection,
				"client disconnected during session setup")
		}
	}
}

// relay forwards upstream frames to the client in arrival order. The
// synthesized endpoint frame always goes first, then any frames buffered
// during setup, then live traffic. Repeated upstream endpoint frames are
// suppressed. Keepalive comments stop as soon as the client write fails.
func (b *Bridge) relay(ctx context.Context, clientID string, w io.Writer, frames <-chan sse.Frame, buffered []sse.Frame) error {
	fw := sse.NewWriter(w)

	endpoint := sse.Frame{Event: sse.EventEndpoint, Data: ClientEndpoint(b.cfg.MessagePath, clientID)}
	if err := fw.WriteFrame(endpoint); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindConnection, "writing endpoint frame")
	}
	for _, f := range buffered {
		if err := fw.WriteFrame(f); err != nil {
			return gwerrors.Wrap(err, gwerrors.KindConnection, "flushing buffered frame")
		}
	}

	keepalive := time.NewTicker(b.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				slog.Info("upstream closed stream", "session_id", clientID)
				return nil
			}
			if f.Event == sse.EventEndpoint {
				continue
			}
			if err := fw.WriteFrame(f); err != nil {
				slog.Info("client stream no longer writable", "session_id", clientID)
				return nil
			}
		case <-keepalive.C:
			if err := fw.WriteComment("keepalive"); err != nil {
				slog.Info("client stream no longer writable", "session_id", clientID)
				return nil
			}
		case <-ctx.Done():
			slog.Info("client disconnected", "session_id", clientID)
			return nil
		}
	}
}
