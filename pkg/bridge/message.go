package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
)

// ProxyResult is the upstream's answer to a proxied operation message.
type ProxyResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// ProxyMessage forwards one client operation message to the upstream: the
// client-facing session id is resolved to the upstream id, the sessionId
// query parameter is rewritten, and the upstream's response is relayed
// back with its status code. Plain-text bodies that look like JSON are
// normalized to a JSON content type; bodies that do not parse are passed
// through unmodified.
func (b *Bridge) ProxyMessage(ctx context.Context, clientID string, contentType string, body []byte) (*ProxyResult, error) {
	var upstreamID, upstreamPath string
	err := b.registry.View(clientID, func(sess *session.Session) {
		upstreamID = sess.UpstreamSessionID
		if p, ok := sess.Metadata[metaUpstreamPath].(string); ok {
			upstreamPath = p
		}
	})
	if err != nil {
		return nil, err
	}
	if upstreamID == "" {
		return nil, gwerrors.Newf(gwerrors.KindProtocol,
			"session %q has no upstream id yet", clientID).
			WithSuggestion("wait for the endpoint frame before posting messages")
	}

	body, contentType = normalizeBody(body, contentType)

	target, err := b.upstreamMessageURL(upstreamPath, upstreamID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "building upstream message request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "forwarding message to upstream").
			WithContext("session_id", clientID)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindConnection, "reading upstream response")
	}

	return &ProxyResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

// upstreamMessageURL builds the upstream operation URL: the endpoint path
// the upstream advertised, resolved against the upstream base, with the
// upstream session id substituted.
func (b *Bridge) upstreamMessageURL(upstreamPath, upstreamID string) (string, error) {
	base, err := url.Parse(b.cfg.UpstreamURL)
	if err != nil {
		return "", gwerrors.Wrap(err, gwerrors.KindConnection, "parsing upstream URL")
	}

	path := b.cfg.MessagePath
	if upstreamPath != "" {
		path = upstreamPath
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", gwerrors.Wrap(err, gwerrors.KindProtocol, "parsing upstream endpoint path")
	}

	target := base.ResolveReference(ref)
	q := target.Query()
	q.Set("sessionId", upstreamID)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// normalizeBody treats a plain-text body as JSON when it is shaped like a
// JSON object or array and actually parses. Anything else passes through
// untouched.
func normalizeBody(body []byte, contentType string) ([]byte, string) {
	if isJSONContentType(contentType) {
		return body, contentType
	}

	trimmed := bytes.TrimSpace(body)
	if !looksLikeJSON(trimmed) || !json.Valid(trimmed) {
		return body, contentType
	}
	return trimmed, "application/json"
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func looksLikeJSON(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	first, last := b[0], b[len(b)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
