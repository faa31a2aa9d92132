package bridge

import (
	"net/url"
	"strings"

	"github.com/yosida95/uritemplate/v3"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// endpointTemplate is the shape of an endpoint frame payload: a path plus
// the session id query parameter.
var endpointTemplate = uritemplate.MustNew("{+path}?sessionId={sessionId}")

// ExtractSessionID pulls the sessionId query parameter out of an endpoint
// frame payload.
func ExtractSessionID(raw string) (string, error) {
	if match := endpointTemplate.Match(raw); match != nil {
		if id := match.Get("sessionId").String(); id != "" {
			return id, nil
		}
	}

	// Endpoints with extra query parameters fall outside the template;
	// parse the URL directly.
	u, err := url.Parse(raw)
	if err != nil {
		return "", gwerrors.Wrap(err, gwerrors.KindProtocol, "parsing endpoint URL").
			WithContext("endpoint", raw)
	}
	if id := u.Query().Get("sessionId"); id != "" {
		return id, nil
	}
	return "", gwerrors.New(gwerrors.KindProtocol, "endpoint URL carries no sessionId").
		WithContext("endpoint", raw)
}

// EndpointPath returns the path portion of an endpoint frame payload,
// without the query string.
func EndpointPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// ClientEndpoint renders the endpoint payload sent to the client: the
// message path with the client-facing session id.
func ClientEndpoint(path, sessionID string) string {
	out, err := endpointTemplate.Expand(uritemplate.Values{
		"path":      uritemplate.String(path),
		"sessionId": uritemplate.String(sessionID),
	})
	if err != nil {
		// The template has no modifiers that can fail on plain strings.
		return path + "?sessionId=" + url.QueryEscape(sessionID)
	}
	return out
}
