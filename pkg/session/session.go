// Package session provides session lifecycle management for the gateway.
// The Registry owns every live session: creation, activity tracking,
// capacity-based eviction, timeout-driven expiry, and orderly shutdown.
package session

import (
	"io"
	"time"
)

// Kind distinguishes how a session talks to the gateway.
type Kind string

const (
	// KindStream is a persistent streaming connection.
	KindStream Kind = "stream"

	// KindRequestResponse is a plain request/response session.
	KindRequestResponse Kind = "request-response"
)

// Transport is the underlying connection resource owned by a session.
// Close must be safe to call more than once; the Registry guarantees the
// resource is released exactly once regardless.
type Transport interface {
	io.Closer
}

// Session represents one client's logical connection. The client-facing ID
// is minted by the gateway and is distinct from the upstream-assigned id.
type Session struct {
	// ID is the opaque client-facing identifier, unique among live sessions.
	ID string

	// Kind is how the client is connected.
	Kind Kind

	// UpstreamSessionID is the identifier assigned by the upstream endpoint.
	// Set at most once, never mutated afterward.
	UpstreamSessionID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastActivityAt is the most recent inbound activity.
	LastActivityAt time.Time

	// Metadata holds open key/value session data.
	Metadata map[string]any

	transport Transport
	closed    bool
}

// closeTransport releases the transport resource. Idempotent; the caller
// must hold the registry lock.
func (s *Session) closeTransport() error {
	if s.closed || s.transport == nil {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}
