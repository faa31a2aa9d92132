package tools

import (
	"context"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
)

type contextKey int

const callContextKey contextKey = iota

// CallContext carries per-call identity into tool handlers.
type CallContext struct {
	// SessionID is the client-facing session id the call arrived on.
	SessionID string

	// Caller is the authenticated identity.
	Caller security.Caller
}

// WithCallContext attaches the call context.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	return context.WithValue(ctx, callContextKey, cc)
}

// CallContextFrom returns the call context, or a zero value when the
// transport attached none.
func CallContextFrom(ctx context.Context) CallContext {
	cc, _ := ctx.Value(callContextKey).(CallContext)
	return cc
}
