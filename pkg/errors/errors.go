// Package errors provides the shared error taxonomy for the gateway.
// Every component reports failures as a *Error carrying a Kind, a
// human-readable message, and optional context. Errors are JSON-serializable
// so they can cross the API boundary intact.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for handling and reporting purposes.
type Kind string

const (
	// KindConnection is a connection or transport failure.
	KindConnection Kind = "connection_error"

	// KindProtocol is a protocol or frame-parse failure.
	KindProtocol Kind = "protocol_error"

	// KindSessionNotFound means the referenced session does not exist.
	KindSessionNotFound Kind = "session_not_found"

	// KindUpstreamTimeout means the upstream did not respond in time.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindSQLValidation is a SQL validation rejection.
	KindSQLValidation Kind = "sql_validation_error"

	// KindAuthorization is an authorization rejection.
	KindAuthorization Kind = "authorization_error"

	// KindResourceLimit means a resource limit was exceeded.
	KindResourceLimit Kind = "resource_limit_exceeded"

	// KindRateLimit means the rate limit was exceeded.
	KindRateLimit Kind = "rate_limit_exceeded"

	// KindAuditSink is an audit sink failure.
	KindAuditSink Kind = "audit_sink_error"

	// KindUnknown is any error not recognized as one of the above.
	KindUnknown Kind = "unknown_error"
)

// Error is a classified, contextual error.
type Error struct {
	// Kind classifies the failure.
	Kind Kind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Context carries structured detail (rule name, table, operation, ...).
	Context map[string]any `json:"context,omitempty"`

	// Suggestion, when set, tells the caller how to remediate.
	Suggestion string `json:"suggestion,omitempty"`

	// Err is the wrapped cause, if any. Not serialized directly; its
	// message is folded into Message by Wrap.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON serializes the error including the wrapped cause's message.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	out := struct {
		alias
		Cause string `json:"cause,omitempty"`
	}{alias: alias(*e)}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// WithContext attaches a context key/value and returns the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches a remediation hint and returns the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a classification and message. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err. Unclassified errors report KindUnknown;
// nil reports an empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify returns err as a *Error, wrapping unclassified errors as
// KindUnknown so the original message survives for diagnosis.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}
