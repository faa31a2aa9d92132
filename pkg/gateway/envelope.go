// Package gateway holds the top-level configuration and the response
// envelope shared by every caller-facing surface.
package gateway

import (
	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// Envelope is the uniform caller-facing response shape: success with a
// result, or failure with an error message and kind. A failure can never
// look like an empty success.
type Envelope struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}

// OK wraps a successful result.
func OK(result any) Envelope {
	return Envelope{Success: true, Result: result}
}

// Fail wraps an error with its kind.
func Fail(err error) Envelope {
	return Envelope{
		Success:   false,
		Error:     err.Error(),
		ErrorType: string(gwerrors.KindOf(err)),
	}
}
