// Package audit provides audit logging for gated database operations.
// Every operation outcome, success or failure, produces one immutable
// Entry, emitted to a file sink and/or a database sink. Audit emission is
// best-effort: sink failures are logged and never block the operation
// they describe.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DetailLevel controls how much of the operation is recorded.
type DetailLevel string

const (
	// DetailBasic omits query text.
	DetailBasic DetailLevel = "basic"

	// DetailMedium includes query text.
	DetailMedium DetailLevel = "medium"

	// DetailFull includes query text; parameter and response logging are
	// toggled independently.
	DetailFull DetailLevel = "full"
)

// Entry is one immutable audit record. Created once per operation
// outcome, never mutated.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
	CallerID     string    `json:"caller_id,omitempty"`
	Operation    string    `json:"operation"`
	Target       string    `json:"target,omitempty"`
	Query        string    `json:"query,omitempty"`
	Parameters   []any     `json:"parameters,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	RowCount     int       `json:"row_count"`

	// Response is the operation's result payload, recorded only at full
	// detail with response logging enabled.
	Response any `json:"response,omitempty"`
}

// QueryFilter selects entries when reading a sink back.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	CallerID  string
	Operation string
	Success   *bool
	Limit     int
}

// Sink persists audit entries.
type Sink interface {
	// Log records one entry.
	Log(ctx context.Context, entry Entry) error

	// Query retrieves entries matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Entry, error)

	// Close releases resources.
	Close() error
}

// Config configures the audit recorder.
type Config struct {
	// Enabled turns auditing on.
	Enabled bool `yaml:"enabled"`

	// Detail controls how much is recorded. Defaults to DetailBasic.
	Detail DetailLevel `yaml:"detail"`

	// LogParameters includes query parameters (full detail only).
	LogParameters bool `yaml:"log_parameters"`

	// LogResponses includes the result payload (full detail only).
	LogResponses bool `yaml:"log_responses"`

	// FilePath, when set, appends entries to this file.
	FilePath string `yaml:"file_path"`

	// TableName is the database sink table. Defaults to "audit_log".
	TableName string `yaml:"table_name"`
}

// Recorder shapes entries per the configured detail level and fans them
// out to the sinks.
type Recorder struct {
	cfg   Config
	sinks []Sink
}

// NewRecorder creates a recorder over the given sinks.
func NewRecorder(cfg Config, sinks ...Sink) *Recorder {
	if cfg.Detail == "" {
		cfg.Detail = DetailBasic
	}
	return &Recorder{cfg: cfg, sinks: sinks}
}

// Record emits one entry. Missing ID and timestamp are filled in; query
// text, parameters, and response are stripped according to the detail
// level and toggles. Sink failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if !r.cfg.Enabled {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if r.cfg.Detail == DetailBasic {
		entry.Query = ""
	}
	if !r.cfg.LogParameters || r.cfg.Detail != DetailFull {
		entry.Parameters = nil
	}
	if !r.cfg.LogResponses || r.cfg.Detail != DetailFull {
		entry.Response = nil
	}

	for _, sink := range r.sinks {
		if err := sink.Log(ctx, entry); err != nil {
			slog.Error("audit sink failure",
				"entry_id", entry.ID,
				"operation", entry.Operation,
				"error", err,
			)
		}
	}
}

// Close closes every sink.
func (r *Recorder) Close() error {
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
