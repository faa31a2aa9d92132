package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// FileSink appends entries to a file, one JSON object per line.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens (or creates) the audit file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "opening audit file")
	}
	return &FileSink{path: path, f: f}, nil
}

// Log appends one entry as a JSON line.
func (s *FileSink) Log(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.KindAuditSink, "encoding audit entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.f, "%s\n", data); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindAuditSink, "appending audit entry")
	}
	return nil
}

// Query scans the file and returns matching entries, newest first.
func (s *FileSink) Query(_ context.Context, filter QueryFilter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "reading audit file")
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip lines written by older formats
		}
		if matchesFilter(entry, filter) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindAuditSink, "scanning audit file")
	}

	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func matchesFilter(entry Entry, filter QueryFilter) bool {
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.CallerID != "" && entry.CallerID != filter.CallerID {
		return false
	}
	if filter.Operation != "" && entry.Operation != filter.Operation {
		return false
	}
	if filter.Success != nil && entry.Success != *filter.Success {
		return false
	}
	return true
}

// Verify interface compliance.
var _ Sink = (*FileSink)(nil)
