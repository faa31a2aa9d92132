package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileSink(t *testing.T) *FileSink {
	t.Helper()
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestFileSink_LogAndQuery(t *testing.T) {
	sink := newTestFileSink(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{ID: "a", Timestamp: base, CallerID: "alice", Operation: "SELECT", Success: true},
		{ID: "b", Timestamp: base.Add(time.Minute), CallerID: "bob", Operation: "UPDATE", Success: false, ErrorMessage: "denied"},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), CallerID: "alice", Operation: "SELECT", Success: true},
	}
	for _, e := range entries {
		require.NoError(t, sink.Log(ctx, e))
	}

	got, err := sink.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID, "newest first")
	assert.Equal(t, "a", got[2].ID)
}

func TestFileSink_QueryFilters(t *testing.T) {
	sink := newTestFileSink(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Log(ctx, Entry{ID: "a", Timestamp: base, CallerID: "alice", Operation: "SELECT", Success: true}))
	require.NoError(t, sink.Log(ctx, Entry{ID: "b", Timestamp: base.Add(time.Hour), CallerID: "bob", Operation: "UPDATE", Success: false}))

	byCaller, err := sink.Query(ctx, QueryFilter{CallerID: "alice"})
	require.NoError(t, err)
	require.Len(t, byCaller, 1)
	assert.Equal(t, "a", byCaller[0].ID)

	failed := false
	bySuccess, err := sink.Query(ctx, QueryFilter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, bySuccess, 1)
	assert.Equal(t, "b", bySuccess[0].ID)

	cutoff := base.Add(30 * time.Minute)
	byTime, err := sink.Query(ctx, QueryFilter{StartTime: &cutoff})
	require.NoError(t, err)
	require.Len(t, byTime, 1)
	assert.Equal(t, "b", byTime[0].ID)
}

func TestFileSink_QueryLimit(t *testing.T) {
	sink := newTestFileSink(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Log(ctx, Entry{
			ID:        string(rune('a' + i)),
			Timestamp: time.Now(),
			Operation: "SELECT",
			Success:   true,
		}))
	}

	got, err := sink.Query(ctx, QueryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "e", got[0].ID)
}

func TestFileSink_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	require.NoError(t, sink.Log(ctx, Entry{ID: "a", Timestamp: time.Now(), Operation: "SELECT", Success: true}))

	got, err := sink.Query(ctx, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
