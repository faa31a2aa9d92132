package security

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// Defaults for the resource limiter.
const (
	DefaultMaxRows              = 1000
	DefaultMaxResponseBytes     = 5 * 1024 * 1024
	DefaultMaxQueriesPerSession = 1000
	DefaultRateWindow           = 60 * time.Second
	DefaultRateBurst            = 100
	DefaultRatePerMinute        = 60
)

// LimitsConfig configures the resource limiter stage.
type LimitsConfig struct {
	// MaxRows caps the row count of a result.
	MaxRows int `yaml:"max_rows"`

	// MaxResponseBytes caps the estimated serialized size of a result.
	MaxResponseBytes int `yaml:"max_response_bytes"`

	// MaxQueriesPerSession caps total queries over a session's lifetime.
	MaxQueriesPerSession int `yaml:"max_queries_per_session"`

	// RateWindow is the sliding rate window. The window resets once it has
	// fully elapsed since the last reset.
	RateWindow time.Duration `yaml:"rate_window"`

	// RateBurst is the hard ceiling on requests within one window.
	RateBurst int `yaml:"rate_burst"`

	// RatePerMinute is the steady-state per-minute ceiling on the derived
	// rate within a window.
	RatePerMinute int `yaml:"rate_per_minute"`
}

func (c *LimitsConfig) applyDefaults() {
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if c.MaxQueriesPerSession <= 0 {
		c.MaxQueriesPerSession = DefaultMaxQueriesPerSession
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = DefaultRatePerMinute
	}
}

// rateWindow is one session's sliding rate counter.
type rateWindow struct {
	start time.Time
	count int
}

// ResourceLimiter enforces row, size, query-count, and rate limits. Query
// and rate counters are scoped per session and reset when the session is
// released.
type ResourceLimiter struct {
	cfg LimitsConfig

	mu      sync.Mutex
	queries map[string]int
	windows map[string]*rateWindow
	now     func() time.Time
}

// NewResourceLimiter creates a limiter with defaults applied to cfg.
func NewResourceLimiter(cfg LimitsConfig) *ResourceLimiter {
	cfg.applyDefaults()
	return &ResourceLimiter{
		cfg:     cfg,
		queries: make(map[string]int),
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// CheckRowCount rejects a result exceeding the configured row cap.
func (l *ResourceLimiter) CheckRowCount(rows int) error {
	if rows > l.cfg.MaxRows {
		return gwerrors.Newf(gwerrors.KindResourceLimit,
			"result has %d rows, exceeding the limit of %d", rows, l.cfg.MaxRows).
			WithContext("rows", rows).
			WithContext("max_rows", l.cfg.MaxRows).
			WithSuggestion("add a WHERE clause or FIRST/ROWS clause to narrow the result")
	}
	return nil
}

// CheckResponseSize rejects a result whose estimated serialized size is
// over the configured byte ceiling.
func (l *ResourceLimiter) CheckResponseSize(v any) error {
	size := EstimateSize(v)
	if size > l.cfg.MaxResponseBytes {
		return gwerrors.Newf(gwerrors.KindResourceLimit,
			"estimated response size %d bytes exceeds the limit of %d", size, l.cfg.MaxResponseBytes).
			WithContext("estimated_bytes", size).
			WithContext("max_bytes", l.cfg.MaxResponseBytes).
			WithSuggestion("select fewer columns or rows")
	}
	return nil
}

// RecordQuery increments the session's query counter on every check,
// regardless of outcome, and rejects once the ceiling is reached.
func (l *ResourceLimiter) RecordQuery(sessionID string) error {
	l.mu.Lock()
	l.queries[sessionID]++
	count := l.queries[sessionID]
	l.mu.Unlock()

	if count > l.cfg.MaxQueriesPerSession {
		return gwerrors.Newf(gwerrors.KindResourceLimit,
			"session exceeded the limit of %d queries", l.cfg.MaxQueriesPerSession).
			WithContext("session_id", sessionID).
			WithContext("max_queries", l.cfg.MaxQueriesPerSession).
			WithSuggestion("open a new session to continue")
	}
	return nil
}

// AllowRequest applies the sliding-window rate limit for the session. Both
// the absolute burst ceiling and the derived per-minute rate are enforced.
func (l *ResourceLimiter) AllowRequest(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[sessionID]
	if !ok || now.Sub(w.start) >= l.cfg.RateWindow {
		w = &rateWindow{start: now}
		l.windows[sessionID] = w
	}
	w.count++

	if w.count > l.cfg.RateBurst {
		return gwerrors.Newf(gwerrors.KindRateLimit,
			"burst limit of %d requests per window exceeded", l.cfg.RateBurst).
			WithContext("session_id", sessionID).
			WithContext("count", w.count).
			WithSuggestion("slow down and retry after the window resets")
	}

	// The elapsed time is floored at one minute so short bursts are judged
	// by the burst ceiling above, not by an exploding instantaneous rate.
	elapsedMinutes := now.Sub(w.start).Minutes()
	if elapsedMinutes < 1 {
		elapsedMinutes = 1
	}
	rate := float64(w.count) / elapsedMinutes
	if rate > float64(l.cfg.RatePerMinute) {
		return gwerrors.Newf(gwerrors.KindRateLimit,
			"rate of %.1f requests/minute exceeds the limit of %d", rate, l.cfg.RatePerMinute).
			WithContext("session_id", sessionID).
			WithSuggestion("slow down and retry after the window resets")
	}
	return nil
}

// ReleaseSession drops the session's counters. Used on session removal and
// for explicit resets.
func (l *ResourceLimiter) ReleaseSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.queries, sessionID)
	delete(l.windows, sessionID)
}

// QueryCount returns the session's current query counter.
func (l *ResourceLimiter) QueryCount(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[sessionID]
}

// EstimateSize estimates the serialized size of v in bytes: strings count
// 2 bytes per character, numbers 8, booleans 4, map keys toward their
// container. The traversal is cycle-safe.
func EstimateSize(v any) int {
	return estimateValue(reflect.ValueOf(v), make(map[uintptr]bool))
}

func estimateValue(v reflect.Value, visited map[uintptr]bool) int {
	if !v.IsValid() {
		return 0
	}

	switch v.Kind() {
	case reflect.String:
		return 2 * len(v.String())
	case reflect.Bool:
		return 4
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 8
	case reflect.Interface:
		return estimateValue(v.Elem(), visited)
	case reflect.Ptr:
		if v.IsNil() || visited[v.Pointer()] {
			return 0
		}
		visited[v.Pointer()] = true
		return estimateValue(v.Elem(), visited)
	case reflect.Slice:
		if v.IsNil() || visited[v.Pointer()] {
			return 0
		}
		visited[v.Pointer()] = true
		return estimateSeq(v, visited)
	case reflect.Array:
		return estimateSeq(v, visited)
	case reflect.Map:
		if v.IsNil() || visited[v.Pointer()] {
			return 0
		}
		visited[v.Pointer()] = true
		total := 0
		iter := v.MapRange()
		for iter.Next() {
			total += estimateValue(iter.Key(), visited)
			total += estimateValue(iter.Value(), visited)
		}
		return total
	case reflect.Struct:
		total := 0
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				total += estimateValue(v.Field(i), visited)
			}
		}
		return total
	default:
		return 2 * len(fmt.Sprint(v.Interface()))
	}
}

func estimateSeq(v reflect.Value, visited map[uintptr]bool) int {
	total := 0
	for i := 0; i < v.Len(); i++ {
		total += estimateValue(v.Index(i), visited)
	}
	return total
}
