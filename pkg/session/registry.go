package session

import (
	"log/slog"
	"sync"
	"time"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// Defaults for the registry configuration.
const (
	DefaultMaxSessions   = 1000
	DefaultTimeout       = 1800 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

// RemovalReason says why a session was removed.
type RemovalReason string

const (
	// ReasonClosed is an explicit close by the client or bridge.
	ReasonClosed RemovalReason = "closed"

	// ReasonExpired means the sweep found the session inactive past the timeout.
	ReasonExpired RemovalReason = "expired"

	// ReasonEvicted means the session was the oldest at capacity.
	ReasonEvicted RemovalReason = "evicted"

	// ReasonShutdown means the registry was shut down.
	ReasonShutdown RemovalReason = "shutdown"
)

// Config configures the Registry.
type Config struct {
	// MaxSessions caps live sessions. At capacity, creating a new session
	// evicts the oldest. Defaults to DefaultMaxSessions.
	MaxSessions int

	// Timeout is the inactivity duration after which the sweep removes a
	// session. Defaults to DefaultTimeout.
	Timeout time.Duration

	// SweepInterval is how often the sweeper runs. Defaults to
	// DefaultSweepInterval.
	SweepInterval time.Duration
}

// Metrics is a snapshot of registry counters.
type Metrics struct {
	Created     int64
	Active      int64
	Expired     int64
	SweepRuns   int64
	AvgDuration time.Duration
}

// Registry owns the map of session id to session state. All mutating
// operations are serialized; observer callbacks run outside the lock.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session

	created   int64
	expired   int64
	sweepRuns int64
	avgDur    float64 // seconds, incremental running average
	durations int64

	onCreated []func(*Session)
	onRemoved []func(*Session, RemovalReason)

	done     chan struct{}
	sweeping bool
	stopOnce sync.Once
	swept    chan struct{}
}

// NewRegistry creates a registry with defaults applied to cfg.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// OnCreated registers a lifecycle callback invoked after each creation.
// Register observers before serving traffic; registration is not synchronized
// with concurrent Create calls.
func (r *Registry) OnCreated(fn func(*Session)) {
	r.onCreated = append(r.onCreated, fn)
}

// OnRemoved registers a lifecycle callback invoked after each removal.
func (r *Registry) OnRemoved(fn func(*Session, RemovalReason)) {
	r.onRemoved = append(r.onRemoved, fn)
}

// Create inserts a new session. It fails if id already exists. If the
// registry is at capacity the single oldest session is evicted first, its
// transport released synchronously, so total concurrent resources stay
// bounded.
func (r *Registry) Create(id string, kind Kind, transport Transport) (*Session, error) {
	var evicted *Session

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, gwerrors.Newf(gwerrors.KindProtocol, "session %q already exists", id).
			WithContext("session_id", id)
	}

	if len(r.sessions) >= r.cfg.MaxSessions {
		evicted = r.oldestLocked()
		if evicted != nil {
			r.removeLocked(evicted)
		}
	}

	now := time.Now()
	sess := &Session{
		ID:             id,
		Kind:           kind,
		CreatedAt:      now,
		LastActivityAt: now,
		Metadata:       make(map[string]any),
		transport:      transport,
	}
	r.sessions[id] = sess
	r.created++
	r.mu.Unlock()

	if evicted != nil {
		slog.Warn("session evicted at capacity",
			"evicted_id", evicted.ID,
			"max_sessions", r.cfg.MaxSessions,
		)
		r.notifyRemoved(evicted, ReasonEvicted)
	}
	r.notifyCreated(sess)
	return sess, nil
}

// Get resolves a live session and refreshes its activity timestamp; read
// access from the relay path counts as activity.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.KindSessionNotFound, "session %q not found", id).
			WithContext("session_id", id).
			WithSuggestion("open a new stream to obtain a fresh session id")
	}
	sess.LastActivityAt = time.Now()
	return sess, nil
}

// SetUpstreamID records the upstream-assigned identifier. The id is set at
// most once per session; a second attempt is rejected.
func (r *Registry) SetUpstreamID(id, upstreamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return gwerrors.Newf(gwerrors.KindSessionNotFound, "session %q not found", id)
	}
	if sess.UpstreamSessionID != "" {
		return gwerrors.Newf(gwerrors.KindProtocol,
			"upstream id already set for session %q", id)
	}
	sess.UpstreamSessionID = upstreamID
	return nil
}

// SetMetadata stores a metadata value for a live session. Metadata writes
// go through the registry so they are serialized with concurrent readers.
func (r *Registry) SetMetadata(id, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return gwerrors.Newf(gwerrors.KindSessionNotFound, "session %q not found", id)
	}
	sess.Metadata[key] = value
	return nil
}

// View runs fn against the session while the registry lock is held and
// refreshes the activity timestamp, like Get. fn must copy out what it
// needs and must not retain the session or block.
func (r *Registry) View(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return gwerrors.Newf(gwerrors.KindSessionNotFound, "session %q not found", id).
			WithContext("session_id", id).
			WithSuggestion("open a new stream to obtain a fresh session id")
	}
	sess.LastActivityAt = time.Now()
	fn(sess)
	return nil
}

// Remove closes the session's transport and deletes the record. It returns
// whether a session existed. Safe to call repeatedly.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		r.removeLocked(sess)
	}
	r.mu.Unlock()

	if ok {
		r.notifyRemoved(sess, ReasonClosed)
	}
	return ok
}

// Sweep removes every session inactive beyond the configured timeout and
// returns how many were removed. Safe to run concurrently with the other
// registry operations.
func (r *Registry) Sweep() int {
	now := time.Now()

	r.mu.Lock()
	r.sweepRuns++
	var stale []*Session
	for _, sess := range r.sessions {
		if now.Sub(sess.LastActivityAt) > r.cfg.Timeout {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		r.removeLocked(sess)
		r.expired++
	}
	r.mu.Unlock()

	for _, sess := range stale {
		r.notifyRemoved(sess, ReasonExpired)
	}
	if len(stale) > 0 {
		slog.Info("session sweep removed inactive sessions", "count", len(stale))
	}
	return len(stale)
}

// StartSweeper starts the periodic sweep. It is stopped by Shutdown.
func (r *Registry) StartSweeper() {
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return
	}
	r.sweeping = true
	r.swept = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.swept)

		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Shutdown stops the sweeper and removes every remaining session, waiting
// for all removals to complete before returning.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	if r.sweeping {
		swept := r.swept
		r.mu.Unlock()
		<-swept
		r.mu.Lock()
	}

	remaining := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		remaining = append(remaining, sess)
	}
	for _, sess := range remaining {
		r.removeLocked(sess)
	}
	r.mu.Unlock()

	for _, sess := range remaining {
		r.notifyRemoved(sess, ReasonShutdown)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Metrics returns a snapshot of the registry counters.
func (r *Registry) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Metrics{
		Created:     r.created,
		Active:      int64(len(r.sessions)),
		Expired:     r.expired,
		SweepRuns:   r.sweepRuns,
		AvgDuration: time.Duration(r.avgDur * float64(time.Second)),
	}
}

// oldestLocked returns the session with the earliest CreatedAt.
func (r *Registry) oldestLocked() *Session {
	var oldest *Session
	for _, sess := range r.sessions {
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	return oldest
}

// removeLocked deletes the session, releases its transport, and folds its
// duration into the running average: avg' = avg + (duration - avg) / n.
func (r *Registry) removeLocked(sess *Session) {
	delete(r.sessions, sess.ID)
	if err := sess.closeTransport(); err != nil {
		slog.Warn("closing session transport", "session_id", sess.ID, "error", err)
	}

	dur := time.Since(sess.CreatedAt).Seconds()
	r.durations++
	r.avgDur += (dur - r.avgDur) / float64(r.durations)
}

func (r *Registry) notifyCreated(sess *Session) {
	for _, fn := range r.onCreated {
		fn(sess)
	}
}

func (r *Registry) notifyRemoved(sess *Session, reason RemovalReason) {
	for _, fn := range r.onRemoved {
		fn(sess, reason)
	}
}
