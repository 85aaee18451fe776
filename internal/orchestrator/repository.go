package orchestrator

import (
	"errors"
	"sort"
	"sync"
)

// Control-plane errors, surfaced to callers with a 4xx-equivalent code.
// Operational failures (probe, subprocess, flush) are logged and absorbed
// instead.
var (
	// ErrSessionExists is returned when a publish-begin event arrives for a
	// path that already has a live session.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when a control request names a stream
	// that has no live session.
	ErrSessionNotFound = errors.New("stream not found")

	// ErrAlreadyForwarding is returned when forwarding is started for a
	// destination that already has an active relay.
	ErrAlreadyForwarding = errors.New("stream is already being forwarded to this destination")

	// ErrNotForwarding is returned when forwarding is stopped for a
	// destination that has no active relay.
	ErrNotForwarding = errors.New("forwarding process not found")

	// ErrInvalidAction is returned for an unknown control action.
	ErrInvalidAction = errors.New("invalid action")
)

// SessionTable is the concurrency-safe single source of truth for which
// streams are live. Create, Get and Destroy are linearizable with respect to
// each other; Destroy is safe concurrently with in-flight reads of the same
// session (readers observe the full prior state or not-found).
type SessionTable struct {
	mu    sync.RWMutex
	store Store
}

// NewSessionTable constructs a table backed by a default in-memory store.
func NewSessionTable() *SessionTable {
	return NewSessionTableWithStore(NewInMemoryStore())
}

// NewSessionTableWithStore constructs a table that uses the given Store.
// Useful for testing or for plugging in a different storage backend.
func NewSessionTableWithStore(store Store) *SessionTable {
	return &SessionTable{store: store}
}

// Insert registers sess under its path. It fails with ErrSessionExists if a
// session for the path is already live, so a session is created exactly once
// per live period.
func (t *SessionTable) Insert(sess *StreamSession) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.store.Get(sess.Path); exists {
		return ErrSessionExists
	}
	t.store.Set(sess)
	return nil
}

// Get returns the live session for path, if any.
func (t *SessionTable) Get(path StreamPath) (*StreamSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Get(path)
}

// Destroy removes and returns the session for path. The second return is
// false if no session was live, making duplicate publish-end events no-ops.
func (t *SessionTable) Destroy(path StreamPath) (*StreamSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.store.Get(path)
	if !ok {
		return nil, false
	}
	t.store.Delete(path)
	return sess, true
}

// ActiveCount returns the number of live sessions. Used for metrics.
func (t *SessionTable) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.store.Paths())
}

// ForwardCount returns the number of active relays across all live sessions.
// Used for metrics.
func (t *SessionTable) ForwardCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.store.Paths() {
		if sess, ok := t.store.Get(p); ok {
			n += sess.ForwardCount()
		}
	}
	return n
}

// LatestMetrics returns the most recent sample of every live session that has
// one, ordered by stream path.
func (t *SessionTable) LatestMetrics() []MetricSnapshot {
	t.mu.RLock()
	paths := t.store.Paths()
	sessions := make([]*StreamSession, 0, len(paths))
	for _, p := range paths {
		if sess, ok := t.store.Get(p); ok {
			sessions = append(sessions, sess)
		}
	}
	t.mu.RUnlock()

	out := make([]MetricSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		if latest := sess.Latest(); latest != nil {
			out = append(out, MetricSnapshot{StreamPath: string(sess.Path), MetricSample: *latest})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamPath < out[j].StreamPath })
	return out
}
