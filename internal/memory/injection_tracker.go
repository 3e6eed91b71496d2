package memory

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTrackerCapacity is used whenever a zero or negative capacity is
// requested.
const DefaultTrackerCapacity = 1000

// InjectionTracker is a bounded LRU of memory ids already injected into a
// single session's outbound requests, so RetrievalPipeline never repeats a
// memory the client has already seen. Both MarkInjected and WasInjected
// touch recency.
type InjectionTracker struct {
	cache    *lru.Cache[string, struct{}]
	capacity int
}

// NewInjectionTracker builds a tracker with the given capacity, falling
// back to DefaultTrackerCapacity when capacity <= 0.
func NewInjectionTracker(capacity int) *InjectionTracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	c, _ := lru.New[string, struct{}](capacity)
	return &InjectionTracker{cache: c, capacity: capacity}
}

// MarkInjected records id as injected, refreshing its recency if already present.
func (t *InjectionTracker) MarkInjected(id string) {
	t.cache.Add(id, struct{}{})
}

// WasInjected reports whether id was previously marked, refreshing its
// recency as a side effect (Get promotes in golang-lru).
func (t *InjectionTracker) WasInjected(id string) bool {
	_, ok := t.cache.Get(id)
	return ok
}

// Clear empties the tracker.
func (t *InjectionTracker) Clear() {
	t.cache.Purge()
}

// Len returns the number of tracked ids.
func (t *InjectionTracker) Len() int {
	return t.cache.Len()
}

// IsEmpty reports whether the tracker holds no ids.
func (t *InjectionTracker) IsEmpty() bool {
	return t.cache.Len() == 0
}

// Capacity returns the tracker's configured capacity.
func (t *InjectionTracker) Capacity() int {
	return t.capacity
}

// defaultSessionTTL is how long a session's tracker survives without any
// lookup or mark before it is evicted from the registry.
const defaultSessionTTL = 30 * time.Minute

// SessionTrackerRegistry owns one InjectionTracker per session id, bounded
// by an idle TTL rather than a count, since session churn (not memory
// volume) is the resource this guards against. The empty-string session id
// is used for global (unscoped) requests and is never evicted.
type SessionTrackerRegistry struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	capacity int
	ttl      time.Duration
}

type trackedSession struct {
	tracker   *InjectionTracker
	lastTouch time.Time
}

// NewSessionTrackerRegistry constructs a registry whose per-session trackers
// use the given capacity (0 selects DefaultTrackerCapacity).
func NewSessionTrackerRegistry(capacity int) *SessionTrackerRegistry {
	return &SessionTrackerRegistry{
		sessions: make(map[string]*trackedSession),
		capacity: capacity,
		ttl:      defaultSessionTTL,
	}
}

// Get returns the tracker for sessionID, creating it on first use.
func (r *SessionTrackerRegistry) Get(sessionID string) *InjectionTracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &trackedSession{tracker: NewInjectionTracker(r.capacity)}
		r.sessions[sessionID] = s
	}
	s.lastTouch = time.Now().UTC()
	return s.tracker
}

// EvictIdle removes every tracked session (other than the global one) whose
// last touch is older than the configured TTL, relative to now. Intended to
// be called periodically from a background sweep.
func (r *SessionTrackerRegistry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, s := range r.sessions {
		if id == "" {
			continue
		}
		if now.Sub(s.lastTouch) > r.ttl {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// ActiveSessions reports how many session trackers are currently held,
// including the global one if it has been touched — used by /admin/stats.
func (r *SessionTrackerRegistry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
