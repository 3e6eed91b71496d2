package proxy

import (
	"sync"
	"time"

	"github.com/tessera-mem/tessera/internal/memory"
)

// conversationBufferTTL mirrors the session tracker registry's idle
// eviction window: a session's conversation window is dropped once nothing
// has touched it for this long.
const conversationBufferTTL = 30 * time.Minute

// ConversationBufferRegistry owns one ConversationBuffer per session id, the
// conversation-capture analogue of memory.SessionTrackerRegistry. The
// empty-string id is the global, unscoped buffer.
type ConversationBufferRegistry struct {
	mu      sync.Mutex
	buffers map[string]*trackedBuffer
}

type trackedBuffer struct {
	buffer    *memory.ConversationBuffer
	lastTouch time.Time
}

func NewConversationBufferRegistry() *ConversationBufferRegistry {
	return &ConversationBufferRegistry{buffers: make(map[string]*trackedBuffer)}
}

// Get returns the buffer for sessionID, creating it on first use.
func (r *ConversationBufferRegistry) Get(sessionID string) *memory.ConversationBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buffers[sessionID]
	if !ok {
		b = &trackedBuffer{buffer: memory.NewConversationBuffer(0, 0)}
		r.buffers[sessionID] = b
	}
	b.lastTouch = time.Now().UTC()
	return b.buffer
}

// EvictIdle drops every non-global buffer untouched since before the TTL.
func (r *ConversationBufferRegistry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, b := range r.buffers {
		if id == "" {
			continue
		}
		if now.Sub(b.lastTouch) > conversationBufferTTL {
			delete(r.buffers, id)
			evicted++
		}
	}
	return evicted
}

// ActiveSessions reports how many session buffers are currently held.
func (r *ConversationBufferRegistry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
