package memory

import (
	"sync"
	"time"
)

// TurnRole identifies who spoke a ConversationBuffer turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// Turn is one entry in a ConversationBuffer.
type Turn struct {
	Role      TurnRole
	Content   string
	Timestamp time.Time
}

// ConversationBuffer holds a sliding window of recent turns for one session,
// bounded by both a turn count and a total byte budget; oldest turns are
// evicted first when either ceiling is crossed.
type ConversationBuffer struct {
	mu        sync.Mutex
	turns     []Turn
	maxTurns  int
	maxBytes  int
	byteTotal int

	// curatedThrough counts how many turns (from the front) have already
	// been handed to the curator, so IngestionPipeline only resubmits new
	// pairs rather than re-curating the whole window each time.
	curatedThrough int
}

const (
	defaultMaxTurns = 40
	defaultMaxBytes = 32 * 1024
)

// NewConversationBuffer constructs a buffer with the given ceilings; zero or
// negative values fall back to the defaults.
func NewConversationBuffer(maxTurns, maxBytes int) *ConversationBuffer {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &ConversationBuffer{maxTurns: maxTurns, maxBytes: maxBytes}
}

// Append adds a turn, evicting the oldest entries until both ceilings hold.
func (b *ConversationBuffer) Append(role TurnRole, content string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.turns = append(b.turns, Turn{Role: role, Content: content, Timestamp: now})
	b.byteTotal += len(content)

	for (len(b.turns) > b.maxTurns || b.byteTotal > b.maxBytes) && len(b.turns) > 0 {
		b.byteTotal -= len(b.turns[0].Content)
		b.turns = b.turns[1:]
		if b.curatedThrough > 0 {
			b.curatedThrough--
		}
	}
}

// Turns returns a snapshot of the current window, oldest first.
func (b *ConversationBuffer) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// PendingPair reports whether at least one full user/assistant pair has
// accumulated since the last curation, and if so returns the turns still
// uncurated.
func (b *ConversationBuffer) PendingPair() ([]Turn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.turns[b.curatedThrough:]
	hasUser, hasAssistant := false, false
	for _, t := range pending {
		switch t.Role {
		case RoleUser:
			hasUser = true
		case RoleAssistant:
			hasAssistant = true
		}
	}
	if !hasUser || !hasAssistant {
		return nil, false
	}

	out := make([]Turn, len(pending))
	copy(out, pending)
	return out, true
}

// MarkCurated advances the curated-through cursor to the end of the current
// window, so the next PendingPair call only sees turns appended afterward.
func (b *ConversationBuffer) MarkCurated() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.curatedThrough = len(b.turns)
}

// Len reports the number of turns currently buffered.
func (b *ConversationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}
