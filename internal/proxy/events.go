package proxy

import (
	"sync"
	"time"
)

// ProxyEventType tags the variant of a ProxyEvent for JSON consumers,
// mirroring the tagged-enum shape admin clients expect.
type ProxyEventType string

const (
	EventRequestStarted   ProxyEventType = "request_started"
	EventMemoriesInjected ProxyEventType = "memories_injected"
	EventRequestCompleted ProxyEventType = "request_completed"
	EventMemoryIngested   ProxyEventType = "memory_ingested"
	EventHeartbeat        ProxyEventType = "heartbeat"
)

// DaemonStats is the point-in-time snapshot a Heartbeat event and the
// /admin/stats endpoint both report.
type DaemonStats struct {
	TotalMemories  uint64 `json:"total_memories"`
	HotCount       uint64 `json:"hot_count"`
	WarmCount      uint64 `json:"warm_count"`
	ColdCount      uint64 `json:"cold_count"`
	TotalRequests  uint64 `json:"total_requests"`
	ActiveSessions uint64 `json:"active_sessions"`
}

// ProxyEvent is one real-time monitoring event. Exactly one of the typed
// fields is populated, selected by Type; the JSON tag is flattened onto the
// event itself so an admin client can switch on "type" directly.
type ProxyEvent struct {
	Type ProxyEventType `json:"type"`

	// RequestStarted fields.
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// MemoriesInjected fields.
	MemoryIDs []string `json:"memory_ids,omitempty"`
	Count     int      `json:"count,omitempty"`

	// RequestCompleted fields.
	Status    int    `json:"status,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Bytes     *int64 `json:"bytes,omitempty"`

	// MemoryIngested fields.
	MemoryID       string `json:"memory_id,omitempty"`
	MemoryType     string `json:"memory_type,omitempty"`
	ContentPreview string `json:"content_preview,omitempty"`

	// Heartbeat fields.
	Stats *DaemonStats `json:"stats,omitempty"`
}

func NewRequestStartedEvent(requestID, method, path, provider string) ProxyEvent {
	return ProxyEvent{
		Type:      EventRequestStarted,
		RequestID: requestID,
		Method:    method,
		Path:      path,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

func NewMemoriesInjectedEvent(requestID string, memoryIDs []string) ProxyEvent {
	return ProxyEvent{
		Type:      EventMemoriesInjected,
		RequestID: requestID,
		MemoryIDs: memoryIDs,
		Count:     len(memoryIDs),
	}
}

func NewRequestCompletedEvent(requestID string, status int, latency time.Duration, bytes *int64) ProxyEvent {
	return ProxyEvent{
		Type:      EventRequestCompleted,
		RequestID: requestID,
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		Bytes:     bytes,
	}
}

func NewMemoryIngestedEvent(memoryID, memoryType, contentPreview string) ProxyEvent {
	return ProxyEvent{
		Type:           EventMemoryIngested,
		MemoryID:       memoryID,
		MemoryType:     memoryType,
		ContentPreview: contentPreview,
	}
}

func NewHeartbeatEvent(stats DaemonStats) ProxyEvent {
	return ProxyEvent{
		Type:      EventHeartbeat,
		Timestamp: time.Now().UTC(),
		Stats:     &stats,
	}
}

// defaultEventBufferSize bounds each subscriber's channel; a slow admin
// client drops events rather than blocking request handling.
const defaultEventBufferSize = 64

// EventBroadcaster fans ProxyEvents out to any number of SSE subscribers.
// Publish never blocks: a subscriber whose channel is full simply misses
// the event.
type EventBroadcaster struct {
	mu   sync.Mutex
	subs map[chan ProxyEvent]struct{}
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{subs: make(map[chan ProxyEvent]struct{})}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function the caller must invoke when done (typically via
// defer in the SSE handler).
func (b *EventBroadcaster) Subscribe() (<-chan ProxyEvent, func()) {
	ch := make(chan ProxyEvent, defaultEventBufferSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Publish delivers event to every current subscriber, dropping it for any
// subscriber whose buffer is currently full.
func (b *EventBroadcaster) Publish(event ProxyEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of currently attached listeners.
func (b *EventBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
