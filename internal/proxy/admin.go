package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tessera-mem/tessera/internal/memory"
)

// AdminMemory is the public projection of a memory.MemoryRecord returned by
// /admin/memories: it drops the embedding vector, which exists purely for
// internal search and would otherwise dominate the payload size.
type AdminMemory struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	MemoryType     string   `json:"memory_type"`
	Tier           string   `json:"tier"`
	Weight         float64  `json:"weight"`
	AccessCount    uint64   `json:"access_count"`
	CreatedAt      string   `json:"created_at"`
	LastAccessed   string   `json:"last_accessed"`
	Entities       []string `json:"entities"`
	ConversationID *string  `json:"conversation_id,omitempty"`
}

func newAdminMemory(r *memory.MemoryRecord) AdminMemory {
	return AdminMemory{
		ID:             r.ID,
		Content:        r.Content,
		MemoryType:     string(r.MemoryType),
		Tier:           string(r.Tier),
		Weight:         r.Weight,
		AccessCount:    r.AccessCount,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		LastAccessed:   r.LastAccessed.Format(time.RFC3339),
		Entities:       r.Entities,
		ConversationID: r.ConversationID,
	}
}

// MemoriesResponse is the paginated /admin/memories response body.
type MemoriesResponse struct {
	Memories []AdminMemory `json:"memories"`
	Total    uint64        `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

const defaultMemoriesLimit = 50

// AdminServer exposes the read-only monitoring surface: stats, a paginated
// memory listing, and an SSE event stream. It is intentionally separate
// from ProxyServer and listens on its own port.
type AdminServer struct {
	store      *memory.TieredStore
	events     *EventBroadcaster
	sessions   *memory.SessionTrackerRegistry
	requestLog *RequestLog
}

func NewAdminServer(store *memory.TieredStore, events *EventBroadcaster, sessions *memory.SessionTrackerRegistry, requestLog *RequestLog) *AdminServer {
	return &AdminServer{store: store, events: events, sessions: sessions, requestLog: requestLog}
}

// Handler builds the admin mux: GET /admin/stats, /admin/memories, /admin/events.
func (a *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/stats", a.handleStats)
	mux.HandleFunc("/admin/memories", a.handleMemories)
	mux.HandleFunc("/admin/events", a.handleEvents)
	return mux
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := a.collectStats(ctx)
	if err != nil {
		http.Error(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (a *AdminServer) collectStats(ctx context.Context) (DaemonStats, error) {
	hot, err := a.store.CountByTier(ctx, memory.TierHot)
	if err != nil {
		return DaemonStats{}, err
	}
	warm, err := a.store.CountByTier(ctx, memory.TierWarm)
	if err != nil {
		return DaemonStats{}, err
	}
	cold, err := a.store.CountByTier(ctx, memory.TierCold)
	if err != nil {
		return DaemonStats{}, err
	}

	var totalRequests uint64
	if a.requestLog != nil {
		totalRequests, _ = a.requestLog.Total(ctx)
	}

	var activeSessions int
	if a.sessions != nil {
		activeSessions = a.sessions.ActiveSessions()
	}

	return DaemonStats{
		TotalMemories:  uint64(hot + warm + cold),
		HotCount:       uint64(hot),
		WarmCount:      uint64(warm),
		ColdCount:      uint64(cold),
		TotalRequests:  totalRequests,
		ActiveSessions: uint64(activeSessions),
	}, nil
}

func (a *AdminServer) handleMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultMemoriesLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	filter := memory.NewMemoryFilter()
	if typeParam := q.Get("type"); typeParam != "" {
		filter = filter.WithMemoryTypes(memory.MemoryType(typeParam))
	}

	tiers := []memory.StorageTier{memory.TierHot, memory.TierWarm, memory.TierCold}
	if tierParam := q.Get("tier"); tierParam != "" {
		if t, ok := parseTier(tierParam); ok {
			tiers = []memory.StorageTier{t}
		}
	}

	ctx := r.Context()
	var all []*memory.MemoryRecord
	var total uint64
	for _, tier := range tiers {
		records, err := a.store.ListFiltered(ctx, tier, filter, 0, 0)
		if err != nil {
			http.Error(w, "failed to list memories", http.StatusInternalServerError)
			return
		}
		all = append(all, records...)
		total += uint64(len(records))
	}

	start := offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	page := make([]AdminMemory, 0, end-start)
	for _, r := range all[start:end] {
		page = append(page, newAdminMemory(r))
	}

	writeJSON(w, MemoriesResponse{Memories: page, Total: total, Limit: limit, Offset: offset})
}

func parseTier(s string) (memory.StorageTier, bool) {
	switch s {
	case "hot":
		return memory.TierHot, true
	case "warm":
		return memory.TierWarm, true
	case "cold":
		return memory.TierCold, true
	default:
		return "", false
	}
}

// handleEvents streams ProxyEvents as SSE, with a periodic heartbeat so
// idle connections are not reaped by intermediaries.
func (a *AdminServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := a.events.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			stats, err := a.collectStats(ctx)
			if err != nil {
				continue
			}
			if err := writeSSE(w, NewHeartbeatEvent(stats)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event ProxyEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
