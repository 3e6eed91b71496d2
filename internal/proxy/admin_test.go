package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tessera-mem/tessera/internal/memory"
)

func newTestStore(t *testing.T) *memory.TieredStore {
	t.Helper()
	dir := t.TempDir()
	store, err := memory.NewTieredStore(memory.TieredStoreConfig{
		RedisAddr:  "127.0.0.1:0",
		SQLitePath: dir + "/warm.db",
		BadgerPath: dir + "/cold",
		Dimension:  4,
	})
	if err != nil {
		t.Skipf("skipping: tiered store requires live backends: %v", err)
	}
	return store
}

func TestAdminStatsHandlerReturnsZeroCountsForEmptyStore(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	admin := NewAdminServer(store, NewEventBroadcaster(), memory.NewSessionTrackerRegistry(0), nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec := httptest.NewRecorder()

	admin.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats DaemonStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if stats.TotalMemories != 0 {
		t.Errorf("expected zero memories in a fresh store, got %d", stats.TotalMemories)
	}
}

func TestAdminMemoriesHandlerDefaultLimit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	admin := NewAdminServer(store, NewEventBroadcaster(), memory.NewSessionTrackerRegistry(0), nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/memories", nil)
	rec := httptest.NewRecorder()

	admin.Handler().ServeHTTP(rec, req)

	var resp MemoriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.Limit != defaultMemoriesLimit {
		t.Errorf("expected default limit %d, got %d", defaultMemoriesLimit, resp.Limit)
	}
}

func TestParseTierRejectsUnknownValues(t *testing.T) {
	if _, ok := parseTier("lukewarm"); ok {
		t.Error("expected an unrecognized tier string to be rejected")
	}
	if tier, ok := parseTier("cold"); !ok || tier != memory.TierCold {
		t.Errorf("expected cold to parse, got %v %v", tier, ok)
	}
}
