package memory

import (
	"context"
	"testing"
	"time"
)

func newEvictorTestStore(t *testing.T) *TieredStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewTieredStore(TieredStoreConfig{
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

func TestEvictorRemovesLowestWeightRecordsBeyondCapacity(t *testing.T) {
	store := newEvictorTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	ids := make([]string, 0, 3)
	weights := []float64{0.9, 0.1, 0.5}
	for _, w := range weights {
		r := NewMemoryRecord("content", []float32{0, 0, 0, 0}, MemoryTypeEpisodic, SourceConversation)
		r.Tier = TierWarm
		r.SetWeight(w)
		r.CreatedAt = now
		r.LastAccessed = now
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, r.ID)
	}

	e := NewEvictor(store, DefaultWeightConfig(), nil)
	result, err := e.Evict(ctx, TierWarm, 2, now)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if result.TierCount != 3 {
		t.Errorf("expected tier count 3, got %d", result.TierCount)
	}
	if result.Evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", result.Evicted)
	}

	if _, err := store.Get(ctx, ids[1]); err == nil {
		t.Error("expected the lowest-weight record to have been evicted")
	}
}

func TestEvictorNoopWhenUnderCapacity(t *testing.T) {
	store := newEvictorTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	r := NewMemoryRecord("content", []float32{0, 0, 0, 0}, MemoryTypeEpisodic, SourceConversation)
	r.Tier = TierCold
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e := NewEvictor(store, DefaultWeightConfig(), nil)
	result, err := e.EvictCold(ctx, 10, now)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if result.Evicted != 0 {
		t.Errorf("expected no eviction under capacity, got %d", result.Evicted)
	}
}
