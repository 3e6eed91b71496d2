package memory

import (
	"context"
	"testing"
	"time"
)

func newRetrievalTestStore(t *testing.T) *TieredStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewTieredStore(TieredStoreConfig{
		RedisAddr:  "127.0.0.1:0",
		SQLitePath: dir + "/warm.db",
		BadgerPath: dir + "/cold",
		Dimension:  8,
	})
	if err != nil {
		t.Skipf("skipping: tiered store requires live backends: %v", err)
	}
	return store
}

func seedRetrievalRecord(t *testing.T, store *TieredStore, embedder EmbeddingGenerator, content string, conversationID *string) *MemoryRecord {
	t.Helper()
	vec, err := embedder.Generate(context.Background(), content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	r := NewMemoryRecord(content, vec, MemoryTypeSemantic, SourceConversation)
	r.ConversationID = conversationID
	r.SetWeight(0.8)
	if err := store.Insert(context.Background(), r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return r
}

func newTestRetrievalPipeline(store *TieredStore, embedder EmbeddingGenerator) *RetrievalPipeline {
	return NewRetrievalPipeline(store, embedder, DefaultWeightConfig(), DefaultRetrievalConfig(), NewSessionTrackerRegistry(0), nil)
}

// TestRetrieveSessionIsolation mirrors the session-scoping contract: a
// session sees its own memories plus globals; a sessionless request sees
// globals only.
func TestRetrieveSessionIsolation(t *testing.T) {
	store := newRetrievalTestStore(t)
	defer store.Close()

	embedder := NewDeterministicEmbedding(8)
	s1, s2 := "s1", "s2"
	a := seedRetrievalRecord(t, store, embedder, "user prefers dark mode", &s1)
	seedRetrievalRecord(t, store, embedder, "user prefers dark mode", &s2)
	global := seedRetrievalRecord(t, store, embedder, "user prefers dark mode", nil)

	p := newTestRetrievalPipeline(store, embedder)

	got, err := p.Retrieve(context.Background(), "user prefers dark mode", s1, 10)
	if err != nil {
		t.Fatalf("retrieve s1: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range got {
		ids[r.ID] = true
	}
	if !ids[a.ID] || !ids[global.ID] {
		t.Errorf("expected session record and global to be visible to s1, got %v", ids)
	}
	if len(got) != 2 {
		t.Errorf("expected exactly the s1 record plus the global, got %d records", len(got))
	}

	got, err = p.Retrieve(context.Background(), "user prefers dark mode", "", 10)
	if err != nil {
		t.Fatalf("retrieve global: %v", err)
	}
	if len(got) != 1 || got[0].ID != global.ID {
		t.Errorf("expected a sessionless query to see only the global record, got %+v", got)
	}
}

// TestRetrieveDedupesAcrossCalls mirrors the injection-dedup contract: a
// memory injected once for a session is never handed back to it.
func TestRetrieveDedupesAcrossCalls(t *testing.T) {
	store := newRetrievalTestStore(t)
	defer store.Close()

	embedder := NewDeterministicEmbedding(8)
	seedRetrievalRecord(t, store, embedder, "user prefers dark mode", nil)

	p := newTestRetrievalPipeline(store, embedder)

	first, err := p.Retrieve(context.Background(), "user prefers dark mode", "s1", 10)
	if err != nil {
		t.Fatalf("first retrieve: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected the seeded memory on the first call, got %d", len(first))
	}

	second, err := p.Retrieve(context.Background(), "user prefers dark mode", "s1", 10)
	if err != nil {
		t.Fatalf("second retrieve: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected zero memories on the second identical call, got %d", len(second))
	}
}

// TestRetrieveExpiredContextReturnsEmpty checks the degrade-on-deadline
// posture: an already-expired context yields zero memories, not an error.
func TestRetrieveExpiredContextReturnsEmpty(t *testing.T) {
	store := newRetrievalTestStore(t)
	defer store.Close()

	embedder := NewDeterministicEmbedding(8)
	p := newTestRetrievalPipeline(store, embedder)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	got, err := p.Retrieve(ctx, "anything", "s1", 5)
	if err != nil {
		t.Fatalf("expected deadline expiry to be silent, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected zero memories on an expired context, got %d", len(got))
	}
}
