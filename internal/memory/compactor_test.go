package memory

import (
	"context"
	"testing"
	"time"
)

func newCompactorTestStore(t *testing.T) *TieredStore {
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

func TestNextLevelForAdvancesThroughHash(t *testing.T) {
	if got := nextLevelFor(CompressionFull); got != CompressionSummary {
		t.Errorf("expected Full->Summary, got %v", got)
	}
	if got := nextLevelFor(CompressionSummary); got != CompressionKeywords {
		t.Errorf("expected Summary->Keywords, got %v", got)
	}
	if got := nextLevelFor(CompressionKeywords); got != CompressionHash {
		t.Errorf("expected Keywords->Hash, got %v", got)
	}
	if got := nextLevelFor(CompressionHash); got != CompressionHash {
		t.Errorf("expected Hash to be terminal, got %v", got)
	}
}

func TestSummarizeShortContentUnchanged(t *testing.T) {
	content := "short text"
	if got := summarize(content, nil, 280); got != content {
		t.Errorf("expected unchanged content, got %q", got)
	}
}

func TestSummarizeKeepsFirstSentenceAndEntityMentions(t *testing.T) {
	content := "Long text with Alice. Unrelated filler sentence. Bob said something about the weather."
	got := summarize(content, []string{"Alice"}, 200)
	if got != "Long text with Alice" {
		t.Errorf("expected first sentence only (no other sentence mentions Alice), got %q", got)
	}
}

func TestSummarizeCapsAtMaxChars(t *testing.T) {
	content := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen"
	got := summarize(content, nil, 15)
	if len([]rune(got)) > 15 {
		t.Errorf("expected summary capped at 15 chars, got %q (%d chars)", got, len([]rune(got)))
	}
}

func TestKeywordStringJoinsEntitiesWithSemicolon(t *testing.T) {
	got := keywordString([]string{"Alice", "Bob"}, 100)
	if got != "Alice; Bob" {
		t.Errorf("expected entities joined with \"; \", got %q", got)
	}
}

func TestKeywordStringCapsAtMaxChars(t *testing.T) {
	got := keywordString([]string{"Alice", "Bob", "Carol", "Dave", "Eve"}, 10)
	if len([]rune(got)) > 10 {
		t.Errorf("expected keyword string capped at 10 chars, got %q", got)
	}
}

func TestContentHashIsSixteenHexChars(t *testing.T) {
	h := contentHash("some content")
	if len(h) != 16 {
		t.Fatalf("expected 16-hex-char hash, got %d chars: %q", len(h), h)
	}
	for _, r := range h {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Errorf("expected lowercase hex digit, got %q in %q", r, h)
		}
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := contentHash("some content")
	b := contentHash("some content")
	if a != b {
		t.Error("expected hash compression to be deterministic")
	}
	if a == contentHash("other content") {
		t.Error("expected different content to hash differently")
	}
}

func TestCompressFullReturnsContentUnchanged(t *testing.T) {
	if got := compress("hello", nil, CompressionFull); got != "hello" {
		t.Errorf("expected Full level to pass content through, got %q", got)
	}
}

// TestCompactorFullLifecycle mirrors the spec's end-to-end compaction
// scenario: a low-weight, long-idle record advances one compression step
// per Compact call, converging on a 16-hex-char hash.
func TestCompactorFullLifecycle(t *testing.T) {
	store := newCompactorTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	r := NewMemoryRecord("long text with Alice", []float32{0, 0, 0, 0}, MemoryTypeEpisodic, SourceConversation)
	r.Entities = []string{"Alice"}
	r.SetWeight(0.1)
	r.Tier = TierCold
	r.LastAccessed = now.Add(-30 * 24 * time.Hour)
	r.CreatedAt = r.LastAccessed

	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := NewCompactor(store, DefaultWeightConfig(), nil)

	res, err := c.Compact(ctx, TierCold, now)
	if err != nil {
		t.Fatalf("compact run 1: %v", err)
	}
	if res.Compacted != 1 {
		t.Fatalf("run 1: expected 1 compacted, got %+v", res)
	}
	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get after run 1: %v", err)
	}
	if got.Compression != CompressionSummary {
		t.Errorf("run 1: expected Summary, got %v", got.Compression)
	}

	res, err = c.Compact(ctx, TierCold, now)
	if err != nil {
		t.Fatalf("compact run 2: %v", err)
	}
	if res.Compacted != 1 {
		t.Fatalf("run 2: expected 1 compacted, got %+v", res)
	}
	got, err = store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get after run 2: %v", err)
	}
	if got.Compression != CompressionKeywords {
		t.Errorf("run 2: expected Keywords, got %v", got.Compression)
	}
	if got.Content != "Alice" {
		t.Errorf("run 2: expected content %q, got %q", "Alice", got.Content)
	}

	res, err = c.Compact(ctx, TierCold, now)
	if err != nil {
		t.Fatalf("compact run 3: %v", err)
	}
	if res.Compacted != 1 {
		t.Fatalf("run 3: expected 1 compacted, got %+v", res)
	}
	got, err = store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get after run 3: %v", err)
	}
	if got.Compression != CompressionHash {
		t.Errorf("run 3: expected Hash, got %v", got.Compression)
	}
	if len(got.Content) != 16 {
		t.Errorf("run 3: expected 16-char hash content, got %q", got.Content)
	}

	res, err = c.Compact(ctx, TierCold, now)
	if err != nil {
		t.Fatalf("compact run 4: %v", err)
	}
	if res.AlreadyCompressed != 1 || res.Compacted != 0 {
		t.Errorf("run 4: expected the Hash record to be reported already-compressed, got %+v", res)
	}
}

func TestCompactorSkipsHighWeightRegardlessOfIdleness(t *testing.T) {
	store := newCompactorTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	r := NewMemoryRecord("important but old", []float32{0, 0, 0, 0}, MemoryTypeEpisodic, SourceConversation)
	// The cutoff applies to w_eff: idle 7 days in Warm with a capped access
	// boost gives 0.95 * exp(-7/30) * 2 * exp(-0.5), about 0.91.
	r.SetWeight(0.95)
	r.Tier = TierWarm
	r.AccessCount = 100
	r.LastAccessed = now.Add(-7 * 24 * time.Hour)
	r.CreatedAt = r.LastAccessed

	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	c := NewCompactor(store, DefaultWeightConfig(), nil)
	res, err := c.Compact(ctx, TierWarm, now)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if res.SkippedHighWeight != 1 || res.Compacted != 0 {
		t.Errorf("expected high-weight record to be skipped, got %+v", res)
	}
}
