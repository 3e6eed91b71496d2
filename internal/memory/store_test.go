package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/tessera-mem/tessera/internal/merr"
)

// stringifyHotFields converts encodeHotFields' typed values into the string
// map HGetAll would hand back, so the round trip can be exercised without a
// live Redis.
func stringifyHotFields(fields map[string]interface{}) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case []byte:
			out[k] = string(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func TestHotFieldsRoundTrip(t *testing.T) {
	conv := "session-1"
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &MemoryRecord{
		ID:             "abc-123",
		Content:        "user prefers dark mode",
		Embedding:      []float32{0.25, -1.5, 3.0, 0},
		MemoryType:     MemoryTypeSemantic,
		Source:         SourceConversation,
		Weight:         0.8,
		CreatedAt:      now,
		LastAccessed:   now,
		AccessCount:    3,
		ConversationID: &conv,
		Entities:       []string{"dark mode"},
		Tier:           TierHot,
		Compression:    CompressionFull,
	}

	fields, err := encodeHotFields(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeHotFields(r.ID, stringifyHotFields(fields))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.ID != r.ID || got.Content != r.Content || got.MemoryType != r.MemoryType ||
		got.Source != r.Source || got.Weight != r.Weight || got.AccessCount != r.AccessCount ||
		got.Tier != r.Tier || got.Compression != r.Compression {
		t.Errorf("scalar fields did not round-trip: %+v", got)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) || !got.LastAccessed.Equal(r.LastAccessed) {
		t.Errorf("timestamps did not round-trip: got %v / %v", got.CreatedAt, got.LastAccessed)
	}
	if got.ConversationID == nil || *got.ConversationID != conv {
		t.Errorf("conversation id did not round-trip: %v", got.ConversationID)
	}
	if len(got.Embedding) != len(r.Embedding) {
		t.Fatalf("embedding length did not round-trip: %d", len(got.Embedding))
	}
	for i := range r.Embedding {
		if got.Embedding[i] != r.Embedding[i] {
			t.Errorf("embedding[%d]: got %v, want %v", i, got.Embedding[i], r.Embedding[i])
		}
	}
	if len(got.Entities) != 1 || got.Entities[0] != "dark mode" {
		t.Errorf("entities did not round-trip: %v", got.Entities)
	}
}

func TestColdRecordRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &MemoryRecord{
		ID:           "cold-1",
		Content:      "archived fact",
		Embedding:    []float32{1, 2, 3},
		MemoryType:   MemoryTypeEpisodic,
		Source:       SourceWeb,
		Weight:       0.1,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  7,
		Entities:     []string{"fact"},
		Tier:         TierCold,
		Compression:  CompressionKeywords,
	}

	got := fromColdRecord(toColdRecord(r))
	if got.ID != r.ID || got.Content != r.Content || got.Weight != r.Weight ||
		got.AccessCount != r.AccessCount || got.Compression != r.Compression {
		t.Errorf("cold record did not round-trip: %+v", got)
	}
	if got.Tier != TierCold {
		t.Errorf("expected cold tier after round-trip, got %v", got.Tier)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("created_at did not round-trip: %v", got.CreatedAt)
	}
	if got.ConversationID != nil {
		t.Errorf("expected nil conversation id to survive, got %v", got.ConversationID)
	}
}

func TestEmbeddingVectorSerializationRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159, -2.71828}
	out := deserializeEmbeddingVector(serializeEmbeddingVector(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d components, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestCosineSimilarityIdenticalAndOrthogonal(t *testing.T) {
	a := []float32{1, 0, 0}
	if sim := cosineSimilarity(a, a); sim < 0.999 {
		t.Errorf("expected identical vectors to score ~1, got %v", sim)
	}
	b := []float32{0, 1, 0}
	if sim := cosineSimilarity(a, b); sim != 0 {
		t.Errorf("expected orthogonal vectors to score 0, got %v", sim)
	}
	if sim := cosineSimilarity(a, []float32{1, 0}); sim != 0 {
		t.Errorf("expected mismatched lengths to score 0, got %v", sim)
	}
}

func TestRankBySimilarityOrdersAndTruncates(t *testing.T) {
	mk := func(id string) *MemoryRecord { return &MemoryRecord{ID: id} }
	candidates := []scoredRecord{
		{record: mk("low"), similarity: 0.2},
		{record: mk("high"), similarity: 0.9},
		{record: mk("mid"), similarity: 0.6},
	}

	got := rankBySimilarity(candidates, 2, 0.35)
	if len(got) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(got))
	}
	if got[0].ID != "high" || got[1].ID != "mid" {
		t.Errorf("expected descending similarity order, got %s then %s", got[0].ID, got[1].ID)
	}
}

func TestPaginateBounds(t *testing.T) {
	records := []*MemoryRecord{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if got := paginate(records, 2, 0); len(got) != 2 || got[0].ID != "a" {
		t.Errorf("unexpected first page: %v", got)
	}
	if got := paginate(records, 2, 2); len(got) != 1 || got[0].ID != "c" {
		t.Errorf("unexpected second page: %v", got)
	}
	if got := paginate(records, 2, 5); got != nil {
		t.Errorf("expected nil past the end, got %v", got)
	}
	if got := paginate(records, 0, 0); len(got) != 3 {
		t.Errorf("expected zero limit to return everything, got %d", len(got))
	}
}

func TestCheckDimensionRejectsMismatch(t *testing.T) {
	r := &MemoryRecord{Embedding: []float32{1, 2, 3}}
	if err := checkDimension(4, r); err == nil {
		t.Fatal("expected a dimension mismatch error")
	} else if !merr.Is(err, merr.Storage) {
		t.Errorf("expected a storage-kind error, got %v", err)
	}
	if err := checkDimension(3, r); err != nil {
		t.Errorf("expected matching dimension to pass, got %v", err)
	}
	if err := checkDimension(0, r); err != nil {
		t.Errorf("expected unconfigured dimension to pass, got %v", err)
	}
}
