package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tessera-mem/tessera/internal/merr"
)

// tierBackend is the per-tier storage contract TieredStore composes. Each
// tier (Hot/Redis, Warm/SQLite, Cold/Badger) implements this independently;
// TieredStore adds tier-routing, migration, and tombstone bookkeeping on top.
type tierBackend interface {
	Insert(ctx context.Context, r *MemoryRecord) error
	Get(ctx context.Context, id string) (*MemoryRecord, error)
	UpdateFields(ctx context.Context, id string, mutate func(*MemoryRecord)) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, queryVec []float32, filter *MemoryFilter, k int, threshold float64) ([]*MemoryRecord, error)
	ListFiltered(ctx context.Context, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error)
	Count(ctx context.Context) (int64, error)
	CountFiltered(ctx context.Context, filter *MemoryFilter) (int64, error)
	BuildANNIndex(ctx context.Context) error
	Close() error
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Every backend recomputes this exactly on retrieved rows; the ANN
// index is a filter, never the source of truth for ordering.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// scoredRecord pairs a record with its similarity, for ranking helpers
// shared across backends.
type scoredRecord struct {
	record     *MemoryRecord
	similarity float64
}

// rankBySimilarity sorts candidates by similarity descending, truncating to
// k after applying the threshold.
func rankBySimilarity(candidates []scoredRecord, k int, threshold float64) []*MemoryRecord {
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.similarity >= threshold {
			filtered = append(filtered, c)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].similarity > filtered[j].similarity })
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	out := make([]*MemoryRecord, len(filtered))
	for i, c := range filtered {
		out[i] = c.record
	}
	return out
}

func checkDimension(expected int, r *MemoryRecord) error {
	if expected > 0 && len(r.Embedding) != expected {
		return fmt.Errorf("%w: embedding length %d, expected %d", merr.Storage, len(r.Embedding), expected)
	}
	return nil
}
