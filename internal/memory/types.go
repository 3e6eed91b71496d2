// Package memory implements the tiered semantic memory layer: the
// canonical record model, weight engine, tier lifecycle, retrieval and
// ingestion pipelines, and the per-tier storage backends.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies the kind of fact a MemoryRecord holds.
type MemoryType string

const (
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// MemorySource records where a memory's content originated.
type MemorySource string

const (
	SourceConversation MemorySource = "conversation"
	SourceFile         MemorySource = "file"
	SourceWeb          MemorySource = "web"
	SourceManual       MemorySource = "manual"
)

// StorageTier is the coarse retention class a record currently lives in.
type StorageTier string

const (
	TierHot  StorageTier = "hot"
	TierWarm StorageTier = "warm"
	TierCold StorageTier = "cold"
)

// CompressionLevel tracks how much a record's content has been shrunk by
// the Compactor. It only ever advances: Full -> Summary -> Keywords -> Hash.
type CompressionLevel string

const (
	CompressionFull     CompressionLevel = "full"
	CompressionSummary  CompressionLevel = "summary"
	CompressionKeywords CompressionLevel = "keywords"
	CompressionHash     CompressionLevel = "hash"
)

// compressionRank gives CompressionLevel a total order so callers can check
// monotonic progression without a switch statement at every call site.
var compressionRank = map[CompressionLevel]int{
	CompressionFull:     0,
	CompressionSummary:  1,
	CompressionKeywords: 2,
	CompressionHash:     3,
}

// MemoryRecord is the durable unit of remembered information.
type MemoryRecord struct {
	ID             string
	Content        string
	Embedding      []float32
	MemoryType     MemoryType
	Source         MemorySource
	Weight         float64
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    uint64
	ConversationID *string
	Entities       []string
	Tier           StorageTier
	Compression    CompressionLevel
}

// NewMemoryRecord constructs a record with the defaults ingestion uses:
// weight 1.0 (the caller normally overwrites this with WeightEngine's
// initial weight before inserting), Hot tier, Full compression.
func NewMemoryRecord(content string, embedding []float32, memType MemoryType, source MemorySource) *MemoryRecord {
	now := time.Now().UTC()
	return &MemoryRecord{
		ID:           uuid.NewString(),
		Content:      content,
		Embedding:    embedding,
		MemoryType:   memType,
		Source:       source,
		Weight:       1.0,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  0,
		Tier:         TierHot,
		Compression:  CompressionFull,
	}
}

// MarkAccessed bumps the access counter and refreshes last-accessed. Called
// by RetrievalPipeline on every survivor it returns.
func (m *MemoryRecord) MarkAccessed() {
	m.AccessCount++
	m.LastAccessed = time.Now().UTC()
}

// SetWeight clamps to [0,1] before assigning, per the MemoryRecord invariant.
func (m *MemoryRecord) SetWeight(w float64) {
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	m.Weight = w
}

// AdvanceCompression moves to the next compression level, refusing to skip
// steps or regress. Returns false if already at Hash.
func (m *MemoryRecord) AdvanceCompression(next CompressionLevel) bool {
	cur, ok := compressionRank[m.Compression]
	if !ok {
		return false
	}
	want, ok := compressionRank[next]
	if !ok || want != cur+1 {
		return false
	}
	m.Compression = next
	return true
}

// CanMigrate reports whether a direct tier transition is legal. Hot<->Cold
// direct transitions are forbidden; records must transit Warm.
func CanMigrate(from, to StorageTier) bool {
	if from == to {
		return false
	}
	switch {
	case from == TierHot && to == TierWarm:
		return true
	case from == TierWarm && to == TierHot:
		return true
	case from == TierWarm && to == TierCold:
		return true
	case from == TierCold && to == TierWarm:
		return true
	default:
		return false
	}
}
