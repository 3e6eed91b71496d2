package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/tessera-mem/tessera/internal/curator"
	"github.com/tessera-mem/tessera/internal/models"
)

// ingestRetryBase is the backoff before the single retry a failed store
// write gets; the actual sleep adds up to the same amount again in jitter.
const ingestRetryBase = 100 * time.Millisecond

// IngestionPipeline orchestrates buffer -> curator -> embed -> weight ->
// store on every completed assistant turn. Curator failures are swallowed
// with a warning: ingestion is best-effort and must never affect the
// client response path.
type IngestionPipeline struct {
	store    *TieredStore
	curator  curator.Provider
	embedder EmbeddingGenerator
	graph    *EntityGraph // optional; nil disables the supplemental entity graph
	onStored func(*MemoryRecord)
	logger   *slog.Logger
}

// NewIngestionPipeline constructs an IngestionPipeline. graph may be nil.
func NewIngestionPipeline(store *TieredStore, c curator.Provider, embedder EmbeddingGenerator, graph *EntityGraph, logger *slog.Logger) *IngestionPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionPipeline{store: store, curator: c, embedder: embedder, graph: graph, logger: logger}
}

// SetStoredHook registers a callback invoked after each successful memory
// insert, with the stored record. Used by the proxy to publish
// memory_ingested admin events without the memory package depending on the
// proxy's event types.
func (p *IngestionPipeline) SetStoredHook(fn func(*MemoryRecord)) {
	p.onStored = fn
}

// IngestTurn appends role/content to buffer, and if a full user/assistant
// pair has accumulated since the last curation, runs the curator and writes
// any resulting memories. conversationID is nil for a global (unscoped)
// session.
func (p *IngestionPipeline) IngestTurn(ctx context.Context, buffer *ConversationBuffer, role TurnRole, content string, conversationID *string) {
	buffer.Append(role, content, time.Now().UTC())

	pending, ok := buffer.PendingPair()
	if !ok {
		return
	}

	conversationText := formatConversationWindow(pending)

	result, err := p.curator.Curate(ctx, conversationText)
	if err != nil {
		p.logger.Warn("curator failed, skipping ingestion for this turn", "error", err)
		return
	}
	buffer.MarkCurated()

	if !result.ShouldStore || len(result.Memories) == 0 {
		return
	}

	for _, cm := range result.Memories {
		if err := p.ingestOne(ctx, cm, conversationID); err != nil {
			p.logger.Warn("failed to ingest curated memory", "error", err)
		}
	}
}

func (p *IngestionPipeline) ingestOne(ctx context.Context, cm curator.CuratedMemory, conversationID *string) error {
	embedding, err := p.embedder.Generate(ctx, cm.Content)
	if err != nil {
		return fmt.Errorf("embedding curated memory: %w", err)
	}

	memType := MemoryType(cm.MemoryType)
	record := NewMemoryRecord(cm.Content, embedding, memType, SourceConversation)
	record.ConversationID = conversationID
	record.Entities = cm.Entities
	record.SetWeight(CalculateInitialWeight(cm.Importance, memType, SourceConversation, len(cm.Content)))

	if cm.SupersedesHint != "" {
		p.supersede(ctx, cm.SupersedesHint)
	}

	if err := p.insertWithRetry(ctx, record); err != nil {
		return fmt.Errorf("storing curated memory: %w", err)
	}
	if p.onStored != nil {
		p.onStored(record)
	}

	if p.graph != nil && len(cm.Entities) > 0 {
		p.upsertEntityGraph(ctx, cm.Entities)
	}

	return nil
}

// insertWithRetry retries a failed store write exactly once, after a
// jittered backoff. A second failure propagates to the caller, which logs
// and drops the memory.
func (p *IngestionPipeline) insertWithRetry(ctx context.Context, record *MemoryRecord) error {
	err := p.store.Insert(ctx, record)
	if err == nil {
		return nil
	}
	p.logger.Warn("memory insert failed, retrying once", "id", record.ID, "error", err)

	backoff := ingestRetryBase + time.Duration(rand.Int63n(int64(ingestRetryBase)))
	select {
	case <-ctx.Done():
		return err
	case <-time.After(backoff):
	}
	return p.store.Insert(ctx, record)
}

// supersede writes a Superseded tombstone for a prior memory named by a
// curator's supersedes_hint, when that id actually resolves to a live
// record. An unresolvable hint is logged at debug and otherwise ignored.
func (p *IngestionPipeline) supersede(ctx context.Context, hintID string) {
	prior, err := p.store.Get(ctx, hintID)
	if err != nil {
		p.logger.Debug("supersedes_hint did not resolve to a live memory", "hint", hintID, "error", err)
		return
	}
	if err := p.store.Delete(ctx, prior.Tier, prior.ID, ReasonSuperseded); err != nil {
		p.logger.Warn("failed to tombstone superseded memory", "id", prior.ID, "error", err)
	}
}

// upsertEntityGraph is best-effort: the entity graph is never on the
// retrieval critical path, so a Dgraph failure here is logged and swallowed
// exactly like any other ingestion error.
func (p *IngestionPipeline) upsertEntityGraph(ctx context.Context, entities []string) {
	ids := make([]string, len(entities))
	for i, name := range entities {
		e := &models.Entity{ID: entityID(name), Name: name, Type: "mentioned"}
		if err := p.graph.UpsertEntity(ctx, e); err != nil {
			p.logger.Warn("entity graph upsert failed", "entity", name, "error", err)
			return
		}
		ids[i] = e.ID
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			rel := &models.Relationship{
				ID:         ids[i] + ":" + ids[j],
				FromID:     ids[i],
				ToID:       ids[j],
				Type:       "co_occurs_with",
				Confidence: 1.0,
			}
			if err := p.graph.StoreRelationship(ctx, rel); err != nil {
				p.logger.Warn("entity graph relationship failed", "from", ids[i], "to", ids[j], "error", err)
			}
		}
	}
}

func entityID(name string) string {
	return "entity:" + strings.ToLower(strings.TrimSpace(name))
}

func formatConversationWindow(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
