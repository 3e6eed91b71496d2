package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tessera-mem/tessera/internal/merr"
)

// RetrievalConfig tunes the thresholds RetrievalPipeline applies on every call.
type RetrievalConfig struct {
	MinWeight         float64
	RelevanceThreshold float64
}

// DefaultRetrievalConfig returns the default values: min_weight=0.1,
// relevance_threshold=0.35.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{MinWeight: 0.1, RelevanceThreshold: 0.35}
}

// RetrievalPipeline runs embed -> search -> filter -> dedupe -> rank ->
// format. It never blocks the request past its deadline: a context that
// expires mid-search yields zero memories rather than an error.
type RetrievalPipeline struct {
	store     *TieredStore
	embedder  EmbeddingGenerator
	weightCfg WeightConfig
	cfg       RetrievalConfig
	trackers  *SessionTrackerRegistry
	logger    *slog.Logger
}

// NewRetrievalPipeline constructs a RetrievalPipeline.
func NewRetrievalPipeline(store *TieredStore, embedder EmbeddingGenerator, weightCfg WeightConfig, cfg RetrievalConfig, trackers *SessionTrackerRegistry, logger *slog.Logger) *RetrievalPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalPipeline{store: store, embedder: embedder, weightCfg: weightCfg, cfg: cfg, trackers: trackers, logger: logger}
}

// rankedCandidate pairs a record with its final injection-rank score.
type rankedCandidate struct {
	record *MemoryRecord
	score  float64
}

// Retrieve runs the full pipeline for userQuery in session sessionID,
// returning up to k memories to inject. sessionID may be empty, meaning the
// request is global (scoped only to records with no conversation_id).
func (p *RetrievalPipeline) Retrieve(ctx context.Context, userQuery, sessionID string, k int) ([]*MemoryRecord, error) {
	select {
	case <-ctx.Done():
		return nil, nil
	default:
	}

	queryVec, err := p.embedder.Generate(ctx, userQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", merr.Embedding, err)
	}

	filter := NewMemoryFilter().WithMinWeight(p.cfg.MinWeight)
	if sessionID == "" {
		filter = filter.WithSessionFilter(nil)
	} else {
		filter = filter.WithSessionFilter(&sessionID)
	}

	candidates, err := p.gatherCandidates(ctx, queryVec, filter, k)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		wEff := CalculateEffectiveWeight(p.weightCfg, c.record, now)
		ranked = append(ranked, rankedCandidate{record: c.record, score: c.similarity * (0.5 + 0.5*wEff)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	tracker := p.trackers.Get(sessionID)

	survivors := make([]*MemoryRecord, 0, k)
	for _, c := range ranked {
		if len(survivors) >= k {
			break
		}
		if tracker.WasInjected(c.record.ID) {
			continue
		}
		survivors = append(survivors, c.record)
	}

	for _, r := range survivors {
		tracker.MarkInjected(r.ID)
	}
	p.touchAsync(r2ids(survivors))

	return survivors, nil
}

// gatherCandidates implements the Hot/Warm/Cold cascade: search Hot with k
// candidates; extend with Warm if Hot alone falls short of k; consult Cold
// only when Hot+Warm together produced fewer than k/2 results. Results are
// filtered to those meeting the relevance threshold before ranking.
func (p *RetrievalPipeline) gatherCandidates(ctx context.Context, queryVec []float32, filter *MemoryFilter, k int) ([]scoredRecord, error) {
	var all []scoredRecord

	hot, err := p.store.Search(ctx, TierHot, queryVec, filter, k, p.cfg.RelevanceThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: searching hot tier: %v", merr.Storage, err)
	}
	all = appendScored(all, hot, queryVec)

	warmCount, err := p.store.CountByTier(ctx, TierWarm)
	if err != nil {
		return nil, fmt.Errorf("%w: counting warm tier: %v", merr.Storage, err)
	}

	if len(all) < k && warmCount > 0 {
		warm, err := p.store.Search(ctx, TierWarm, queryVec, filter, k, p.cfg.RelevanceThreshold)
		if err != nil {
			return nil, fmt.Errorf("%w: searching warm tier: %v", merr.Storage, err)
		}
		all = appendScored(all, warm, queryVec)
	}

	if len(all) < k/2 {
		cold, err := p.store.Search(ctx, TierCold, queryVec, filter, k, p.cfg.RelevanceThreshold)
		if err != nil {
			return nil, fmt.Errorf("%w: searching cold tier: %v", merr.Storage, err)
		}
		all = appendScored(all, cold, queryVec)
	}

	return all, nil
}

func appendScored(into []scoredRecord, records []*MemoryRecord, queryVec []float32) []scoredRecord {
	for _, r := range records {
		into = append(into, scoredRecord{record: r, similarity: cosineSimilarity(queryVec, r.Embedding)})
	}
	return into
}

func r2ids(records []*MemoryRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// touchAsync updates last_accessed/access_count for the survivors
// fire-and-forget: retrieval must not block on the write, so this runs
// detached from the request's context.
func (p *RetrievalPipeline) touchAsync(ids []string) {
	if len(ids) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range ids {
			r, err := p.store.Get(ctx, id)
			if err != nil {
				continue
			}
			if err := p.store.UpdateFields(ctx, r.Tier, id, func(rec *MemoryRecord) {
				rec.MarkAccessed()
			}); err != nil {
				p.logger.Warn("failed to record memory access", "id", id, "error", err)
			}
		}
	}()
}
