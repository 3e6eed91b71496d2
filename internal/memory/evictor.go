package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tessera-mem/tessera/internal/merr"
)

// Evictor removes the lowest-w_eff records from a tier once it exceeds a
// capacity budget, writing a tombstone for each before it deletes the live
// row so eviction can never be mistaken for a silent disappearance.
type Evictor struct {
	store     *TieredStore
	weightCfg WeightConfig
	logger    *slog.Logger
}

// NewEvictor constructs an Evictor over store.
func NewEvictor(store *TieredStore, weightCfg WeightConfig, logger *slog.Logger) *Evictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evictor{store: store, weightCfg: weightCfg, logger: logger}
}

// EvictionResult tallies what a single Evict call did.
type EvictionResult struct {
	TierCount int
	Evicted   int
}

// evictionCandidate pairs a record with the sort keys eviction order uses.
type evictionCandidate struct {
	record *MemoryRecord
	wEff   float64
}

// Evict removes records from tier until it holds at most capacity records,
// lowest w_eff first; ties break on the older last_accessed timestamp.
// Capacity is expressed in row count for every tier; a caller converting a
// byte or memory budget into a row count does so before calling Evict.
func (e *Evictor) Evict(ctx context.Context, tier StorageTier, capacity int, now time.Time) (EvictionResult, error) {
	var result EvictionResult

	records, err := e.store.ListByTier(ctx, tier)
	if err != nil {
		return result, fmt.Errorf("%w: listing %s tier: %v", merr.Memory, tier, err)
	}
	result.TierCount = len(records)

	overflow := len(records) - capacity
	if overflow <= 0 {
		return result, nil
	}

	candidates := make([]evictionCandidate, len(records))
	for i, r := range records {
		candidates[i] = evictionCandidate{record: r, wEff: CalculateEffectiveWeight(e.weightCfg, r, now)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].wEff != candidates[j].wEff {
			return candidates[i].wEff < candidates[j].wEff
		}
		return candidates[i].record.LastAccessed.Before(candidates[j].record.LastAccessed)
	})

	for _, c := range candidates[:overflow] {
		if err := e.store.Delete(ctx, tier, c.record.ID, ReasonEvicted); err != nil {
			e.logger.Warn("eviction failed", "id", c.record.ID, "error", err)
			continue
		}
		result.Evicted++
		e.logger.Debug("evicted record", "id", c.record.ID, "w_eff", c.wEff)
	}

	return result, nil
}

// EvictCold is a convenience wrapper for the Cold tier, the tier whose
// capacity sweep runs most aggressively in practice since it is the sole
// durable archive with no further tier to demote into.
func (e *Evictor) EvictCold(ctx context.Context, maxColdRecords int, now time.Time) (EvictionResult, error) {
	return e.Evict(ctx, TierCold, maxColdRecords, now)
}
