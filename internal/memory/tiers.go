package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-mem/tessera/internal/merr"
)

// TierThresholds tunes the w_eff/idleness cutoffs a sweep uses to decide
// promotion and demotion.
type TierThresholds struct {
	HotToWarmMaxWeight   float64
	HotToWarmMinIdleDays float64

	WarmToHotMinWeight   float64
	WarmToHotMaxIdleDays float64

	WarmToColdMaxWeight   float64
	WarmToColdMinIdleDays float64

	ColdToWarmMinWeight float64
}

// maxSweepRowsPerTier bounds how many records one Sweep call examines in a
// single tier, capping the sweep's tail latency on large stores. Every Sweep
// lists each tier from offset 0, so in a tier holding more rows than this,
// the rows past the first maxSweepRowsPerTier of that listing are not
// examined by any sweep.
const maxSweepRowsPerTier = 1000

// DefaultTierThresholds returns the default cutoffs.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		HotToWarmMaxWeight:    0.4,
		HotToWarmMinIdleDays:  3,
		WarmToHotMinWeight:    0.7,
		WarmToHotMaxIdleDays:  1,
		WarmToColdMaxWeight:   0.15,
		WarmToColdMinIdleDays: 14,
		ColdToWarmMinWeight:   0.5,
	}
}

// TierManager sweeps every tier, computes w_eff for each resident record, and
// migrates records whose weight/idleness crosses a promotion or demotion
// threshold. It never migrates Hot<->Cold directly, per CanMigrate. Sweep
// walks Hot before Warm in the same call, so a record demoted from Hot to
// Warm can be examined again in the Warm pass and demoted on to Cold within
// that one Sweep.
type TierManager struct {
	store      *TieredStore
	weightCfg  WeightConfig
	thresholds TierThresholds
	logger     *slog.Logger
}

// NewTierManager constructs a TierManager over store.
func NewTierManager(store *TieredStore, weightCfg WeightConfig, thresholds TierThresholds, logger *slog.Logger) *TierManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TierManager{store: store, weightCfg: weightCfg, thresholds: thresholds, logger: logger}
}

// decideMigration returns the target tier for r, or "" if it should stay put.
// A migration needs both its weight and its idleness condition to hold.
// Ties (a record sitting exactly on a threshold) favor the colder tier:
// demotion fires at the threshold, promotion only strictly past it.
func (m *TierManager) decideMigration(r *MemoryRecord, wEff float64, idleDays float64) StorageTier {
	switch r.Tier {
	case TierHot:
		if wEff <= m.thresholds.HotToWarmMaxWeight && idleDays >= m.thresholds.HotToWarmMinIdleDays {
			return TierWarm
		}
	case TierWarm:
		if wEff > m.thresholds.WarmToHotMinWeight && idleDays < m.thresholds.WarmToHotMaxIdleDays &&
			r.Compression != CompressionHash {
			return TierHot
		}
		if wEff <= m.thresholds.WarmToColdMaxWeight && idleDays >= m.thresholds.WarmToColdMinIdleDays {
			return TierCold
		}
	case TierCold:
		if wEff > m.thresholds.ColdToWarmMinWeight {
			return TierWarm
		}
	}
	return ""
}

// SweepResult tallies what a single Sweep call did.
type SweepResult struct {
	Scanned   int
	Promoted  int
	Demoted   int
	Unchanged int
}

// Sweep walks every tier once, migrating records whose computed w_eff and
// idleness cross a threshold. now is passed explicitly so callers can drive
// deterministic tests.
func (m *TierManager) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	for _, tier := range []StorageTier{TierHot, TierWarm, TierCold} {
		records, err := m.store.ListFiltered(ctx, tier, nil, maxSweepRowsPerTier, 0)
		if err != nil {
			return result, fmt.Errorf("%w: listing %s tier: %v", merr.Memory, tier, err)
		}

		for _, r := range records {
			result.Scanned++
			wEff := CalculateEffectiveWeight(m.weightCfg, r, now)
			idleDays := DaysSinceAccess(r, now)

			target := m.decideMigration(r, wEff, idleDays)
			if target == "" {
				result.Unchanged++
				continue
			}

			if err := m.store.Migrate(ctx, r.ID, r.Tier, target); err != nil {
				m.logger.Warn("tier migration failed", "id", r.ID, "from", r.Tier, "to", target, "error", err)
				continue
			}
			if tierColder(target, r.Tier) {
				result.Demoted++
			} else {
				result.Promoted++
			}
			m.logger.Debug("migrated record", "id", r.ID, "from", r.Tier, "to", target, "w_eff", wEff)
		}
	}

	return result, nil
}

var tierRank = map[StorageTier]int{TierHot: 0, TierWarm: 1, TierCold: 2}

func tierColder(target, from StorageTier) bool {
	return tierRank[target] > tierRank[from]
}
