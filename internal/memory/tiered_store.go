package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tessera-mem/tessera/internal/merr"
)

// TieredStore is the durable persistence layer for MemoryRecords,
// partitioned by tier, plus the tombstone ledger. It composes three
// independent backends (Hot/Redis, Warm/SQLite, Cold/Badger) and adds
// tier-routing, cross-tier lookup, and migration on top.
type TieredStore struct {
	hot  tierBackend
	warm *sqliteWarmStore
	cold tierBackend

	// migrateMu serializes migrate() calls so a concurrent search never
	// observes a record as present in neither (or both) tiers.
	migrateMu sync.Mutex
}

// TieredStoreConfig gathers the three backends' connection settings.
type TieredStoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLitePath string
	BadgerPath string

	Dimension int
}

// NewTieredStore connects to all three backends and returns the composed store.
func NewTieredStore(cfg TieredStoreConfig) (*TieredStore, error) {
	hot, err := newRedisHotStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	warm, err := newSQLiteWarmStore(cfg.SQLitePath, cfg.Dimension)
	if err != nil {
		hot.Close()
		return nil, err
	}
	cold, err := newBadgerColdStore(cfg.BadgerPath, cfg.Dimension)
	if err != nil {
		hot.Close()
		warm.Close()
		return nil, err
	}
	return &TieredStore{hot: hot, warm: warm, cold: cold}, nil
}

func (s *TieredStore) backend(tier StorageTier) (tierBackend, error) {
	switch tier {
	case TierHot:
		return s.hot, nil
	case TierWarm:
		return s.warm, nil
	case TierCold:
		return s.cold, nil
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", merr.Storage, tier)
	}
}

// Insert appends to the record's declared tier. A hash-compressed record may
// not live in Hot, and a tombstoned id may never be resurrected.
func (s *TieredStore) Insert(ctx context.Context, r *MemoryRecord) error {
	if r.Tier == TierHot && r.Compression == CompressionHash {
		return fmt.Errorf("%w: hash-compressed record %s may not reside in hot tier", merr.Memory, r.ID)
	}
	b, err := s.backend(r.Tier)
	if err != nil {
		return err
	}
	dead, err := s.warm.hasTombstone(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("%w: checking tombstones: %v", merr.Storage, err)
	}
	if dead {
		return fmt.Errorf("%w: record %s is tombstoned", merr.Memory, r.ID)
	}
	return b.Insert(ctx, r)
}

// Get returns the record, searching Hot -> Warm -> Cold in order.
func (s *TieredStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	for _, tier := range []StorageTier{TierHot, TierWarm, TierCold} {
		b, _ := s.backend(tier)
		r, err := b.Get(ctx, id)
		if err == nil {
			return r, nil
		}
		if !merr.Is(err, merr.NotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", merr.NotFound, id)
}

// UpdateFields applies a field-level patch within the record's current tier.
func (s *TieredStore) UpdateFields(ctx context.Context, tier StorageTier, id string, mutate func(*MemoryRecord)) error {
	b, err := s.backend(tier)
	if err != nil {
		return err
	}
	return b.UpdateFields(ctx, id, mutate)
}

// Migrate moves a record from one tier to another. The pair is observable
// as atomic: insert-then-delete (not delete-then-insert) so a concurrent
// Get/Search sees the record in at least one tier throughout, never zero.
func (s *TieredStore) Migrate(ctx context.Context, id string, from, to StorageTier) error {
	if !CanMigrate(from, to) {
		return fmt.Errorf("%w: illegal tier transition %s -> %s", merr.Memory, from, to)
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	fromBackend, err := s.backend(from)
	if err != nil {
		return err
	}
	toBackend, err := s.backend(to)
	if err != nil {
		return err
	}

	r, err := fromBackend.Get(ctx, id)
	if err != nil {
		return err
	}
	if to == TierHot && r.Compression == CompressionHash {
		return fmt.Errorf("%w: hash-compressed record %s may not be promoted to hot", merr.Memory, id)
	}
	r.Tier = to

	if err := toBackend.Insert(ctx, r); err != nil {
		return err
	}
	if err := fromBackend.Delete(ctx, id); err != nil {
		return err
	}
	return nil
}

// Delete writes a tombstone for id and removes the live row from tier.
func (s *TieredStore) Delete(ctx context.Context, tier StorageTier, id string, reason EvictionReason) error {
	b, err := s.backend(tier)
	if err != nil {
		return err
	}
	if err := s.warm.insertTombstone(ctx, NewTombstone(id, tier, reason)); err != nil {
		return err
	}
	return b.Delete(ctx, id)
}

// HasTombstone reports whether id has ever been tombstoned — used by the
// Compactor to skip resurrected candidates.
func (s *TieredStore) HasTombstone(ctx context.Context, id string) (bool, error) {
	return s.warm.hasTombstone(ctx, id)
}

// Search returns up to k records from tier with similarity >= threshold,
// ordered descending.
func (s *TieredStore) Search(ctx context.Context, tier StorageTier, queryVector []float32, filter *MemoryFilter, k int, threshold float64) ([]*MemoryRecord, error) {
	b, err := s.backend(tier)
	if err != nil {
		return nil, err
	}
	return b.Search(ctx, queryVector, filter, k, threshold)
}

// ListByTier returns every record in tier (unfiltered, unpaginated) — used
// by TierManager/Compactor/Evictor sweeps.
func (s *TieredStore) ListByTier(ctx context.Context, tier StorageTier) ([]*MemoryRecord, error) {
	b, err := s.backend(tier)
	if err != nil {
		return nil, err
	}
	return b.ListFiltered(ctx, nil, 0, 0)
}

// ListFiltered returns a paginated, filtered listing from tier — used by
// the admin /admin/memories handler.
func (s *TieredStore) ListFiltered(ctx context.Context, tier StorageTier, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error) {
	b, err := s.backend(tier)
	if err != nil {
		return nil, err
	}
	return b.ListFiltered(ctx, filter, limit, offset)
}

// CountByTier returns the row count for a single tier.
func (s *TieredStore) CountByTier(ctx context.Context, tier StorageTier) (int64, error) {
	b, err := s.backend(tier)
	if err != nil {
		return 0, err
	}
	return b.Count(ctx)
}

// CountFiltered counts matching rows across all three tiers.
func (s *TieredStore) CountFiltered(ctx context.Context, filter *MemoryFilter) (int64, error) {
	var total int64
	for _, tier := range []StorageTier{TierHot, TierWarm, TierCold} {
		b, _ := s.backend(tier)
		c, err := b.CountFiltered(ctx, filter)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// TotalCount counts every record across all three tiers.
func (s *TieredStore) TotalCount(ctx context.Context) (int64, error) {
	return s.CountFiltered(ctx, nil)
}

// BuildANNIndex rebuilds tier's ANN index. Idempotent; no-ops below the
// training floor.
func (s *TieredStore) BuildANNIndex(ctx context.Context, tier StorageTier) error {
	b, err := s.backend(tier)
	if err != nil {
		return err
	}
	return b.BuildANNIndex(ctx)
}

// Close shuts down all three backends, collecting every error encountered.
func (s *TieredStore) Close() error {
	var errs []error
	if err := s.hot.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.warm.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.cold.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: closing tiered store: %v", merr.Storage, errs)
	}
	return nil
}
