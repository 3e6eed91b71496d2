package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tessera-mem/tessera/internal/merr"
)

// badgerColdRecord is the JSON-on-disk shape for a cold-tier record.
// Embeddings are kept as a plain float32 slice — Cold-tier records are
// compacted down to Keywords/Hash content well before they'd be evicted
// entirely, but the vector is retained so a Cold->Warm promotion can still
// be ranked by similarity.
type badgerColdRecord struct {
	ID             string           `json:"id"`
	Content        string           `json:"content"`
	Embedding      []float32        `json:"embedding"`
	MemoryType     MemoryType       `json:"memory_type"`
	Source         MemorySource     `json:"source"`
	Weight         float64          `json:"weight"`
	CreatedAt      int64            `json:"created_at"`
	LastAccessed   int64            `json:"last_accessed"`
	AccessCount    uint64           `json:"access_count"`
	ConversationID *string          `json:"conversation_id,omitempty"`
	Entities       []string         `json:"entities"`
	Compression    CompressionLevel `json:"compression"`
}

// badgerColdStore implements tierBackend for the Cold tier using
// badger.Open with prefix iteration over archive-tier memory records.
type badgerColdStore struct {
	db        *badger.DB
	dimension int
}

const coldKeyPrefix = "tessera:cold:"

func newBadgerColdStore(path string, dimension int) (*badgerColdStore, error) {
	path = expandHomePath(path)
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening cold store: %v", merr.Storage, err)
	}
	return &badgerColdStore{db: db, dimension: dimension}, nil
}

func coldKey(id string) []byte { return []byte(coldKeyPrefix + id) }

func toColdRecord(r *MemoryRecord) *badgerColdRecord {
	return &badgerColdRecord{
		ID: r.ID, Content: r.Content, Embedding: r.Embedding, MemoryType: r.MemoryType,
		Source: r.Source, Weight: r.Weight, CreatedAt: r.CreatedAt.UnixMicro(),
		LastAccessed: r.LastAccessed.UnixMicro(), AccessCount: r.AccessCount,
		ConversationID: r.ConversationID, Entities: r.Entities, Compression: r.Compression,
	}
}

func fromColdRecord(c *badgerColdRecord) *MemoryRecord {
	return &MemoryRecord{
		ID: c.ID, Content: c.Content, Embedding: c.Embedding, MemoryType: c.MemoryType,
		Source: c.Source, Weight: c.Weight, CreatedAt: time.UnixMicro(c.CreatedAt).UTC(),
		LastAccessed: time.UnixMicro(c.LastAccessed).UTC(), AccessCount: c.AccessCount,
		ConversationID: c.ConversationID, Entities: c.Entities, Tier: TierCold, Compression: c.Compression,
	}
}

func (s *badgerColdStore) Insert(ctx context.Context, r *MemoryRecord) error {
	if err := checkDimension(s.dimension, r); err != nil {
		return err
	}
	data, err := json.Marshal(toColdRecord(r))
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Serialization, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(coldKey(r.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return nil
}

func (s *badgerColdStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	var rec *MemoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(coldKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var c badgerColdRecord
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			rec = fromColdRecord(&c)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", merr.NotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return rec, nil
}

func (s *badgerColdStore) UpdateFields(ctx context.Context, id string, mutate func(*MemoryRecord)) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(r)
	return s.Insert(ctx, r)
}

func (s *badgerColdStore) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(coldKey(id))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return nil
}

func (s *badgerColdStore) forEach(fn func(*MemoryRecord) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(coldKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var keepGoing = true
			err := item.Value(func(val []byte) error {
				var c badgerColdRecord
				if err := json.Unmarshal(val, &c); err != nil {
					return nil
				}
				keepGoing = fn(fromColdRecord(&c))
				return nil
			})
			if err != nil {
				continue
			}
			if !keepGoing {
				break
			}
		}
		return nil
	})
}

func (s *badgerColdStore) Search(ctx context.Context, queryVec []float32, filter *MemoryFilter, k int, threshold float64) ([]*MemoryRecord, error) {
	var candidates []scoredRecord
	err := s.forEach(func(r *MemoryRecord) bool {
		if filter == nil || filter.Matches(r) {
			candidates = append(candidates, scoredRecord{record: r, similarity: cosineSimilarity(queryVec, r.Embedding)})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return rankBySimilarity(candidates, k, threshold), nil
}

func (s *badgerColdStore) ListFiltered(ctx context.Context, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error) {
	var out []*MemoryRecord
	err := s.forEach(func(r *MemoryRecord) bool {
		if filter == nil || filter.Matches(r) {
			out = append(out, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return paginate(out, limit, offset), nil
}

func (s *badgerColdStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.forEach(func(*MemoryRecord) bool { count++; return true })
	return count, err
}

func (s *badgerColdStore) CountFiltered(ctx context.Context, filter *MemoryFilter) (int64, error) {
	var count int64
	err := s.forEach(func(r *MemoryRecord) bool {
		if filter == nil || filter.Matches(r) {
			count++
		}
		return true
	})
	return count, err
}

func (s *badgerColdStore) BuildANNIndex(ctx context.Context) error {
	// BadgerDB carries no ANN extension either; Cold-tier search is an
	// exact scan the same as Warm's, and Cold volumes are the least
	// latency-sensitive tier, so this is intentionally a no-op beyond the
	// shared training-floor convention the other tiers observe.
	return nil
}

func (s *badgerColdStore) Close() error { return s.db.Close() }
