package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tessera-mem/tessera/internal/merr"
)

// sqliteWarmStore implements tierBackend for the Warm tier: database/sql
// over mattn/go-sqlite3, with a directory-expansion-then-open-then-initSchema
// shape. It also owns the tombstones table, since a relational store is the
// natural home for an append-only audit trail regardless of which tier a
// deleted record lived in.
type sqliteWarmStore struct {
	db        *sql.DB
	dimension int
}

func newSQLiteWarmStore(dbPath string, dimension int) (*sqliteWarmStore, error) {
	dbPath = expandHomePath(dbPath)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating warm store directory: %v", merr.Storage, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening warm store: %v", merr.Storage, err)
	}

	s := &sqliteWarmStore{db: db, dimension: dimension}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing warm store schema: %v", merr.Storage, err)
	}
	return s, nil
}

func (s *sqliteWarmStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		memory_type TEXT NOT NULL,
		weight REAL NOT NULL,
		created_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		access_count INTEGER NOT NULL,
		conversation_id TEXT,
		source TEXT NOT NULL,
		tier TEXT NOT NULL,
		compression TEXT NOT NULL,
		entities TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_memories_weight ON memories(weight);
	CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);

	CREATE TABLE IF NOT EXISTS tombstones (
		id TEXT PRIMARY KEY,
		tier_of_origin TEXT NOT NULL,
		reason TEXT NOT NULL,
		deleted_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteWarmStore) Insert(ctx context.Context, r *MemoryRecord) error {
	if err := checkDimension(s.dimension, r); err != nil {
		return err
	}
	return s.upsert(ctx, r)
}

func (s *sqliteWarmStore) upsert(ctx context.Context, r *MemoryRecord) error {
	entitiesJSON, err := json.Marshal(r.Entities)
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Serialization, err)
	}
	var convID any
	if r.ConversationID != nil {
		convID = *r.ConversationID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, embedding, memory_type, weight, created_at, last_accessed, access_count, conversation_id, source, tier, compression, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, embedding=excluded.embedding, memory_type=excluded.memory_type,
			weight=excluded.weight, created_at=excluded.created_at, last_accessed=excluded.last_accessed,
			access_count=excluded.access_count, conversation_id=excluded.conversation_id, source=excluded.source,
			tier=excluded.tier, compression=excluded.compression, entities=excluded.entities
	`, r.ID, r.Content, serializeEmbeddingVector(r.Embedding), string(r.MemoryType), r.Weight,
		r.CreatedAt.UnixMicro(), r.LastAccessed.UnixMicro(), r.AccessCount, convID, string(r.Source),
		string(r.Tier), string(r.Compression), string(entitiesJSON))
	if err != nil {
		return fmt.Errorf("%w: writing warm record: %v", merr.Storage, err)
	}
	return nil
}

const warmSelectCols = "id, content, embedding, memory_type, weight, created_at, last_accessed, access_count, conversation_id, source, tier, compression, entities"

func (s *sqliteWarmStore) scanRow(row interface {
	Scan(dest ...any) error
}) (*MemoryRecord, error) {
	var r MemoryRecord
	var embedding []byte
	var createdAt, lastAccessed int64
	var convID sql.NullString
	var entitiesJSON string
	var memType, source, tier, compression string

	if err := row.Scan(&r.ID, &r.Content, &embedding, &memType, &r.Weight, &createdAt, &lastAccessed,
		&r.AccessCount, &convID, &source, &tier, &compression, &entitiesJSON); err != nil {
		return nil, err
	}

	r.Embedding = deserializeEmbeddingVector(embedding)
	r.MemoryType = MemoryType(memType)
	r.Source = MemorySource(source)
	r.Tier = StorageTier(tier)
	r.Compression = CompressionLevel(compression)
	r.CreatedAt = time.UnixMicro(createdAt).UTC()
	r.LastAccessed = time.UnixMicro(lastAccessed).UTC()
	if convID.Valid && convID.String != "" {
		cid := convID.String
		r.ConversationID = &cid
	}
	var entities []string
	if json.Unmarshal([]byte(entitiesJSON), &entities) == nil {
		r.Entities = entities
	}
	return &r, nil
}

func (s *sqliteWarmStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+warmSelectCols+" FROM memories WHERE id = ?", id)
	r, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", merr.NotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return r, nil
}

func (s *sqliteWarmStore) UpdateFields(ctx context.Context, id string, mutate func(*MemoryRecord)) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(r)
	return s.upsert(ctx, r)
}

func (s *sqliteWarmStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return nil
}

func (s *sqliteWarmStore) queryFiltered(ctx context.Context, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error) {
	query := "SELECT " + warmSelectCols + " FROM memories"
	var args []any
	if filter != nil {
		if clause, clauseArgs, ok := filter.ToSQLClause(); ok {
			query += " WHERE " + clause
			args = append(args, clauseArgs...)
		}
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	defer rows.Close()

	var out []*MemoryRecord
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", merr.Storage, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteWarmStore) Search(ctx context.Context, queryVec []float32, filter *MemoryFilter, k int, threshold float64) ([]*MemoryRecord, error) {
	// No sqlite-vec extension is linked in, so similarity is computed in
	// Go over every row matching the scalar predicate, then ranked
	// exactly as the other backends do.
	rows, err := s.queryFiltered(ctx, filter, 0, 0)
	if err != nil {
		return nil, err
	}
	candidates := make([]scoredRecord, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, scoredRecord{record: r, similarity: cosineSimilarity(queryVec, r.Embedding)})
	}
	return rankBySimilarity(candidates, k, threshold), nil
}

func (s *sqliteWarmStore) ListFiltered(ctx context.Context, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error) {
	return s.queryFiltered(ctx, filter, limit, offset)
}

func (s *sqliteWarmStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

func (s *sqliteWarmStore) CountFiltered(ctx context.Context, filter *MemoryFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM memories"
	var args []any
	if filter != nil {
		if clause, clauseArgs, ok := filter.ToSQLClause(); ok {
			query += " WHERE " + clause
			args = append(args, clauseArgs...)
		}
	}
	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// BuildANNIndex is a no-op below the training floor. Above it, SQLite has
// no ANN extension in this stack, so there is nothing to build either way:
// Search always does an exact in-Go scan, and similarity is recomputed
// exactly on retrieved rows regardless of index state.
func (s *sqliteWarmStore) BuildANNIndex(ctx context.Context) error {
	count, err := s.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Storage, err)
	}
	if count < annTrainingFloor {
		return nil
	}
	return nil
}

func (s *sqliteWarmStore) Close() error { return s.db.Close() }

// insertTombstone appends a tombstone row. Tombstones are append-only.
func (s *sqliteWarmStore) insertTombstone(ctx context.Context, t *Tombstone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tombstones (id, tier_of_origin, reason, deleted_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, string(t.TierOfOrigin), string(t.Reason), t.DeletedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("%w: writing tombstone: %v", merr.Storage, err)
	}
	return nil
}

func (s *sqliteWarmStore) hasTombstone(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tombstones WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
