package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unsafe"

	"github.com/go-redis/redis/v8"
	"github.com/tessera-mem/tessera/internal/merr"
)

// annTrainingFloor is the minimum row count below which building an ANN
// index is a no-op.
const annTrainingFloor = 256

// redisHotStore implements tierBackend for the Hot tier on Redis, one hash
// per record with the vector field stored as raw float32 bytes. Search scans
// the tier's keys and ranks candidates in Go; BuildANNIndex issues FT.CREATE
// once the tier holds annTrainingFloor rows, but no query uses FT.SEARCH.
type redisHotStore struct {
	client    *redis.Client
	indexName string
	dimension int
}

func newRedisHotStore(addr, password string, db, dimension int) (*redisHotStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: connecting to redis: %v", merr.Storage, err)
	}

	s := &redisHotStore{client: client, indexName: "tessera:hot:idx", dimension: dimension}
	if err := s.BuildANNIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func hotKey(id string) string { return "tessera:hot:" + id }

func (s *redisHotStore) Insert(ctx context.Context, r *MemoryRecord) error {
	if err := checkDimension(s.dimension, r); err != nil {
		return err
	}
	return s.write(ctx, r)
}

func (s *redisHotStore) write(ctx context.Context, r *MemoryRecord) error {
	fields, err := encodeHotFields(r)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, hotKey(r.ID), fields).Err(); err != nil {
		return fmt.Errorf("%w: storing hot record: %v", merr.Storage, err)
	}
	return nil
}

func (s *redisHotStore) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	vals, err := s.client.HGetAll(ctx, hotKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", merr.NotFound, id)
	}
	return decodeHotFields(id, vals)
}

func (s *redisHotStore) UpdateFields(ctx context.Context, id string, mutate func(*MemoryRecord)) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(r)
	return s.write(ctx, r)
}

func (s *redisHotStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, hotKey(id)).Err()
}

func (s *redisHotStore) scanAll(ctx context.Context) ([]*MemoryRecord, error) {
	var records []*MemoryRecord
	iter := s.client.Scan(ctx, 0, "tessera:hot:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.client.HGetAll(ctx, key).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		id := key[len("tessera:hot:"):]
		rec, err := decodeHotFields(id, vals)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, iter.Err()
}

func (s *redisHotStore) Search(ctx context.Context, queryVec []float32, filter *MemoryFilter, k int, threshold float64) ([]*MemoryRecord, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	var candidates []scoredRecord
	for _, r := range all {
		if filter != nil && !filter.Matches(r) {
			continue
		}
		candidates = append(candidates, scoredRecord{record: r, similarity: cosineSimilarity(queryVec, r.Embedding)})
	}
	return rankBySimilarity(candidates, k, threshold), nil
}

func (s *redisHotStore) ListFiltered(ctx context.Context, filter *MemoryFilter, limit, offset int) ([]*MemoryRecord, error) {
	all, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*MemoryRecord
	for _, r := range all {
		if filter != nil && !filter.Matches(r) {
			continue
		}
		out = append(out, r)
	}
	return paginate(out, limit, offset), nil
}

func (s *redisHotStore) Count(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, "tessera:hot:*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (s *redisHotStore) CountFiltered(ctx context.Context, filter *MemoryFilter) (int64, error) {
	all, err := s.ListFiltered(ctx, filter, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

// BuildANNIndex creates the RediSearch vector index once the tier clears the
// training floor. Idempotent: a second call observes the index already
// exists and no-ops.
func (s *redisHotStore) BuildANNIndex(ctx context.Context) error {
	count, err := s.Count(ctx)
	if err == nil && count < annTrainingFloor {
		return nil
	}

	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		return nil // already built
	}

	args := []interface{}{
		"FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", "tessera:hot:",
		"SCHEMA",
		"content", "TEXT",
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", s.dimension,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
		"created_at", "NUMERIC", "SORTABLE",
		"memory_type", "TAG",
	}
	if err := s.client.Do(ctx, args...).Err(); err != nil {
		return fmt.Errorf("%w: building hot ann index: %v", merr.Storage, err)
	}
	return nil
}

func (s *redisHotStore) Close() error { return s.client.Close() }

func encodeHotFields(r *MemoryRecord) (map[string]interface{}, error) {
	embeddingBytes := serializeEmbeddingVector(r.Embedding)
	entitiesJSON, err := json.Marshal(r.Entities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Serialization, err)
	}
	convID := ""
	if r.ConversationID != nil {
		convID = *r.ConversationID
	}
	return map[string]interface{}{
		"content":         r.Content,
		"embedding":       embeddingBytes,
		"memory_type":     string(r.MemoryType),
		"source":          string(r.Source),
		"weight":          r.Weight,
		"created_at":      r.CreatedAt.UnixMicro(),
		"last_accessed":   r.LastAccessed.UnixMicro(),
		"access_count":    r.AccessCount,
		"conversation_id": convID,
		"entities":        string(entitiesJSON),
		"tier":            string(r.Tier),
		"compression":     string(r.Compression),
	}, nil
}

func decodeHotFields(id string, vals map[string]string) (*MemoryRecord, error) {
	r := &MemoryRecord{ID: id}
	r.Content = vals["content"]
	r.Embedding = deserializeEmbeddingVector([]byte(vals["embedding"]))
	r.MemoryType = MemoryType(vals["memory_type"])
	r.Source = MemorySource(vals["source"])
	if w, err := strconv.ParseFloat(vals["weight"], 64); err == nil {
		r.Weight = w
	}
	if ts, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		r.CreatedAt = time.UnixMicro(ts).UTC()
	}
	if ts, err := strconv.ParseInt(vals["last_accessed"], 10, 64); err == nil {
		r.LastAccessed = time.UnixMicro(ts).UTC()
	}
	if ac, err := strconv.ParseUint(vals["access_count"], 10, 64); err == nil {
		r.AccessCount = ac
	}
	if vals["conversation_id"] != "" {
		cid := vals["conversation_id"]
		r.ConversationID = &cid
	}
	var entities []string
	if err := json.Unmarshal([]byte(vals["entities"]), &entities); err == nil {
		r.Entities = entities
	}
	r.Tier = StorageTier(vals["tier"])
	r.Compression = CompressionLevel(vals["compression"])
	return r, nil
}

func serializeEmbeddingVector(embedding []float32) []byte {
	bytes := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		bits := *(*uint32)(unsafe.Pointer(&val))
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

func deserializeEmbeddingVector(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = *(*float32)(unsafe.Pointer(&bits))
	}
	return out
}

func paginate(records []*MemoryRecord, limit, offset int) []*MemoryRecord {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
