package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/tessera-mem/tessera/internal/merr"
)

// EmbeddingGenerator turns text into fixed-dimension vectors. The engine
// never assumes a particular provider or dimension; RetrievalPipeline and
// IngestionPipeline both depend only on this interface.
type EmbeddingGenerator interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// HTTPEmbedding implements EmbeddingGenerator against a local HTTP embedding
// service (e.g. a sentence-transformers server), with connection settings
// passed explicitly rather than through a shared god-config.
type HTTPEmbedding struct {
	apiURL     string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewHTTPEmbedding constructs an HTTPEmbedding against apiURL (e.g.
// "http://localhost:8000").
func NewHTTPEmbedding(apiURL, model string, dimensions int) *HTTPEmbedding {
	return &HTTPEmbedding{
		apiURL:     apiURL,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{},
	}
}

// Generate creates an embedding vector for text.
func (e *HTTPEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", merr.Embedding)
	}
	return embeddings[0], nil
}

// GenerateBatch creates embeddings for multiple texts in one round trip.
func (e *HTTPEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	requestBody := map[string]interface{}{
		"inputs": texts,
		"model":  e.model,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling embedding request: %v", merr.Serialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building embedding request: %v", merr.Embedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling embedding service: %v", merr.Embedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: embedding service returned %d: %s", merr.Embedding, resp.StatusCode, string(bodyBytes))
	}

	var result [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding response: %v", merr.Serialization, err)
	}

	return result, nil
}

// Dimensions returns the embedding vector dimensionality.
func (e *HTTPEmbedding) Dimensions() int { return e.dimensions }

// SimpleEmbedding is a dependency-free fallback: a deterministic hash-based
// bag-of-words embedding, used when no external embedding service is
// configured or reachable.
type SimpleEmbedding struct {
	dimensions int
}

// NewSimpleEmbedding constructs a hash-based embedding generator.
func NewSimpleEmbedding(dimensions int) *SimpleEmbedding {
	return &SimpleEmbedding{dimensions: dimensions}
}

// Generate creates a simple hash-based embedding.
func (e *SimpleEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)

	embedding := make([]float32, e.dimensions)
	if len(words) == 0 {
		return embedding, nil
	}

	for i, word := range words {
		hash := simpleHash(word)
		position := float32(i) / float32(len(words))

		for j := 0; j < e.dimensions; j++ {
			idx := (hash + uint32(j)) % uint32(e.dimensions)
			weight := 1.0 / (1.0 + position)
			embedding[idx] += weight
		}
	}

	var magnitude float32
	for _, val := range embedding {
		magnitude += val * val
	}
	magnitude = float32(math.Sqrt(float64(magnitude)))

	if magnitude > 0 {
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}

	return embedding, nil
}

// GenerateBatch creates simple embeddings for multiple texts.
func (e *SimpleEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Generate(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

// Dimensions returns the embedding vector dimensionality.
func (e *SimpleEmbedding) Dimensions() int { return e.dimensions }

func simpleHash(s string) uint32 {
	hash := uint32(0)
	for _, c := range s {
		hash = hash*31 + uint32(c)
	}
	return hash
}
