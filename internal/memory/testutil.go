package memory

import (
	"context"
	"math"
)

// DeterministicEmbedding is a test double producing a deterministic
// hash-seeded vector in [-1, 1], not normalized to unit length (unlike
// SimpleEmbedding), so tests can assert exact vectors for a given input
// without floating-point drift from a magnitude division.
type DeterministicEmbedding struct {
	dimensions int
}

// NewDeterministicEmbedding constructs a DeterministicEmbedding of the given
// width.
func NewDeterministicEmbedding(dimensions int) *DeterministicEmbedding {
	return &DeterministicEmbedding{dimensions: dimensions}
}

// Generate derives a fixed vector from text's hash: component j is
// sin(hash + j) folded into [-1, 1], so identical input always yields an
// identical vector and distinct inputs yield distinct, reproducible ones.
func (e *DeterministicEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	seed := simpleHash(text)
	out := make([]float32, e.dimensions)
	for j := 0; j < e.dimensions; j++ {
		out[j] = float32(math.Sin(float64(seed) + float64(j)))
	}
	return out, nil
}

// GenerateBatch applies Generate to each text independently.
func (e *DeterministicEmbedding) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Generate(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding vector dimensionality.
func (e *DeterministicEmbedding) Dimensions() int { return e.dimensions }
