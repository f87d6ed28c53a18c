package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultHashDimension is the vector size of the hashing embedder.
const DefaultHashDimension = 64

// HashEmbedder is a deterministic, dependency-free embedder: each token's
// vector is derived from FNV hashes of the token. It is not semantically
// meaningful, but it is stable across runs, which is what offline demos and
// tests need.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hashing embedder with the given dimension
// (default 64).
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// EmbedQueryTokens returns one deterministic vector per query token.
func (e *HashEmbedder) EmbedQueryTokens(_ context.Context, query string) ([][]float32, error) {
	return e.embed(query), nil
}

// EmbedDocumentTokens returns one deterministic vector per document token.
func (e *HashEmbedder) EmbedDocumentTokens(_ context.Context, text string) ([][]float32, error) {
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) [][]float32 {
	tokens := tokenize(text)
	vectors := make([][]float32, len(tokens))
	for i, token := range tokens {
		vectors[i] = e.tokenVector(token)
	}
	return vectors
}

// tokenVector produces a unit-norm vector seeded by the token's hash.
func (e *HashEmbedder) tokenVector(token string) []float32 {
	vec := make([]float32, e.dimension)
	var norm float64
	for i := range vec {
		h := fnv.New64a()
		h.Write([]byte(token))
		h.Write([]byte{byte(i), byte(i >> 8)})
		// Map the hash onto [-1, 1).
		v := float64(int64(h.Sum64())) / math.MaxInt64
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Dimension returns the configured vector size.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// ModelName returns "hash".
func (e *HashEmbedder) ModelName() string { return "hash" }

var _ Embedder = (*HashEmbedder)(nil)
