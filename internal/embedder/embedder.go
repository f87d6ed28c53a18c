// Package embedder provides interfaces and implementations for token-level
// text embedding. The rerank service consumes per-token vectors for both
// queries and documents, so the capability is expressed in token matrices
// rather than single pooled vectors.
package embedder

import (
	"context"
	"strings"
)

// Embedder defines the token-embedding capability consumed by the pipeline.
type Embedder interface {
	// EmbedQueryTokens returns one vector per query token.
	EmbedQueryTokens(ctx context.Context, query string) ([][]float32, error)

	// EmbedDocumentTokens returns one vector per document token.
	EmbedDocumentTokens(ctx context.Context, text string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// maxTokens caps the token count per text so pathological inputs cannot
// explode the rerank payload.
const maxTokens = 128

// tokenize lowercases and whitespace-splits text, capped at maxTokens.
func tokenize(text string) []string {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}
