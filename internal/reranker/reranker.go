// Package reranker provides the client for the remote late-interaction
// rerank scoring service. The scoring algorithm itself is external; this
// package only speaks its wire protocol.
package reranker

import (
	"context"
)

// PruneConfig bounds the token matrices sent for scoring.
type PruneConfig struct {
	QMax   int    `json:"q_max"`
	DMax   int    `json:"d_max"`
	Method string `json:"method"`
}

// Request is the rerank service request body.
type Request struct {
	QTokens [][]float32   `json:"q_tokens"`
	DTokens [][][]float32 `json:"d_tokens"`
	TopK    int           `json:"topk"`
	Prune   PruneConfig   `json:"prune"`
}

// Perf carries the service-side scoring latency profile.
type Perf struct {
	TotalMs     float64 `json:"total_ms"`
	PerDocMsP50 float64 `json:"per_doc_ms_p50"`
	PerDocMsP95 float64 `json:"per_doc_ms_p95"`
}

// Response is the rerank service response body. Order holds document
// indices sorted best-first; Scores aligns with Order.
type Response struct {
	Order  []int     `json:"order"`
	Scores []float64 `json:"scores"`
	Perf   Perf      `json:"perf"`
}

// Reranker scores query/document token matrices remotely.
type Reranker interface {
	Rerank(ctx context.Context, req *Request) (*Response, error)
}
