// Package reranker scores candidate documents against a query text.
// The memory engine uses it to rank stored pattern contexts against a
// live context during similarity search.
package reranker

import (
	"context"
	"errors"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Document is one candidate to be ranked.
type Document struct {
	ID      string  // unique identifier
	Content string  // text rendering of the candidate
	Score   float64 // prior score from the caller, if any
}

// ScoredDocument is a document with its reranking score attached.
type ScoredDocument struct {
	Document
	RerankerScore float64 // score assigned by the reranker (0.0-1.0)
	OriginalRank  int     // position in the input slice (0-indexed)
}

// Reranker ranks documents by relevance to a query.
type Reranker interface {
	// Rerank scores docs against the query and returns them sorted by
	// RerankerScore descending, limited to topK results. topK <= 0
	// means no limit.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	// Close releases any resources held by the reranker.
	Close() error
}
