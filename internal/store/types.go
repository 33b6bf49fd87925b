// Package store provides the dense (HNSW) and lexical (BM25) indexes that
// back both category partitions and per-card bundles.
//
// Both indexes address documents by insertion position: the n-th text or
// vector added gets position n. Callers keep the fragment slice in the same
// order and map hits back by position.
package store

import (
	"context"
	"fmt"
)

// Hit is one ranked search result.
type Hit struct {
	// Pos is the insertion position of the matched document.
	Pos int
	// Score is the native relevance score (cosine similarity or BM25).
	Score float64
}

// LexicalIndex is a term-relevance index.
type LexicalIndex interface {
	// Add appends texts; positions continue from Count().
	Add(ctx context.Context, texts []string) error

	// Search returns up to limit hits ordered best-first, ties broken by
	// insertion position.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)

	// Count returns the number of indexed documents.
	Count() int

	Close() error
}

// DenseIndex is a nearest-neighbour index over embedding vectors.
type DenseIndex interface {
	// Add appends vectors; positions continue from Count().
	Add(ctx context.Context, vectors [][]float32) error

	// Search returns up to limit hits by cosine similarity, best-first,
	// ties broken by insertion position.
	Search(ctx context.Context, query []float32, limit int) ([]Hit, error)

	Count() int
	Dimensions() int

	// Save and Load persist the index to a file.
	Save(path string) error
	Load(path string) error

	Close() error
}

// DenseConfig configures the HNSW graph.
type DenseConfig struct {
	Dimensions int
	// M is the maximum number of neighbours per node.
	M int
	// EfSearch is the candidate list size during search. It should be at
	// least the largest limit callers pass to Search.
	EfSearch int
	// ExactThreshold is the largest index size searched by a full cosine
	// scan. Larger indexes search the graph.
	ExactThreshold int
	// Oversample multiplies the graph candidate count before the exact
	// rescore.
	Oversample int
}

// DefaultDenseConfig returns HNSW settings wide enough for a 60-candidate
// retrieval. Card bundles and category partitions stay under the exact
// threshold.
func DefaultDenseConfig(dimensions int) DenseConfig {
	return DenseConfig{
		Dimensions:     dimensions,
		M:              16,
		EfSearch:       64,
		ExactThreshold: 20000,
		Oversample:     4,
	}
}

// ErrDimensionMismatch indicates a vector of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
