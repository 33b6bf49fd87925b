// Package search retrieves, fuses and reranks card fragments for a
// question.
//
// A query runs dense (cosine) and lexical (BM25) retrieval against one
// Target, combines the two rankings with weighted reciprocal rank fusion and
// finally reorders the fused list with a pairwise relevance Scorer.
package search

import (
	"github.com/Aman-CERP/cardrag/internal/document"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// Retrieval defaults.
const (
	// DefaultCandidateWidth is how many hits each retriever returns.
	DefaultCandidateWidth = 60

	// DefaultRRFConstant is the RRF smoothing constant k. The fused list
	// is also truncated to k entries.
	DefaultRRFConstant = 60

	// DefaultTopK is how many candidates survive reranking.
	DefaultTopK = 20
)

// Weights are the per-retriever RRF weights.
type Weights struct {
	Dense   float64
	Lexical float64
}

// DefaultWeights favours the dense ranking.
func DefaultWeights() Weights {
	return Weights{Dense: 0.6, Lexical: 0.4}
}

// Target is an index pair with the fragments its positions refer to. Both
// a card bundle and a whole category partition can be searched.
type Target struct {
	Fragments []document.Fragment
	Dense     store.DenseIndex
	Lexical   store.LexicalIndex
}

// Candidate is a fragment moving through fusion and reranking.
type Candidate struct {
	Fragment document.Fragment `json:"fragment"`
	// FusedScore is the weighted RRF score.
	FusedScore float64 `json:"fused_score"`
	// DenseRank and LexicalRank are 1-indexed positions in each retrieval
	// list, 0 when absent.
	DenseRank   int `json:"dense_rank,omitempty"`
	LexicalRank int `json:"lexical_rank,omitempty"`
	// Score is the reranker's relevance score; zero before reranking.
	Score float64 `json:"score"`
}
