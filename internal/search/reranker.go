package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// Scorer assigns a relevance score to each (query, document) pair. The
// returned slice is aligned with docs.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
	Name() string
	Close() error
}

// Reranker reorders fused candidates by Scorer relevance.
type Reranker struct {
	scorer Scorer
	topK   int
}

// NewReranker creates a reranker keeping topK candidates by default.
func NewReranker(scorer Scorer, topK int) *Reranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Reranker{scorer: scorer, topK: topK}
}

// TopK returns the default cut-off.
func (r *Reranker) TopK() int {
	return r.topK
}

// Scorer returns the underlying scorer.
func (r *Reranker) Scorer() Scorer {
	return r.scorer
}

// Rerank scores every candidate against query and returns at most topK of
// them, highest score first. Equal scores keep fused order. cands is not
// modified. topK <= 0 uses the reranker default.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []Candidate, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = r.topK
	}
	if len(cands) == 0 {
		return []Candidate{}, nil
	}

	start := time.Now()
	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i] = c.Fragment.Content
	}

	scores, err := r.scorer.Score(ctx, query, docs)
	if err != nil {
		if _, ok := carderrors.As(err); ok {
			return nil, err
		}
		return nil, carderrors.ExternalCall("rerank", err)
	}
	if len(scores) != len(cands) {
		return nil, carderrors.ExternalCall("rerank",
			fmt.Errorf("scorer returned %d scores for %d documents", len(scores), len(cands)))
	}

	out := make([]Candidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Score = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}

	slog.Debug("rerank_complete",
		slog.String("scorer", r.scorer.Name()),
		slog.Int("candidates", len(cands)),
		slog.Int("kept", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}
