package search

import (
	"context"
	"math"

	"github.com/Aman-CERP/cardrag/internal/store"
)

// LexicalScorer is an offline Scorer that rates a document by how much of
// the query's vocabulary it covers. Each distinct query term found in the
// document adds 1/len(query terms); repeated hits add a small log bonus.
type LexicalScorer struct {
	stopWords map[string]struct{}
}

var _ Scorer = (*LexicalScorer)(nil)

// NewLexicalScorer creates a scorer using the default stop words.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{stopWords: store.BuildStopWordMap(store.DefaultStopWords)}
}

// Score implements Scorer.
func (s *LexicalScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	queryTerms := unique(store.Terms(query, s.stopWords))
	scores := make([]float64, len(docs))
	if len(queryTerms) == 0 {
		return scores, nil
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		freq := make(map[string]int)
		for _, t := range store.Terms(doc, s.stopWords) {
			freq[t]++
		}
		var score float64
		for _, t := range queryTerms {
			if n := freq[t]; n > 0 {
				score += (1 + 0.1*math.Log(float64(n))) / float64(len(queryTerms))
			}
		}
		scores[i] = score
	}
	return scores, nil
}

// Name implements Scorer.
func (s *LexicalScorer) Name() string { return "lexical" }

// Close implements Scorer.
func (s *LexicalScorer) Close() error { return nil }

func unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
