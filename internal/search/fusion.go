package search

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/cardrag/internal/document"
)

// RRFFusion combines the dense and lexical rankings with weighted
// Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i + 1)
//
// with 0-indexed rank_i. A fragment missing from one list gets nothing from
// it. Fragments are identified by trimmed content: repeated text collapses
// into one candidate that accumulates every occurrence.
type RRFFusion struct {
	K       int
	Weights Weights
}

// NewRRFFusion creates a fusion with constant k and weights w. k <= 0 means
// DefaultRRFConstant.
func NewRRFFusion(k int, w Weights) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k, Weights: w}
}

// Fuse returns at most K candidates ordered by fused score, descending.
// Equal scores keep first-appearance order, dense list first.
func (f *RRFFusion) Fuse(dense, lexical []document.Fragment) []Candidate {
	if len(dense) == 0 && len(lexical) == 0 {
		return []Candidate{}
	}

	index := make(map[string]int, len(dense)+len(lexical))
	var out []Candidate

	accumulate := func(list []document.Fragment, weight float64, setRank func(*Candidate, int)) {
		for rank, frag := range list {
			key := strings.TrimSpace(frag.Content)
			i, ok := index[key]
			if !ok {
				i = len(out)
				index[key] = i
				out = append(out, Candidate{Fragment: frag})
			}
			c := &out[i]
			c.FusedScore += weight / float64(f.K+rank+1)
			setRank(c, rank+1)
		}
	}

	accumulate(dense, f.Weights.Dense, func(c *Candidate, r int) {
		if c.DenseRank == 0 {
			c.DenseRank = r
		}
	})
	accumulate(lexical, f.Weights.Lexical, func(c *Candidate, r int) {
		if c.LexicalRank == 0 {
			c.LexicalRank = r
		}
	})

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	if len(out) > f.K {
		out = out[:f.K]
	}
	return out
}
