package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/document"
)

func TestRRFFusion_TopOfBothLists(t *testing.T) {
	// Given the same fragment first in both lists
	f := NewRRFFusion(60, DefaultWeights())
	shared := frag("annual fee 10000 won")

	// When fusing
	out := f.Fuse([]document.Fragment{shared}, []document.Fragment{shared})

	// Then its score is 0.6/61 + 0.4/61
	require.Len(t, out, 1)
	assert.InDelta(t, 0.6/61+0.4/61, out[0].FusedScore, 1e-12)
	assert.Equal(t, 1, out[0].DenseRank)
	assert.Equal(t, 1, out[0].LexicalRank)
}

func TestRRFFusion_DedupesByTrimmedContent(t *testing.T) {
	// Given the same text with surrounding whitespace in each list
	f := NewRRFFusion(60, DefaultWeights())

	// When fusing
	out := f.Fuse(frags("  fee text \n"), frags("fee text"))

	// Then there is one candidate carrying both contributions
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/61, out[0].FusedScore, 1e-12)
}

func TestRRFFusion_CombinesRankings(t *testing.T) {
	// Given a dense list a,b and a lexical list b
	f := NewRRFFusion(60, DefaultWeights())

	// When fusing
	out := f.Fuse(frags("a", "b"), frags("b"))

	// Then b, present in both, outranks a
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Fragment.Content)
	assert.InDelta(t, 0.6/62+0.4/61, out[0].FusedScore, 1e-12)
	assert.Equal(t, "a", out[1].Fragment.Content)
	assert.Equal(t, 0, out[1].LexicalRank)
}

func TestRRFFusion_TiesKeepFirstAppearance(t *testing.T) {
	// Given equal weights and mirrored lists
	f := NewRRFFusion(60, Weights{Dense: 0.5, Lexical: 0.5})

	// When fusing
	out := f.Fuse(frags("x", "y"), frags("y", "x"))

	// Then equal scores keep dense-first order
	require.Len(t, out, 2)
	assert.Equal(t, out[0].FusedScore, out[1].FusedScore)
	assert.Equal(t, "x", out[0].Fragment.Content)
	assert.Equal(t, "y", out[1].Fragment.Content)
}

func TestRRFFusion_TruncatesToK(t *testing.T) {
	// Given more unique fragments than k
	f := NewRRFFusion(5, DefaultWeights())
	var dense, lexical []document.Fragment
	for i := 0; i < 8; i++ {
		dense = append(dense, frag(fmt.Sprintf("dense %d", i)))
		lexical = append(lexical, frag(fmt.Sprintf("lexical %d", i)))
	}

	// When fusing
	out := f.Fuse(dense, lexical)

	// Then at most k remain in non-increasing order
	require.Len(t, out, 5)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].FusedScore, out[i].FusedScore)
	}
	assert.Equal(t, "dense 0", out[0].Fragment.Content)
}

func TestRRFFusion_Empty(t *testing.T) {
	f := NewRRFFusion(0, DefaultWeights())
	assert.Equal(t, DefaultRRFConstant, f.K)
	assert.Empty(t, f.Fuse(nil, nil))
}
