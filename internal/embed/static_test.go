package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_NormalizedAndSized(t *testing.T) {
	// Given: static embedder
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	// When: I embed a Korean fee sentence
	vec, err := e.Embed(context.Background(), "연회비 국내전용 10,000원")

	// Then: a unit vector of StaticDimensions is returned
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	a, err := e.Embed(context.Background(), "해외 이용 수수료")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "해외 이용 수수료")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_Embed_BlankIsZero(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Zero(t, vectorMagnitude(vec))
}

func TestStaticEmbedder_SimilarTextsAreCloser(t *testing.T) {
	// Given: a query and two fragments, one sharing its stem
	e := NewStaticEmbedder()
	ctx := context.Background()
	q, _ := e.Embed(ctx, "연회비 얼마")
	fee, _ := e.Embed(ctx, "연회비는 국내전용 10,000원")
	other, _ := e.Embed(ctx, "지하철 버스 10% 할인")

	// Then: the fee fragment is more similar to the query
	assert.Greater(t, cosineSimilarity(q, fee), cosineSimilarity(q, other))
}

func TestStaticEmbedder_EmbedBatch_MatchesEmbed(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"annual fee", "overseas usage", ""}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder()
	assert.True(t, e.Available(context.Background()))
	require.NoError(t, e.Close())

	assert.False(t, e.Available(context.Background()))
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestExtractNgrams_UsesRunes(t *testing.T) {
	assert.Equal(t, []string{"연회비", "회비는"}, extractNgrams([]rune("연회비는"), 3))
	assert.Empty(t, extractNgrams([]rune("ab"), 3))
}
