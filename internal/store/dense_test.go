package store

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDense(t *testing.T, vecs ...[]float32) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultDenseConfig(3))
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), vecs))
	return s
}

func TestHNSWStore_CosineOrdering(t *testing.T) {
	// Given: three vectors at different angles from the query
	s := newDense(t,
		[]float32{0, 1, 0},
		[]float32{1, 0.1, 0},
		[]float32{10, 0, 0},
	)

	// When: searching near the x axis
	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, 3)

	// Then: magnitude is ignored and order follows angle
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 2, hits[0].Pos)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, 1, hits[1].Pos)
	assert.Equal(t, 0, hits[2].Pos)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)
}

func TestHNSWStore_TiesFollowInsertionOrder(t *testing.T) {
	s := newDense(t,
		[]float32{0, 0, 1},
		[]float32{1, 1, 0},
		[]float32{2, 2, 0},
	)

	hits, err := s.Search(context.Background(), []float32{1, 1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Pos)
	assert.Equal(t, 2, hits[1].Pos)
}

func TestHNSWStore_Limit(t *testing.T) {
	s := newDense(t, []float32{1, 0, 0}, []float32{0, 1, 0}, []float32{0, 0, 1})

	hits, err := s.Search(context.Background(), []float32{1, 1, 1}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Search(context.Background(), []float32{1, 1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := newDense(t)

	err := s.Add(context.Background(), [][]float32{{1, 2}})
	var dm ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Got)

	_, err = s.Search(context.Background(), []float32{1}, 1)
	assert.ErrorAs(t, err, &dm)
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := newDense(t)
	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	s := newDense(t, []float32{1, 0, 0}, []float32{0, 1, 0})
	path := filepath.Join(t.TempDir(), "dense.hnsw")
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultDenseConfig(3))
	require.NoError(t, err)
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	hits, err := loaded.Search(context.Background(), []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Pos)
}

func TestHNSWStore_LoadDimensionMismatch(t *testing.T) {
	s := newDense(t, []float32{1, 0, 0})
	path := filepath.Join(t.TempDir(), "dense.hnsw")
	require.NoError(t, s.Save(path))

	other, err := NewHNSWStore(DefaultDenseConfig(4))
	require.NoError(t, err)
	assert.Error(t, other.Load(path))
}

func TestNewHNSWStore_RejectsZeroDimensions(t *testing.T) {
	_, err := NewHNSWStore(DenseConfig{})
	assert.Error(t, err)
}

func randomVectors(n, dims int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

// exactRanking ranks vecs against query by cosine similarity, best-first,
// ties by position.
func exactRanking(vecs [][]float32, query []float32, limit int) []int {
	q := append([]float32(nil), query...)
	normalizeInPlace(q)
	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(vecs))
	for i, v := range vecs {
		c := append([]float32(nil), v...)
		normalizeInPlace(c)
		all[i] = scored{pos: i, score: dot(q, c)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]int, len(all))
	for i, s := range all {
		out[i] = s.pos
	}
	return out
}

func positions(hits []Hit) []int {
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.Pos
	}
	return out
}

func TestHNSWStore_MatchesExactCosineRanking(t *testing.T) {
	for _, n := range []int{70, 200, 500} {
		// Given: more random vectors than the retrieval width
		vecs := randomVectors(n, 64, uint64(n))
		s, err := NewHNSWStore(DefaultDenseConfig(64))
		require.NoError(t, err)
		require.NoError(t, s.Add(context.Background(), vecs))
		query := randomVectors(1, 64, 99)[0]

		// When: searching at width 60
		hits, err := s.Search(context.Background(), query, 60)

		// Then: the result is exactly the brute-force cosine top-60
		require.NoError(t, err)
		assert.Equal(t, exactRanking(vecs, query, 60), positions(hits), "n=%d", n)
	}
}

func TestHNSWStore_LoadedStoreStaysExact(t *testing.T) {
	vecs := randomVectors(120, 16, 7)
	s, err := NewHNSWStore(DefaultDenseConfig(16))
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), vecs))
	path := filepath.Join(t.TempDir(), "dense.hnsw")
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultDenseConfig(16))
	require.NoError(t, err)
	require.NoError(t, loaded.Load(path))

	query := randomVectors(1, 16, 8)[0]
	hits, err := loaded.Search(context.Background(), query, 60)
	require.NoError(t, err)
	assert.Equal(t, exactRanking(vecs, query, 60), positions(hits))
}

func TestHNSWStore_GraphSearchAboveThreshold(t *testing.T) {
	// Given: an index larger than the exact-scan threshold
	cfg := DefaultDenseConfig(16)
	cfg.ExactThreshold = 10
	vecs := randomVectors(300, 16, 3)
	s, err := NewHNSWStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), vecs))
	query := randomVectors(1, 16, 4)[0]

	// When: searching through the graph
	hits, err := s.Search(context.Background(), query, 20)

	// Then: candidates carry exact cosine scores in descending order
	require.NoError(t, err)
	require.Len(t, hits, 20)
	q := append([]float32(nil), query...)
	normalizeInPlace(q)
	for i, h := range hits {
		v := append([]float32(nil), vecs[h.Pos]...)
		normalizeInPlace(v)
		assert.InDelta(t, dot(q, v), h.Score, 1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
}
