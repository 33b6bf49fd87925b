package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

func TestLoadPartition_BuildsThenLoadsFromStore(t *testing.T) {
	// Given: two credit cards on disk
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	writeCard(t, f.credit, "card-y.json", "Card-Y")

	// When: the partition is loaded by a fresh cache
	p, err := f.cache(true).LoadPartition(context.Background(), "credit")

	// Then: it is built from source and persisted
	require.NoError(t, err)
	assert.False(t, p.Empty())
	assert.Len(t, p.Fragments, 4)
	assert.Len(t, p.Vectors, 4)
	assert.Equal(t, 4, p.Dense.Count())
	assert.Equal(t, 4, p.Lexical.Count())
	assert.Equal(t, []string{"Card-X", "Card-Y"}, p.Meta.Cards)
	assert.Equal(t, "static", p.Meta.EmbeddingModel)
	assert.FileExists(t, filepath.Join(f.indexDir, "credit", dbFile))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PartitionLoads.WithLabelValues(telemetry.SourceBuild)))

	// When: a second cache loads the same category
	embedded := f.embedder.texts.Load()
	p2, err := f.cache(true).LoadPartition(context.Background(), "credit")

	// Then: it comes from the store without re-embedding
	require.NoError(t, err)
	assert.Equal(t, p.Fragments, p2.Fragments)
	assert.Equal(t, embedded, f.embedder.texts.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PartitionLoads.WithLabelValues(telemetry.SourceStore)))
}

func TestLoadPartition_CachedInProcess(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(false)

	p1, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)
	p2, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestLoadPartition_EmptyAndMissingSources(t *testing.T) {
	// Given: an empty check dir and a credit dir that does not exist
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.credit))
	c := f.cache(true)

	// When/Then: both load as explicit empty partitions
	for _, category := range []string{"credit", "check"} {
		p, err := c.LoadPartition(context.Background(), category)
		require.NoError(t, err, category)
		assert.True(t, p.Empty(), category)
		assert.Equal(t, category, p.Category)
		assert.Nil(t, p.Dense)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PartitionLoads.WithLabelValues(telemetry.SourceEmpty)))
	assert.NoDirExists(t, filepath.Join(f.indexDir, "check"))
}

func TestLoadPartition_UnknownCategory(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache(false).LoadPartition(context.Background(), "prepaid")
	assert.Equal(t, carderrors.ErrCodeInvalidInput, carderrors.GetCode(err))
}

func TestLoadPartition_EmbedFailureIsExternalCall(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	f.embedder.fail = errProvider

	_, err := f.cache(true).LoadPartition(context.Background(), "credit")
	require.Error(t, err)
	assert.ErrorIs(t, err, carderrors.ErrExternalCall)
	assert.ErrorIs(t, err, errProvider)
	assert.NoFileExists(t, filepath.Join(f.indexDir, "credit", dbFile))
}

func TestGetEntityBundle_SubsetsByNormalizedName(t *testing.T) {
	// Given: a partition with two cards
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	writeCard(t, f.credit, "card-y.json", "Card-Y")
	c := f.cache(false)
	p, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)
	embedded := f.embedder.texts.Load()

	// When: a bundle is requested with a differently written name
	b, err := c.GetEntityBundle(context.Background(), "card x", p)

	// Then: only Card-X fragments are indexed, reusing stored embeddings
	require.NoError(t, err)
	assert.Equal(t, "cardx", b.Key)
	assert.Equal(t, "Card-X", b.EntityName)
	assert.Equal(t, "credit", b.Category)
	assert.Equal(t, SourcePartition, b.Source)
	require.Len(t, b.Fragments, 2)
	for _, frag := range b.Fragments {
		assert.Equal(t, "Card-X", frag.EntityName)
	}
	assert.Equal(t, 2, b.Dense.Count())
	assert.Equal(t, 2, b.Lexical.Count())
	assert.Equal(t, embedded, f.embedder.texts.Load())

	// And: the second request is a cache hit
	again, err := c.GetEntityBundle(context.Background(), "CARD-X", p)
	require.NoError(t, err)
	assert.Same(t, b, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BundleBuilds))
}

func TestGetEntityBundle_NotIndexed(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(false)
	p, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)

	_, err = c.GetEntityBundle(context.Background(), "Card-Z", p)
	assert.ErrorIs(t, err, carderrors.ErrEntityNotIndexed)

	empty, err := c.LoadPartition(context.Background(), "check")
	require.NoError(t, err)
	_, err = c.GetEntityBundle(context.Background(), "Card-X", empty)
	assert.ErrorIs(t, err, carderrors.ErrEntityNotIndexed)

	_, err = c.GetEntityBundle(context.Background(), "  ", p)
	assert.Equal(t, carderrors.ErrCodeInvalidInput, carderrors.GetCode(err))
	assert.Equal(t, 0, c.BundleCount())
}

func TestGetEntityBundle_ConcurrentCallersBuildOnce(t *testing.T) {
	// Given: a loaded partition
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(false)
	p, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)

	// When: many goroutines request the same bundle at once
	const n = 32
	bundles := make([]*EntityBundle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := c.GetEntityBundle(context.Background(), "Card-X", p)
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	// Then: exactly one build happened and everyone shares it
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BundleBuilds))
	for _, b := range bundles {
		assert.Same(t, bundles[0], b)
	}
}

func TestClear_DropsBundlesNotPartitions(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(false)
	p, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)
	first, err := c.GetEntityBundle(context.Background(), "Card-X", p)
	require.NoError(t, err)

	assert.Equal(t, 1, c.Clear())
	assert.Equal(t, 0, c.BundleCount())

	p2, err := c.LoadPartition(context.Background(), "credit")
	require.NoError(t, err)
	assert.Same(t, p, p2)

	second, err := c.GetEntityBundle(context.Background(), "Card-X", p)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.BundleBuilds))
}

func TestClear_DuringBuildDiscardsResult(t *testing.T) {
	// Given: an individual build blocked inside the embedder
	f := newFixture(t)
	path := writeCard(t, f.credit, "card-x.json", "Card-X")
	f.embedder.gate = make(chan struct{})
	f.embedder.entered = make(chan struct{}, 1)
	c := f.cache(false)

	done := make(chan *EntityBundle)
	go func() {
		b, err := c.RebuildIndividual(context.Background(), "Card-X", path, "credit")
		assert.NoError(t, err)
		done <- b
	}()
	<-f.embedder.entered

	// When: the cache is cleared before the build finishes
	c.Clear()
	close(f.embedder.gate)
	b := <-done

	// Then: the caller gets its bundle but it is not cached
	require.NotNil(t, b)
	assert.Equal(t, 0, c.BundleCount())
}

func TestRebuildIndividual(t *testing.T) {
	// Given: a card file outside any built partition
	f := newFixture(t)
	path := writeCard(t, f.check, "nori.json", "Nori Check")
	c := f.cache(true)

	// When: it is rebuilt individually
	b, err := c.RebuildIndividual(context.Background(), "nori check", path, "check")

	// Then: a cached individual bundle exists and no partition was touched
	require.NoError(t, err)
	assert.Equal(t, SourceIndividual, b.Source)
	assert.Equal(t, "Nori Check", b.EntityName)
	assert.Len(t, b.Fragments, 2)
	assert.Equal(t, int64(2), f.embedder.texts.Load())
	assert.Equal(t, 1, c.BundleCount())
	assert.False(t, c.Store().Exists("check"))

	cached, err := c.RebuildIndividual(context.Background(), "Nori Check", path, "check")
	require.NoError(t, err)
	assert.Same(t, b, cached)
}

func TestRebuildIndividual_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.cache(false)

	_, err := c.RebuildIndividual(context.Background(), "Ghost", filepath.Join(f.credit, "ghost.json"), "credit")
	assert.ErrorIs(t, err, carderrors.ErrParse)

	path := writeCard(t, f.credit, "card-x.json", "Card-X")
	f.embedder.fail = errProvider
	_, err = c.RebuildIndividual(context.Background(), "Card-X", path, "credit")
	assert.ErrorIs(t, err, carderrors.ErrExternalCall)
	assert.Equal(t, 0, c.BundleCount())
}

func TestRebuildCategory_SkipsUnlessForced(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(true)
	ctx := context.Background()

	res, err := c.RebuildCategory(ctx, "credit", false)
	require.NoError(t, err)
	assert.True(t, res.Built)
	assert.Equal(t, 2, res.Meta.TotalFragments)

	res, err = c.RebuildCategory(ctx, "credit", false)
	require.NoError(t, err)
	assert.False(t, res.Built)
	assert.Equal(t, []string{"Card-X"}, res.Meta.Cards)

	// a new card appears and the cached bundle must go
	p, err := c.LoadPartition(ctx, "credit")
	require.NoError(t, err)
	_, err = c.GetEntityBundle(ctx, "Card-X", p)
	require.NoError(t, err)
	writeCard(t, f.credit, "card-y.json", "Card-Y")

	res, err = c.RebuildCategory(ctx, "credit", true)
	require.NoError(t, err)
	assert.True(t, res.Built)
	assert.Equal(t, []string{"Card-X", "Card-Y"}, res.Meta.Cards)
	assert.Equal(t, 0, c.BundleCount())

	p2, err := c.LoadPartition(ctx, "credit")
	require.NoError(t, err)
	assert.Len(t, p2.Fragments, 4)
}

func TestRebuildCategory_EmptySourceNotPersisted(t *testing.T) {
	f := newFixture(t)
	c := f.cache(true)

	res, err := c.RebuildCategory(context.Background(), "check", true)
	require.NoError(t, err)
	assert.False(t, res.Built)
	assert.False(t, c.Store().Exists("check"))
}

func TestLoadPartition_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	// Given: a partition build blocked inside the embedder, started by a
	// caller that later gives up
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	f.embedder.gate = make(chan struct{})
	f.embedder.entered = make(chan struct{}, 1)
	c := f.cache(false)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.LoadPartition(ctxA, "credit")
		errA <- err
	}()
	<-f.embedder.entered

	type result struct {
		p   *Partition
		err error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := c.LoadPartition(context.Background(), "credit")
		resB <- result{p, err}
	}()

	// When: the first caller cancels and the build then completes
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	close(f.embedder.gate)

	// Then: the second caller still gets the partition from the single build
	r := <-resB
	require.NoError(t, r.err)
	assert.Len(t, r.p.Fragments, 2)
	assert.Equal(t, int64(2), f.embedder.texts.Load())
}

func TestRebuildIndividual_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := newFixture(t)
	path := writeCard(t, f.credit, "card-x.json", "Card-X")
	f.embedder.gate = make(chan struct{})
	f.embedder.entered = make(chan struct{}, 1)
	c := f.cache(false)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.RebuildIndividual(ctxA, "Card-X", path, "credit")
		errA <- err
	}()
	<-f.embedder.entered

	done := make(chan error, 1)
	go func() {
		b, err := c.RebuildIndividual(context.Background(), "Card-X", path, "credit")
		if err == nil && b == nil {
			err = assert.AnError
		}
		done <- err
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	close(f.embedder.gate)

	require.NoError(t, <-done)
	assert.Equal(t, 1, c.BundleCount())
}

func TestRebuildCategory_ReleasesReplacedPartition(t *testing.T) {
	// Given: a partition loaded from the store and held by a reader
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	ctx := context.Background()
	_, err := f.cache(true).RebuildCategory(ctx, "credit", true)
	require.NoError(t, err)

	c := f.cache(true)
	old, release, err := c.AcquirePartition(ctx, "credit")
	require.NoError(t, err)
	query := make([]float32, old.Dense.Dimensions())
	query[0] = 1

	// When: the category is force-rebuilt
	_, err = c.RebuildCategory(ctx, "credit", true)
	require.NoError(t, err)

	// Then: the held partition stays usable until released, then closes
	_, err = old.Dense.Search(ctx, query, 5)
	assert.NoError(t, err)

	release()
	_, err = old.Dense.Search(ctx, query, 5)
	assert.Error(t, err)
	_, err = old.Lexical.Search(ctx, "annual fee", 5)
	assert.Error(t, err)

	fresh, releaseFresh, err := c.AcquirePartition(ctx, "credit")
	require.NoError(t, err)
	defer releaseFresh()
	assert.NotSame(t, old, fresh)
	_, err = fresh.Dense.Search(ctx, query, 5)
	assert.NoError(t, err)
}

func TestRebuildCategory_UnheldPartitionClosedImmediately(t *testing.T) {
	f := newFixture(t)
	writeCard(t, f.credit, "card-x.json", "Card-X")
	c := f.cache(false)
	ctx := context.Background()
	old, err := c.LoadPartition(ctx, "credit")
	require.NoError(t, err)

	_, err = c.RebuildCategory(ctx, "credit", true)
	require.NoError(t, err)

	_, err = old.Lexical.Search(ctx, "annual fee", 5)
	assert.Error(t, err)
}
