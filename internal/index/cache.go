package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/cardrag/internal/document"
	"github.com/Aman-CERP/cardrag/internal/embed"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

// Options configures a Cache.
type Options struct {
	// Roots maps each category to its source directory, in configured order.
	Roots []resolve.Root

	// Embedder embeds fragments when a partition or individual bundle is
	// built.
	Embedder embed.Embedder

	// Store persists partitions. Nil keeps everything in memory.
	Store Store

	// Metrics receives build counters. Nil creates unregistered collectors.
	Metrics *telemetry.Metrics
}

// Cache owns loaded partitions and cached entity bundles. It is the only
// shared mutable state of a query pipeline and is safe for concurrent use.
// At most one build runs per category or normalized card name; concurrent
// callers wait for and share its result.
type Cache struct {
	roots    map[string]string
	order    []string
	embedder embed.Embedder
	store    Store
	metrics  *telemetry.Metrics

	group singleflight.Group

	mu         sync.RWMutex
	partitions map[string]*Partition
	bundles    map[string]*EntityBundle
	// generation increments on Clear so builds started before it are not
	// published after it.
	generation uint64
}

// RebuildResult reports what RebuildCategory did.
type RebuildResult struct {
	Category string       `json:"category"`
	Built    bool         `json:"built"`
	Meta     CategoryMeta `json:"meta"`
}

// NewCache creates an empty cache.
func NewCache(opts Options) *Cache {
	m := opts.Metrics
	if m == nil {
		m = telemetry.New(nil)
	}
	c := &Cache{
		roots:      make(map[string]string, len(opts.Roots)),
		embedder:   opts.Embedder,
		store:      opts.Store,
		metrics:    m,
		partitions: make(map[string]*Partition),
		bundles:    make(map[string]*EntityBundle),
	}
	for _, r := range opts.Roots {
		if _, dup := c.roots[r.Category]; dup {
			continue
		}
		c.roots[r.Category] = r.Dir
		c.order = append(c.order, r.Category)
	}
	return c
}

// Categories returns the configured categories in order.
func (c *Cache) Categories() []string {
	return append([]string(nil), c.order...)
}

// Store returns the partition store, or nil.
func (c *Cache) Store() Store {
	return c.store
}

// Metrics returns the cache's collectors.
func (c *Cache) Metrics() *telemetry.Metrics {
	return c.metrics
}

func (c *Cache) sourceDir(category string) (string, error) {
	dir, ok := c.roots[category]
	if !ok {
		return "", carderrors.ValidationError(fmt.Sprintf("unknown category %q", category), nil).
			WithDetail("category", category)
	}
	return dir, nil
}

// LoadPartition returns the category's partition, loading it from the store
// or building it from source on first use. A category without readable
// source records yields an empty partition, not an error.
func (c *Cache) LoadPartition(ctx context.Context, category string) (*Partition, error) {
	c.mu.RLock()
	p, ok := c.partitions[category]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	dir, err := c.sourceDir(category)
	if err != nil {
		return nil, err
	}

	v, err := c.shared(ctx, "partition:"+category, func(ctx context.Context) (any, error) {
		c.mu.RLock()
		p, ok := c.partitions[category]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}

		p, err := c.loadOrBuild(ctx, category, dir)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.partitions[category] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Partition), nil
}

// shared runs fn once per key for all concurrent callers. fn runs detached
// from the caller's cancellation so one caller giving up does not fail the
// others; each caller still returns as soon as its own ctx is done.
func (c *Cache) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// AcquirePartition is LoadPartition for callers that search the
// partition's indexes. release must be called once the search is done. A
// partition replaced by RebuildCategory is closed after its last release.
func (c *Cache) AcquirePartition(ctx context.Context, category string) (*Partition, func(), error) {
	for {
		p, err := c.LoadPartition(ctx, category)
		if err != nil {
			return nil, nil, err
		}
		if p.acquire() {
			return p, p.release, nil
		}
		// Retired after the lookup; the replacement is already cached.
	}
}

func (c *Cache) loadOrBuild(ctx context.Context, category, dir string) (*Partition, error) {
	if c.store != nil && c.store.Exists(category) {
		start := time.Now()
		p, err := c.store.Load(ctx, category)
		if err == nil {
			c.metrics.PartitionLoads.WithLabelValues(telemetry.SourceStore).Inc()
			slog.Info("partition_loaded",
				slog.String("category", category),
				slog.String("source", telemetry.SourceStore),
				slog.Int("fragments", len(p.Fragments)),
				slog.Duration("duration", time.Since(start)))
			return p, nil
		}
		slog.Warn("partition_store_unreadable",
			append(carderrors.FormatForLog(err), slog.String("category", category))...)
	}

	p, err := c.build(ctx, category, dir)
	if err != nil {
		return nil, err
	}
	if !p.Empty() && c.store != nil {
		if err := c.store.Save(ctx, p); err != nil {
			slog.Warn("partition_save_failed",
				append(carderrors.FormatForLog(err), slog.String("category", category))...)
		}
	}
	return p, nil
}

// build loads every record of the category and indexes it in memory.
func (c *Cache) build(ctx context.Context, category, dir string) (*Partition, error) {
	start := time.Now()

	res, err := document.LoadDir(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		perr := carderrors.PartitionLoad(category, err).WithDetail("dir", dir)
		slog.Warn("partition_unavailable", carderrors.FormatForLog(perr)...)
		c.metrics.PartitionLoads.WithLabelValues(telemetry.SourceEmpty).Inc()
		return emptyPartition(category), nil
	}
	if len(res.Fragments) == 0 {
		slog.Info("partition_empty", slog.String("category", category), slog.String("dir", dir))
		c.metrics.PartitionLoads.WithLabelValues(telemetry.SourceEmpty).Inc()
		return emptyPartition(category), nil
	}

	vecs, err := c.embedder.EmbedBatch(ctx, contents(res.Fragments))
	if err != nil {
		return nil, asExternal("embed", err)
	}
	dense, lexical, err := buildIndexes(ctx, res.Fragments, vecs)
	if err != nil {
		return nil, err
	}

	cards := res.Entities()
	sort.Strings(cards)
	p := &Partition{
		Category:  category,
		Fragments: res.Fragments,
		Vectors:   vecs,
		Dense:     dense,
		Lexical:   lexical,
		Meta: CategoryMeta{
			Category:       category,
			TotalFragments: len(res.Fragments),
			Cards:          cards,
			CreatedAt:      time.Now().UTC(),
			EmbeddingModel: c.embedder.ModelName(),
			Dimensions:     dense.Dimensions(),
		},
	}

	c.metrics.PartitionLoads.WithLabelValues(telemetry.SourceBuild).Inc()
	slog.Info("partition_loaded",
		slog.String("category", category),
		slog.String("source", telemetry.SourceBuild),
		slog.Int("files", res.Files),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("fragments", len(p.Fragments)),
		slog.Duration("duration", time.Since(start)))
	return p, nil
}

func emptyPartition(category string) *Partition {
	return &Partition{Category: category, Meta: CategoryMeta{Category: category}}
}

// GetEntityBundle returns the bundle for entityName, building it from p's
// fragments on a miss. Fragments are matched by normalized card name and
// reuse the partition's stored embeddings. A card with no fragments in p
// is ERR_208_ENTITY_NOT_INDEXED.
func (c *Cache) GetEntityBundle(ctx context.Context, entityName string, p *Partition) (*EntityBundle, error) {
	key := resolve.Normalize(entityName)
	if key == "" {
		return nil, carderrors.ValidationError("card name is empty", nil)
	}
	if b := c.cachedBundle(key); b != nil {
		return b, nil
	}

	v, err := c.shared(ctx, "bundle:"+key, func(ctx context.Context) (any, error) {
		if b := c.cachedBundle(key); b != nil {
			return b, nil
		}
		gen := c.currentGeneration()

		category := ""
		if p != nil {
			category = p.Category
		}
		if p.Empty() {
			return nil, carderrors.EntityNotIndexed(entityName, category)
		}

		var (
			frags []document.Fragment
			vecs  [][]float32
		)
		for i, f := range p.Fragments {
			if resolve.Normalize(f.EntityName) == key {
				frags = append(frags, f)
				vecs = append(vecs, p.Vectors[i])
			}
		}
		if len(frags) == 0 {
			return nil, carderrors.EntityNotIndexed(entityName, category)
		}

		b, err := c.newBundle(ctx, key, category, SourcePartition, frags, vecs)
		if err != nil {
			return nil, err
		}
		c.publish(gen, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntityBundle), nil
}

// RebuildIndividual builds a bundle from one source file. It is the
// fallback for a card missing from its category partition; partitions are
// left untouched. The bundle is cached like any other.
func (c *Cache) RebuildIndividual(ctx context.Context, entityName, sourcePath, category string) (*EntityBundle, error) {
	key := resolve.Normalize(entityName)
	if key == "" {
		return nil, carderrors.ValidationError("card name is empty", nil)
	}
	if b := c.cachedBundle(key); b != nil {
		return b, nil
	}

	v, err := c.shared(ctx, "bundle:"+key, func(ctx context.Context) (any, error) {
		if b := c.cachedBundle(key); b != nil {
			return b, nil
		}
		gen := c.currentGeneration()

		frags, err := document.LoadFile(sourcePath)
		if err != nil {
			return nil, err
		}
		if len(frags) == 0 {
			return nil, carderrors.EntityNotIndexed(entityName, category).
				WithDetail("path", sourcePath).
				WithSuggestion("The source file has no fields long enough to index")
		}

		vecs, err := c.embedder.EmbedBatch(ctx, contents(frags))
		if err != nil {
			return nil, asExternal("embed", err)
		}

		b, err := c.newBundle(ctx, key, category, SourceIndividual, frags, vecs)
		if err != nil {
			return nil, err
		}
		c.publish(gen, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntityBundle), nil
}

func (c *Cache) newBundle(ctx context.Context, key, category string, source BundleSource, frags []document.Fragment, vecs [][]float32) (*EntityBundle, error) {
	start := time.Now()
	dense, lexical, err := buildIndexes(ctx, frags, vecs)
	if err != nil {
		return nil, err
	}
	c.metrics.BundleBuilds.Inc()

	b := &EntityBundle{
		Key:        key,
		EntityName: frags[0].EntityName,
		Category:   category,
		Source:     source,
		Fragments:  frags,
		Dense:      dense,
		Lexical:    lexical,
	}
	slog.Info("bundle_built",
		slog.String("entity", b.EntityName),
		slog.String("category", category),
		slog.String("source", string(source)),
		slog.Int("fragments", len(frags)),
		slog.Duration("duration", time.Since(start)))
	return b, nil
}

func (c *Cache) cachedBundle(key string) *EntityBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bundles[key]
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// publish caches b unless Clear ran since gen was read.
func (c *Cache) publish(gen uint64, b *EntityBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		slog.Debug("bundle_discarded", slog.String("entity", b.EntityName))
		return
	}
	c.bundles[b.Key] = b
}

// Clear drops every cached bundle and returns how many were dropped.
// Partitions stay loaded.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.bundles)
	c.bundles = make(map[string]*EntityBundle)
	c.generation++
	c.mu.Unlock()

	slog.Info("cache_cleared", slog.Int("bundles", n))
	return n
}

// BundleCount returns the number of cached bundles.
func (c *Cache) BundleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bundles)
}

// RebuildCategory builds the category partition from source and persists
// it. Unless force is set, a category already in the store is skipped. A
// rebuilt partition replaces the loaded one and clears cached bundles; the
// replaced partition is closed once no AcquirePartition holder remains.
func (c *Cache) RebuildCategory(ctx context.Context, category string, force bool) (*RebuildResult, error) {
	dir, err := c.sourceDir(category)
	if err != nil {
		return nil, err
	}

	if !force && c.store != nil && c.store.Exists(category) {
		infos, err := c.store.List()
		if err != nil {
			return nil, err
		}
		res := &RebuildResult{Category: category}
		for _, info := range infos {
			if info.Meta.Category == category {
				res.Meta = info.Meta
			}
		}
		slog.Info("partition_rebuild_skipped", slog.String("category", category))
		return res, nil
	}

	v, err := c.shared(ctx, "rebuild:"+category, func(ctx context.Context) (any, error) {
		p, err := c.build(ctx, category, dir)
		if err != nil {
			return nil, err
		}
		if !p.Empty() && c.store != nil {
			if err := c.store.Save(ctx, p); err != nil {
				_ = p.Close()
				return nil, carderrors.New(carderrors.ErrCodeIndexFailed,
					fmt.Sprintf("persist %s partition", category), err)
			}
		}

		c.mu.Lock()
		old := c.partitions[category]
		c.partitions[category] = p
		c.mu.Unlock()
		if old != nil && old != p {
			old.retire()
		}
		c.Clear()
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	p := v.(*Partition)
	return &RebuildResult{Category: category, Built: !p.Empty(), Meta: p.Meta}, nil
}
