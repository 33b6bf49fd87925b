package pipeline

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/cardrag/internal/answer"
	"github.com/Aman-CERP/cardrag/internal/config"
	"github.com/Aman-CERP/cardrag/internal/embed"
	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/internal/search"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

// Roots converts configured categories into resolver roots.
func Roots(cfg *config.Config) []resolve.Root {
	roots := make([]resolve.Root, 0, len(cfg.Data.Categories))
	for _, c := range cfg.Data.Categories {
		roots = append(roots, resolve.Root{Category: c.Name, Dir: c.Dir})
	}
	return roots
}

// NewFromConfig assembles a Pipeline with Ollama embedding and generation,
// the configured scorer and a SQLite partition store under
// cfg.Data.IndexDir. reg receives the metrics; nil leaves them
// unregistered. The caller must Close the pipeline.
func NewFromConfig(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Pipeline, error) {
	var closers []func() error
	fail := func(err error) (*Pipeline, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	metrics := telemetry.New(reg)

	embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, embedder.Close)

	scorer, err := search.NewScorerFromConfig(ctx, cfg.Reranker, cfg.RerankTimeout())
	if err != nil {
		return fail(err)
	}
	closers = append(closers, scorer.Close)

	gen, rewriter, err := answer.NewGeneratorsFromConfig(ctx, cfg.Generation)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, gen.Close)
	if rewriter != gen {
		closers = append(closers, rewriter.Close)
	}

	p, err := newPipeline(cfg, embedder, scorer, gen, rewriter, metrics)
	if err != nil {
		return fail(err)
	}
	p.closers = closers

	slog.Info("pipeline_ready",
		slog.String("embedder", embedder.ModelName()),
		slog.String("scorer", scorer.Name()),
		slog.String("generator", gen.ModelName()),
		slog.String("index_dir", cfg.Data.IndexDir))
	return p, nil
}

// NewWithComponents assembles a Pipeline from cfg around caller-provided
// embedding, scoring and generation backends.
func NewWithComponents(cfg *config.Config, embedder embed.Embedder, scorer search.Scorer, gen answer.Generator, metrics *telemetry.Metrics) (*Pipeline, error) {
	if metrics == nil {
		metrics = telemetry.New(nil)
	}
	return newPipeline(cfg, embedder, scorer, gen, gen, metrics)
}

// Store returns the partition store under cfg.Data.IndexDir, or nil when
// no index directory is configured.
func Store(cfg *config.Config) index.Store {
	if cfg.Data.IndexDir == "" {
		return nil
	}
	return index.NewSQLiteStore(cfg.Data.IndexDir)
}

// NewCache creates the index cache for cfg's categories.
func NewCache(cfg *config.Config, embedder embed.Embedder, metrics *telemetry.Metrics) *index.Cache {
	return index.NewCache(index.Options{
		Roots:    Roots(cfg),
		Embedder: embedder,
		Store:    Store(cfg),
		Metrics:  metrics,
	})
}

// NewCacheFromConfig creates a cache with the configured embedder and no
// generation backend, for index maintenance. The returned close function
// releases the embedder.
func NewCacheFromConfig(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*index.Cache, func() error, error) {
	embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return nil, nil, err
	}
	if metrics == nil {
		metrics = telemetry.New(nil)
	}
	return NewCache(cfg, embedder, metrics), embedder.Close, nil
}

func newPipeline(cfg *config.Config, embedder embed.Embedder, scorer search.Scorer, gen, rewriter answer.Generator, metrics *telemetry.Metrics) (*Pipeline, error) {
	r := cfg.Retrieval
	return New(Options{
		Resolver:  resolve.New(Roots(cfg)),
		Cache:     NewCache(cfg, embedder, metrics),
		Retriever: search.NewRetriever(embedder, r.CandidateWidth),
		Fusion:    search.NewRRFFusion(r.RRFConstant, search.Weights{Dense: r.DenseWeight, Lexical: r.LexicalWeight}),
		Reranker:  search.NewReranker(scorer, r.TopK),
		Orchestrator: answer.NewOrchestrator(gen,
			answer.WithRewriter(rewriter),
			answer.WithMetrics(metrics)),
		Metrics: metrics,
	})
}
