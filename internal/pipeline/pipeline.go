package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cardrag/internal/answer"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/resolve"
	"github.com/Aman-CERP/cardrag/internal/search"
	"github.com/Aman-CERP/cardrag/internal/telemetry"
)

// Options holds the collaborators of a Pipeline. All but Metrics are
// required.
type Options struct {
	Resolver     *resolve.Resolver
	Cache        *index.Cache
	Retriever    *search.Retriever
	Fusion       *search.RRFFusion
	Reranker     *search.Reranker
	Orchestrator *answer.Orchestrator
	Metrics      *telemetry.Metrics
}

// Pipeline answers card questions. It is safe for concurrent use; the
// Cache is its only shared mutable state.
type Pipeline struct {
	resolver     *resolve.Resolver
	cache        *index.Cache
	retriever    *search.Retriever
	fusion       *search.RRFFusion
	reranker     *search.Reranker
	orchestrator *answer.Orchestrator
	metrics      *telemetry.Metrics

	closers []func() error
}

// New validates opts and creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case opts.Cache == nil:
		return nil, errors.New("pipeline: cache is required")
	case opts.Retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	case opts.Fusion == nil:
		return nil, errors.New("pipeline: fusion is required")
	case opts.Reranker == nil:
		return nil, errors.New("pipeline: reranker is required")
	case opts.Orchestrator == nil:
		return nil, errors.New("pipeline: orchestrator is required")
	}
	m := opts.Metrics
	if m == nil {
		m = opts.Cache.Metrics()
	}
	return &Pipeline{
		resolver:     opts.Resolver,
		cache:        opts.Cache,
		retriever:    opts.Retriever,
		fusion:       opts.Fusion,
		reranker:     opts.Reranker,
		orchestrator: opts.Orchestrator,
		metrics:      m,
	}, nil
}

// Cache returns the pipeline's index cache.
func (p *Pipeline) Cache() *index.Cache {
	return p.cache
}

// ResolveAndQuery answers req.Question about the card named req.EntityName.
//
// An unknown card returns a StatusNotFound result together with the
// ERR_207_ENTITY_NOT_FOUND error and never builds an index. A card absent
// from its partition is indexed from its own file and answered with
// StatusPartialFallback. Embedding, rerank and generation failures are
// returned unchanged.
func (p *Pipeline) ResolveAndQuery(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, carderrors.New(carderrors.ErrCodeQueryEmpty, "question is empty", nil)
	}

	slog.Info("query_started",
		slog.String("entity", req.EntityName),
		slog.Bool("explain_easy", req.ExplainEasy),
		slog.Int("top_k", req.TopK))

	res, err := p.query(ctx, req, question)
	status := "error"
	if res != nil {
		res.Duration = time.Since(start)
		status = string(res.Status)
	}
	p.metrics.Queries.WithLabelValues(status).Inc()

	if err != nil {
		slog.Warn("query_failed", carderrors.FormatForLog(err)...)
		return res, err
	}
	slog.Info("query_completed",
		slog.String("entity", res.EntityName),
		slog.String("status", string(res.Status)),
		slog.Int("sources", len(res.Sources)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) query(ctx context.Context, req Request, question string) (*Result, error) {
	stage := time.Now()
	match, err := p.resolver.Resolve(ctx, req.EntityName)
	p.metrics.ObserveStage("resolve", stage)
	if err != nil {
		if errors.Is(err, carderrors.ErrEntityNotFound) {
			return &Result{
				Status:      StatusNotFound,
				EntityName:  req.EntityName,
				Suggestions: suggestions(err),
			}, err
		}
		return nil, err
	}
	slog.Debug("entity_resolved",
		slog.String("query", req.EntityName),
		slog.String("entity", match.EntityName),
		slog.String("category", match.Category),
		slog.Int("score", match.Score))

	stage = time.Now()
	bundle, err := p.bundle(ctx, match)
	p.metrics.ObserveStage("bundle", stage)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Status:     StatusFound,
		EntityName: bundle.EntityName,
		Category:   bundle.Category,
	}
	if bundle.Source == index.SourceIndividual {
		res.Status = StatusPartialFallback
	}

	top, err := p.rank(ctx, question, search.Target{
		Fragments: bundle.Fragments,
		Dense:     bundle.Dense,
		Lexical:   bundle.Lexical,
	}, req.TopK)
	if err != nil {
		return nil, err
	}
	res.Sources = top

	contexts := make([]string, len(top))
	for i, c := range top {
		contexts[i] = c.Fragment.Content
	}
	st, err := p.orchestrator.Run(ctx, answer.NewState(bundle.EntityName, question, contexts, req.ExplainEasy))
	if err != nil {
		return nil, err
	}
	res.Answer = st.Final()
	res.RawAnswer = st.Answer
	res.Simplified = st.Simplified
	if st.RewriteErr != nil {
		res.RewriteError = st.RewriteErr.Error()
	}
	return res, nil
}

// bundle returns the card's index bundle, falling back to an individual
// build when the partition is empty or lacks the card.
func (p *Pipeline) bundle(ctx context.Context, m *resolve.Match) (*index.EntityBundle, error) {
	part, err := p.cache.LoadPartition(ctx, m.Category)
	if err != nil {
		return nil, err
	}

	b, err := p.cache.GetEntityBundle(ctx, m.EntityName, part)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, carderrors.ErrEntityNotIndexed) {
		return nil, err
	}

	slog.Warn("partition_fallback",
		slog.String("entity", m.EntityName),
		slog.String("category", m.Category),
		slog.String("path", m.Path))
	return p.cache.RebuildIndividual(ctx, m.EntityName, m.Path, m.Category)
}

// rank runs retrieval, fusion and reranking against t.
func (p *Pipeline) rank(ctx context.Context, question string, t search.Target, topK int) ([]search.Candidate, error) {
	stage := time.Now()
	r, err := p.retriever.Retrieve(ctx, question, t)
	p.metrics.ObserveStage("retrieve", stage)
	if err != nil {
		return nil, err
	}

	stage = time.Now()
	fused := p.fusion.Fuse(r.Dense, r.Lexical)
	p.metrics.ObserveStage("fuse", stage)

	stage = time.Now()
	top, err := p.reranker.Rerank(ctx, question, fused, topK)
	p.metrics.ObserveStage("rerank", stage)
	return top, err
}

func suggestions(err error) []string {
	ce, ok := carderrors.As(err)
	if !ok || ce.Details["available"] == "" {
		return nil
	}
	return strings.Split(ce.Details["available"], ", ")
}

// RebuildCategoryIndexes rebuilds and persists every configured category.
// Existing partitions are skipped unless force is set. A failure in one
// category does not stop the others; all failures are joined.
func (p *Pipeline) RebuildCategoryIndexes(ctx context.Context, force bool) ([]*index.RebuildResult, error) {
	var (
		results []*index.RebuildResult
		errs    []error
	)
	for _, cat := range p.cache.Categories() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		r, err := p.cache.RebuildCategory(ctx, cat, force)
		if err != nil {
			slog.Error("category_rebuild_failed", append([]any{"partition", cat}, carderrors.FormatForLog(err)...)...)
			errs = append(errs, fmt.Errorf("%s: %w", cat, err))
			continue
		}
		slog.Info("category_rebuilt",
			slog.String("partition", cat),
			slog.Bool("built", r.Built),
			slog.Int("fragments", r.Meta.TotalFragments),
			slog.Duration("duration", time.Since(start)))
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

// SearchCategory retrieves and reranks fragments across whole partitions
// without generating an answer. scope is a category name or ScopeAll.
// Categories are searched concurrently; their fused lists are reranked
// together.
func (p *Pipeline) SearchCategory(ctx context.Context, scope, question string, topK int) (*SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, carderrors.New(carderrors.ErrCodeQueryEmpty, "question is empty", nil)
	}

	cats := p.cache.Categories()
	if scope != "" && scope != ScopeAll {
		found := false
		for _, c := range cats {
			if c == scope {
				found = true
				break
			}
		}
		if !found {
			return nil, carderrors.ValidationError(fmt.Sprintf("unknown search scope %q", scope), nil).
				WithSuggestion("Use 'all' or one of: " + strings.Join(cats, ", "))
		}
		cats = []string{scope}
	}

	fused := make([][]search.Candidate, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range cats {
		g.Go(func() error {
			part, release, err := p.cache.AcquirePartition(gctx, cat)
			if err != nil {
				return err
			}
			defer release()
			if part.Empty() {
				return nil
			}
			r, err := p.retriever.Retrieve(gctx, question, search.Target{
				Fragments: part.Fragments,
				Dense:     part.Dense,
				Lexical:   part.Lexical,
			})
			if err != nil {
				return err
			}
			fused[i] = p.fusion.Fuse(r.Dense, r.Lexical)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []search.Candidate
	for _, f := range fused {
		all = append(all, f...)
	}
	top, err := p.reranker.Rerank(ctx, question, all, topK)
	if err != nil {
		return nil, err
	}

	if scope == "" {
		scope = ScopeAll
	}
	return &SearchResult{Scope: scope, Categories: cats, Candidates: top}, nil
}

// ListCards lists every resolvable card.
func (p *Pipeline) ListCards(ctx context.Context) ([]resolve.Entry, error) {
	return p.resolver.Available(ctx)
}

// ClearCache drops cached card bundles and returns how many were dropped.
func (p *Pipeline) ClearCache() int {
	return p.cache.Clear()
}

// Close releases the collaborators created by NewFromConfig.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}
