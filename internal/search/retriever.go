package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cardrag/internal/document"
	"github.com/Aman-CERP/cardrag/internal/embed"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/store"
)

// Retrieval holds both rankings, best-first.
type Retrieval struct {
	Dense   []document.Fragment
	Lexical []document.Fragment
}

// Retriever runs dense and lexical retrieval concurrently.
type Retriever struct {
	embedder embed.Embedder
	width    int
}

// NewRetriever creates a retriever returning up to width hits per ranking.
func NewRetriever(embedder embed.Embedder, width int) *Retriever {
	if width <= 0 {
		width = DefaultCandidateWidth
	}
	return &Retriever{embedder: embedder, width: width}
}

// Width returns the per-ranking candidate width.
func (r *Retriever) Width() int {
	return r.width
}

// Retrieve queries both indexes of t. Ties keep insertion order. An
// embedding failure is an ExternalCall error.
func (r *Retriever) Retrieve(ctx context.Context, question string, t Target) (*Retrieval, error) {
	start := time.Now()
	res := &Retrieval{}
	g, gctx := errgroup.WithContext(ctx)

	if t.Dense != nil {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, question)
			if err != nil {
				if _, ok := carderrors.As(err); ok {
					return err
				}
				return carderrors.ExternalCall("embed", err)
			}
			hits, err := t.Dense.Search(gctx, vec, r.width)
			if err != nil {
				return fmt.Errorf("dense search: %w", err)
			}
			res.Dense, err = resolveHits(t.Fragments, hits)
			return err
		})
	}

	if t.Lexical != nil {
		g.Go(func() error {
			hits, err := t.Lexical.Search(gctx, question, r.width)
			if err != nil {
				return fmt.Errorf("lexical search: %w", err)
			}
			res.Lexical, err = resolveHits(t.Fragments, hits)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("retrieval_complete",
		slog.Int("dense", len(res.Dense)),
		slog.Int("lexical", len(res.Lexical)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func resolveHits(frags []document.Fragment, hits []store.Hit) ([]document.Fragment, error) {
	out := make([]document.Fragment, 0, len(hits))
	for _, h := range hits {
		if h.Pos < 0 || h.Pos >= len(frags) {
			return nil, fmt.Errorf("hit position %d outside %d fragments", h.Pos, len(frags))
		}
		out = append(out, frags[h.Pos])
	}
	return out, nil
}
