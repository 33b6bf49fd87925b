package watcher

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cardrag/internal/index"
)

// Handler reacts to one debounced batch of source changes.
type Handler func(ctx context.Context, batch []FileEvent) error

// Invalidator drops cached state derived from source files.
type Invalidator interface {
	ClearCache() int
}

// ClearOnChange returns a Handler that clears target's cache for every batch.
func ClearOnChange(target Invalidator) Handler {
	return func(_ context.Context, batch []FileEvent) error {
		n := target.ClearCache()
		slog.Info("cache_invalidated",
			slog.Int("bundles", n),
			slog.Any("categories", Categories(batch)))
		return nil
	}
}

// CategoryRebuilder rebuilds one category partition from its source files.
type CategoryRebuilder interface {
	RebuildCategory(ctx context.Context, category string, force bool) (*index.RebuildResult, error)
}

// RebuildOnChange returns a Handler that force-rebuilds every category
// touched by a batch. Failures of one category do not stop the others.
func RebuildOnChange(r CategoryRebuilder) Handler {
	return func(ctx context.Context, batch []FileEvent) error {
		var errs []error
		for _, category := range Categories(batch) {
			res, err := r.RebuildCategory(ctx, category, true)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			slog.Info("partition_rebuilt_on_change",
				slog.String("category", category),
				slog.Int("fragments", res.Meta.TotalFragments))
		}
		return errors.Join(errs...)
	}
}

// Chain runs handlers in order and joins their errors.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, batch []FileEvent) error {
		var errs []error
		for _, h := range handlers {
			errs = append(errs, h(ctx, batch))
		}
		return errors.Join(errs...)
	}
}

// Run starts w and passes each batch to h until ctx is done. Handler and
// watch errors are logged and do not stop the loop. Run stops w on return
// and reports only start-up failures.
func Run(ctx context.Context, w *SourceWatcher, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Start(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		events, errs := w.Events(), w.Errors()
		for {
			select {
			case <-gctx.Done():
				return nil
			case batch, ok := <-events:
				if !ok {
					return nil
				}
				slog.Info("sources_changed",
					slog.Int("files", len(batch)),
					slog.Any("categories", Categories(batch)))
				if err := h(gctx, batch); err != nil {
					slog.Warn("watch_handler_failed", slog.String("error", err.Error()))
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				slog.Warn("watch_error", slog.String("error", err.Error()))
			}
		}
	})

	err := g.Wait()
	_ = w.Stop()
	return err
}
