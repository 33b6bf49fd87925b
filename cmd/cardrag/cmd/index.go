package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/internal/config"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/output"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
)

type indexOptions struct {
	force    bool
	category string
	dump     bool
	jsonOut  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the per-category search indexes",
		Long: `Build one dense and BM25 index per category from its card documents and
persist it under the configured index directory.

Categories that already have an index are skipped unless --force is set.

Examples:
  cardrag index
  cardrag index --category credit --force
  cardrag index --category check --dump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Rebuild categories that are already indexed")
	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "Only this category (default: all)")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "Print the indexed fragments instead of building")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output rebuild results as JSON")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	categories, err := selectCategories(cfg, opts.category)
	if err != nil {
		return err
	}

	if opts.dump {
		return dumpPartitions(ctx, cmd, cfg, categories)
	}

	cache, closeEmbedder, err := pipeline.NewCacheFromConfig(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmbedder() }()

	out := output.New(cmd.OutOrStdout())
	start := time.Now()
	slog.Info("index_started", slog.Any("categories", categories), slog.Bool("force", opts.force))

	var (
		results []*index.RebuildResult
		errs    []error
	)
	for i, category := range categories {
		out.Progress(i, len(categories), "indexing "+category)
		var res *index.RebuildResult
		err := withRetry(ctx, func() error {
			var rErr error
			res, rErr = cache.RebuildCategory(ctx, category, opts.force)
			return rErr
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
			continue
		}
		results = append(results, res)
	}
	out.Progress(len(categories), len(categories), "done")

	slog.Info("index_completed",
		slog.Int("categories", len(results)),
		slog.Int("failed", len(errs)),
		slog.Duration("duration", time.Since(start)))

	if opts.jsonOut {
		if err := out.JSON(results); err != nil {
			return err
		}
	} else {
		out.Rebuilds(results)
		for _, err := range errs {
			out.Error(err.Error())
		}
	}
	return errors.Join(errs...)
}

func selectCategories(cfg *config.Config, name string) ([]string, error) {
	if name == "" {
		names := make([]string, 0, len(cfg.Data.Categories))
		for _, c := range cfg.Data.Categories {
			names = append(names, c.Name)
		}
		return names, nil
	}
	if _, ok := cfg.Category(name); !ok {
		return nil, carderrors.ValidationError(fmt.Sprintf("unknown category %q", name), nil)
	}
	return []string{name}, nil
}

func dumpPartitions(ctx context.Context, cmd *cobra.Command, cfg *config.Config, categories []string) error {
	st := pipeline.Store(cfg)
	if st == nil {
		return carderrors.ConfigError("no index directory configured", nil)
	}
	for _, category := range categories {
		if !st.Exists(category) {
			output.New(cmd.OutOrStdout()).Warningf("%s is not indexed; run 'cardrag index' first", category)
			continue
		}
		if err := st.Dump(ctx, category, cmd.OutOrStdout()); err != nil {
			return err
		}
	}
	return nil
}

func newIndexesCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List persisted category indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			st := pipeline.Store(cfg)
			if st == nil {
				return carderrors.ConfigError("no index directory configured", nil)
			}
			infos, err := st.List()
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOut {
				return out.JSON(infos)
			}
			out.Partitions(infos)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
