package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/internal/output"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild category indexes when card files change",
		Long: `Watch the category directories and force-rebuild the persisted index of
every category whose card files change. Runs until interrupted.

A running MCP server picks up rebuilt indexes only after clear_cache or a
restart; use 'cardrag serve --watch' to do both in one process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	cache, closeEmbedder, err := pipeline.NewCacheFromConfig(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = closeEmbedder() }()

	w, err := watcher.New(pipeline.Roots(cfg), watcher.Options{DebounceWindow: cfg.WatchDebounceDuration()})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("👀", "Watching %d categories (Ctrl+C to stop)", len(cfg.Data.Categories))

	rebuild := watcher.RebuildOnChange(cache)
	err = watcher.Run(ctx, w, func(ctx context.Context, batch []watcher.FileEvent) error {
		for _, category := range watcher.Categories(batch) {
			out.Statusf("🔄", "%s changed, rebuilding", category)
		}
		return rebuild(ctx, batch)
	})
	slog.Info("watch_stopped")
	return err
}
