package cmd

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/cardrag/internal/mcp"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/watcher"
)

type serveOptions struct {
	transport string
	addr      string
	watch     bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server exposing ask_card, search_cards, list_cards,
rebuild_indexes and clear_cache.

With the stdio transport stdout carries only JSON-RPC; logs go to the log file.
The http transport also serves Prometheus metrics at /metrics.

Examples:
  cardrag serve
  cardrag serve --transport http --addr :8765 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Rebuild indexes and clear caches when card files change")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := openEngine(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	srv, err := mcp.NewServer(p, mcp.WithMetrics(reg))
	if err != nil {
		return err
	}

	if !opts.watch {
		return srv.Serve(ctx, opts.transport, opts.addr)
	}

	w, err := watcher.New(pipeline.Roots(cfg), watcher.Options{DebounceWindow: cfg.WatchDebounceDuration()})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx, opts.transport, opts.addr)
	})
	g.Go(func() error {
		err := watcher.Run(gctx, w, watcher.Chain(
			watcher.ClearOnChange(p),
			watcher.RebuildOnChange(p.Cache()),
		))
		if err != nil {
			slog.Warn("watch_disabled", slog.String("error", err.Error()))
		}
		return nil
	})
	return g.Wait()
}
