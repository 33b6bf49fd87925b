package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/internal/output"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
)

type searchOptions struct {
	scope   string
	topK    int
	jsonOut bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Search fragments across a whole category",
		Long: `Search document fragments across every card of a category, or of all
categories, without generating an answer.

Examples:
  cardrag search "공항 라운지"
  cardrag search "교통 할인" --scope check --top-k 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.scope, "scope", "s", pipeline.ScopeAll, "Category to search, or \"all\"")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 10, "Maximum number of fragments")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, question string, opts searchOptions) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	p, err := openEngine(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	var res *pipeline.SearchResult
	err = withRetry(ctx, func() error {
		var sErr error
		res, sErr = p.SearchCategory(ctx, opts.scope, question, opts.topK)
		return sErr
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOut {
		return out.JSON(res)
	}
	if len(res.Candidates) == 0 {
		out.Warningf("No fragments found in %s", strings.Join(res.Categories, ", "))
		return nil
	}
	out.Statusf("🔍", "%d fragments from %s", len(res.Candidates), strings.Join(res.Categories, ", "))
	out.Sources(res.Candidates)
	return nil
}
