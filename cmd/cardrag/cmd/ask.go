package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/output"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
)

type askOptions struct {
	easy    bool
	topK    int
	jsonOut bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <card> <question>",
		Short: "Answer a question about one card",
		Long: `Answer a question about one card from its documents.

The card name is matched fuzzily against the card files of every category.
When the card is missing from its category index it is indexed on the fly.

Examples:
  cardrag ask "Card-X" "연회비는 얼마인가요?"
  cardrag ask "card x" "해외 결제 수수료는?" --easy
  cardrag ask "Card-X" "교통 할인 조건" --top-k 5 --json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return runAsk(cmd.Context(), cmd, args[0], question, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.easy, "easy", false, "Add a plain-language rewrite of the answer")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of reranked fragments used as context (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output the result as JSON")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, card, question string, opts askOptions) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	p, err := openEngine(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	req := pipeline.Request{
		EntityName:  card,
		Question:    question,
		ExplainEasy: opts.easy,
		TopK:        opts.topK,
	}

	var res *pipeline.Result
	err = withRetry(ctx, func() error {
		var qErr error
		res, qErr = p.ResolveAndQuery(ctx, req)
		return qErr
	})

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOut {
		if res != nil {
			if jErr := out.JSON(res); jErr != nil {
				return jErr
			}
		} else if err != nil {
			data, jErr := carderrors.FormatJSON(err)
			if jErr != nil {
				return jErr
			}
			_, _ = cmd.OutOrStdout().Write(append(data, '\n'))
		}
		return err
	}

	if res != nil {
		out.Answer(res)
	}
	return err
}
