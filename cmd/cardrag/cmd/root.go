// Package cmd provides the CLI commands for cardrag.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/profiling"
	"github.com/Aman-CERP/cardrag/pkg/version"
)

// Persistent flags
var (
	debugMode  bool
	configPath string
	retries    int
)

// Profiling flags
var (
	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the cardrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cardrag",
		Short: "Question answering over credit and check card documents",
		Long: `cardrag answers questions about individual credit and check cards using
only their terms and product documents.

Each question is resolved to one card, answered from that card's fragments
with hybrid (dense + BM25) retrieval, weighted reciprocal rank fusion and
cross-encoder reranking, and optionally rewritten in plain language.

Examples:
  cardrag index
  cardrag ask "Card-X" "연회비는 얼마인가요?"
  cardrag ask "Card-X" "해외 결제 수수료는?" --easy
  cardrag serve`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("cardrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also tees logs to stderr)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .cardrag.yaml in the current directory)")
	cmd.PersistentFlags().IntVar(&retries, "retries", 0, "Retry transient backend failures up to N times")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newCardsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	_ = stopProfilingAndLogging(nil, nil)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, carderrors.FormatForCLI(err))
	}
	return err
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if !profileOpts.Enabled() {
		return nil
	}
	s, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	profileSession = s
	return nil
}

func stopProfilingAndLogging(cmd *cobra.Command, args []string) error {
	err := profileSession.Stop()
	profileSession = nil
	if logErr := stopLogging(cmd, args); logErr != nil && err == nil {
		err = logErr
	}
	return err
}
