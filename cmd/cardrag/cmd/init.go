package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/configs"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/output"
)

const projectConfigName = ".cardrag.yaml"

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter .cardrag.yaml",
		Long: `Write a commented .cardrag.yaml with the default categories, models and
retrieval settings into dir (default: the current directory).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, projectConfigName)
			out := output.New(cmd.OutOrStdout())

			if _, err := os.Stat(path); err == nil && !force {
				return carderrors.ConfigError(fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("Use --force to overwrite it")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return err
			}
			out.Successf("Wrote %s", path)
			out.Status("", "Put card JSON files under data/credit and data/check, then run 'cardrag index'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
