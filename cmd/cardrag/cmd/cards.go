package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/internal/output"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/resolve"
)

func newCardsCmd() *cobra.Command {
	var (
		category string
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List the cards questions can be asked about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			entries, err := resolve.New(pipeline.Roots(cfg)).Available(cmd.Context())
			if err != nil {
				return err
			}
			if category != "" {
				filtered := entries[:0]
				for _, e := range entries {
					if e.Category == category {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOut {
				return out.JSON(entries)
			}
			out.Cards(entries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Only cards of this category")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
