package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
	"github.com/Aman-CERP/kbcontext/internal/ui"
)

func newExploreCmd(g *globalOptions) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Interactively query the knowledge base",
		Long: `Open a terminal view for trying questions against the knowledge base.
Press tab to switch between semantic and keyword-only retrieval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !ui.IsTTY(cmd.OutOrStdout()) {
				return fmt.Errorf("explore needs an interactive terminal; use 'kbcontext query' instead")
			}

			cfg, err := loadConfig(g.dir)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if !cmd.Flags().Changed("k") {
				k = cfg.Retrieval.DefaultK
			}
			search := func(ctx context.Context, query string, keywordOnly bool) retrieval.Result {
				return a.service.Search(ctx, query, k, keywordOnly)
			}
			return ui.RunExplore(cmd.Context(), search, cmd.OutOrStdout(), !g.useColor(cmd))
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks per query (default from config)")
	return cmd
}
