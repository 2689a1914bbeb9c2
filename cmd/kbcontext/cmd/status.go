package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbcontext/internal/ui"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base health",
		Long: `Load the knowledge base and report whether retrieval is ready,
degraded to keyword matching, or unavailable, and why.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, g, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, g *globalOptions, jsonOutput bool) error {
	cfg, err := loadConfig(g.dir)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sum := a.service.Current().Summary()
	info := ui.StatusInfo{
		KBDir:            cfg.KBDir(),
		State:            sum.State,
		Reason:           sum.Reason,
		Chunks:           sum.Chunks,
		Malformed:        sum.Malformed,
		Vectors:          sum.Vectors,
		Dimensions:       sum.Dimensions,
		Backend:          sum.Backend,
		Keyword:          sum.Keyword,
		Model:            sum.Model,
		LoadedAt:         sum.LoadedAt,
		ChunksSize:       fileSize(cfg.ChunksPath()),
		EmbeddingsSize:   fileSize(cfg.EmbeddingsPath()),
		EmbedderProvider: cfg.Embeddings.Provider,
	}
	if a.embedder != nil {
		info.EmbedderModel = a.embedder.ModelName()
		info.EmbedderDims = a.embedder.Dimensions()
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), !g.useColor(cmd))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
