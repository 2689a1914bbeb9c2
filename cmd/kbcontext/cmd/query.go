package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
)

// queryOptions holds CLI flags for query and keyword.
type queryOptions struct {
	k           int
	keywordOnly bool
	format      string // "text", "json"
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve knowledge base context for a question",
		Long: `Retrieve the chunks most relevant to a question and print them as a
context block.

Semantic search is used when the knowledge base has embeddings and the
embedding provider answers; otherwise keyword matching is used and the
output says why.

Examples:
  kbcontext query "what is linear regression"
  kbcontext query "how does backpropagation work" -k 3
  kbcontext query "gradient descent" --keyword
  kbcontext query "decision trees" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Number of chunks to return (default from config)")
	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword", false, "Use keyword matching only (skip semantic search)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, g *globalOptions, query string, opts queryOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", opts.format)
	}

	cfg, err := loadConfig(g.dir)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, appOptions{keywordOnly: opts.keywordOnly})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	k := cfg.Retrieval.DefaultK
	if cmd.Flags().Changed("k") {
		k = opts.k
	}

	res := a.service.Search(ctx, query, k, opts.keywordOnly)
	slog.Info("query_completed",
		slog.String("status", string(res.Status)),
		slog.String("strategy", res.Strategy),
		slog.Int("result_count", len(res.Items)))

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, strings.TrimRight(retrieval.Format(res), "\n"))
	return err
}
