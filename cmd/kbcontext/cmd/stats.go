package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbcontext/internal/telemetry"
	"github.com/Aman-CERP/kbcontext/internal/ui"
)

func newStatsCmd(g *globalOptions) *cobra.Command {
	var days int
	var top int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show retrieval statistics",
		Long: `Show how queries were answered over recent days: semantic versus
keyword fallback, why semantic search was skipped, latency, frequent
terms, and queries that matched nothing.

Statistics are collected only when telemetry.enabled is true.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}
			cfg, err := loadConfig(g.dir)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Telemetry.Path); errors.Is(err, os.ErrNotExist) {
				_, err := fmt.Fprintf(cmd.OutOrStdout(),
					"No telemetry recorded at %s. Set telemetry.enabled: true in .kbcontext.yaml.\n", cfg.Telemetry.Path)
				return err
			}

			store, err := telemetry.OpenStore(cfg.Telemetry.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info, err := collectStats(store, time.Now(), days, top)
			if err != nil {
				return err
			}

			r := ui.NewStatsRenderer(cmd.OutOrStdout(), !g.useColor(cmd))
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&top, "top", 10, "Number of top terms and unmatched queries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output stats as JSON")
	return cmd
}

// collectStats reads the last days days, ending at now, from store.
func collectStats(store *telemetry.SQLiteStore, now time.Time, days, top int) (ui.StatsInfo, error) {
	const layout = "2006-01-02"
	info := ui.StatsInfo{
		From: now.AddDate(0, 0, -(days - 1)).Format(layout),
		To:   now.Format(layout),
	}

	var err error
	if info.Outcomes, err = store.Counts(telemetry.KindOutcome, info.From, info.To); err != nil {
		return info, err
	}
	if info.Statuses, err = store.Counts(telemetry.KindStatus, info.From, info.To); err != nil {
		return info, err
	}
	if info.FallbackReasons, err = store.Counts(telemetry.KindFallback, info.From, info.To); err != nil {
		return info, err
	}
	if info.Latency, err = store.Counts(telemetry.KindLatency, info.From, info.To); err != nil {
		return info, err
	}
	if info.TopTerms, err = store.TopTerms(top); err != nil {
		return info, err
	}
	if info.Unmatched, err = store.UnmatchedQueries(top); err != nil {
		return info, err
	}
	return info, nil
}
