package ui

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Aman-CERP/kbcontext/internal/telemetry"
)

// StatsInfo is retrieval telemetry over a date range.
type StatsInfo struct {
	From            string                `json:"from"`
	To              string                `json:"to"`
	Outcomes        map[string]int64      `json:"outcomes"`
	Statuses        map[string]int64      `json:"statuses"`
	FallbackReasons map[string]int64      `json:"fallback_reasons"`
	Latency         map[string]int64      `json:"latency"`
	TopTerms        []telemetry.TermCount `json:"top_terms"`
	Unmatched       []string              `json:"unmatched_queries"`
}

// latencyOrder lists histogram buckets fastest first.
var latencyOrder = []telemetry.LatencyBucket{
	telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000,
}

var latencyLabels = map[telemetry.LatencyBucket]string{
	telemetry.BucketP10:   "<10ms",
	telemetry.BucketP50:   "10-50ms",
	telemetry.BucketP100:  "50-100ms",
	telemetry.BucketP500:  "100-500ms",
	telemetry.BucketP1000: ">=500ms",
}

const barWidth = 30

// StatsRenderer displays retrieval telemetry.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays stats.
func (r *StatsRenderer) Render(info StatsInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("Retrieval Stats: %s to %s", info.From, info.To)))

	total := sum(info.Outcomes)
	if total == 0 {
		_, _ = fmt.Fprintln(r.out, "  No queries recorded.")
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  Queries: %d\n\n", total)

	_, _ = fmt.Fprintln(r.out, "  Answered by:")
	r.renderCounts(info.Outcomes, total)

	if len(info.FallbackReasons) > 0 {
		_, _ = fmt.Fprintln(r.out, "\n  Fallback reasons:")
		r.renderCounts(info.FallbackReasons, sum(info.FallbackReasons))
	}

	if len(info.Latency) > 0 {
		_, _ = fmt.Fprintln(r.out, "\n  Latency:")
		peak := int64(0)
		for _, n := range info.Latency {
			peak = max(peak, n)
		}
		for _, b := range latencyOrder {
			n := info.Latency[string(b)]
			_, _ = fmt.Fprintf(r.out, "    %-10s %s %d\n", latencyLabels[b], r.styles.Bar.Render(Bar(n, peak, barWidth)), n)
		}
	}

	if len(info.TopTerms) > 0 {
		_, _ = fmt.Fprintln(r.out, "\n  Top terms:")
		for _, tc := range info.TopTerms {
			_, _ = fmt.Fprintf(r.out, "    %-20s %d\n", tc.Term, tc.Count)
		}
	}

	if len(info.Unmatched) > 0 {
		_, _ = fmt.Fprintln(r.out, "\n  Queries without keyword matches:")
		for _, q := range info.Unmatched {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render(q))
		}
	}
	return nil
}

// RenderJSON outputs stats as JSON.
func (r *StatsRenderer) RenderJSON(info StatsInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderCounts prints counts largest first with their share of total.
func (r *StatsRenderer) renderCounts(counts map[string]int64, total int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	for _, k := range keys {
		pct := float64(counts[k]) / float64(total) * 100
		_, _ = fmt.Fprintf(r.out, "    %-40s %6d %s\n", k, counts[k], r.styles.Label.Render(fmt.Sprintf("(%.0f%%)", pct)))
	}
}

// Bar renders n as a horizontal bar scaled so that peak fills width.
func Bar(n, peak int64, width int) string {
	if peak <= 0 || n <= 0 || width <= 0 {
		return strings.Repeat(" ", max(width, 0))
	}
	filled := int(float64(n) / float64(peak) * float64(width))
	if filled == 0 {
		filled = 1
	}
	return strings.Repeat("█", filled) + strings.Repeat(" ", width-filled)
}

func sum(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}
