package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes the knowledge base and its embedder.
type StatusInfo struct {
	KBDir      string    `json:"kb_dir"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Chunks     int       `json:"chunks"`
	Malformed  int       `json:"malformed_records"`
	Vectors    int       `json:"vectors"`
	Dimensions int       `json:"dimensions"`
	Backend    string    `json:"backend"`
	Keyword    string    `json:"keyword_mode"`
	Model      string    `json:"model,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`

	// File sizes in bytes. Zero when the file is missing.
	ChunksSize     int64 `json:"chunks_size"`
	EmbeddingsSize int64 `json:"embeddings_size"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model,omitempty"`
	EmbedderDims     int    `json:"embedder_dimensions,omitempty"`
}

// StatusRenderer displays knowledge base status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Knowledge Base: "+info.KBDir))

	_, _ = fmt.Fprintf(r.out, "  State:      %s\n", r.renderState(info.State))
	if info.Reason != "" {
		_, _ = fmt.Fprintf(r.out, "  Reason:     %s\n", info.Reason)
	}
	_, _ = fmt.Fprintf(r.out, "  Chunks:     %d", info.Chunks)
	if info.Malformed > 0 {
		_, _ = fmt.Fprint(r.out, r.styles.Warning.Render(fmt.Sprintf(" (%d malformed records skipped)", info.Malformed)))
	}
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  Vectors:    %d x %d (%s)\n", info.Vectors, info.Dimensions, info.Backend)
	_, _ = fmt.Fprintf(r.out, "  Keyword:    %s\n", info.Keyword)
	if info.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  Built with: %s\n", info.Model)
	}
	if !info.LoadedAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Loaded:     %s\n", formatTime(info.LoadedAt))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Files:")
	_, _ = fmt.Fprintf(r.out, "    Chunks:     %s\n", FormatBytes(info.ChunksSize))
	_, _ = fmt.Fprintf(r.out, "    Embeddings: %s\n", FormatBytes(info.EmbeddingsSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Provider: %s\n", info.EmbedderProvider)
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:    %s\n", info.EmbedderModel)
	}
	if info.EmbedderDims > 0 && info.Dimensions > 0 && info.EmbedderDims != info.Dimensions {
		_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render(fmt.Sprintf(
			"query vectors have %d dimensions, index has %d; queries will use keyword search",
			info.EmbedderDims, info.Dimensions)))
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "ready":
		return r.styles.Success.Render(state)
	case "degraded":
		return r.styles.Warning.Render(state)
	case "unavailable":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
