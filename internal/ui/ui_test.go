package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
	"github.com/Aman-CERP/kbcontext/internal/telemetry"
)

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
	assert.False(t, UseColor(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	assert.True(t, DetectNoColor())
}

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a degraded knowledge base
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)
	info := StatusInfo{
		KBDir:            "data/kb",
		State:            "degraded",
		Reason:           "embedding matrix not found",
		Chunks:           2,
		Malformed:        1,
		Backend:          "flat",
		Keyword:          "scan",
		ChunksSize:       2048,
		EmbedderProvider: "ollama",
		EmbedderModel:    "nomic-embed-text",
	}

	// When: rendered
	require.NoError(t, r.Render(info))

	// Then: state and reason are shown
	out := buf.String()
	assert.Contains(t, out, "Knowledge Base: data/kb")
	assert.Contains(t, out, "State:      degraded")
	assert.Contains(t, out, "embedding matrix not found")
	assert.Contains(t, out, "1 malformed records skipped")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "nomic-embed-text")
}

func TestStatusRenderer_DimensionWarning(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	require.NoError(t, r.Render(StatusInfo{State: "ready", Dimensions: 384, EmbedderDims: 768}))

	assert.Contains(t, buf.String(), "query vectors have 768 dimensions, index has 384")
}

func TestStatusRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, true)

	require.NoError(t, r.RenderJSON(StatusInfo{State: "ready", Chunks: 3}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ready", decoded["state"])
	assert.Equal(t, float64(3), decoded["chunks"])
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
}

func TestBar(t *testing.T) {
	assert.Equal(t, "█████     ", Bar(5, 10, 10))
	assert.Equal(t, "█         ", Bar(1, 1000, 10), "non-zero counts stay visible")
	assert.Equal(t, "   ", Bar(0, 10, 3))
}

func TestStatsRenderer_Render(t *testing.T) {
	// Given: telemetry with a fallback
	var buf bytes.Buffer
	r := NewStatsRenderer(&buf, true)
	info := StatsInfo{
		From:            "2026-01-01",
		To:              "2026-01-07",
		Outcomes:        map[string]int64{"vector": 3, "keyword_fallback": 1},
		FallbackReasons: map[string]int64{"embedding provider timed out": 1},
		Latency:         map[string]int64{"p10": 3, "p500": 1},
		TopTerms:        []telemetry.TermCount{{Term: "regression", Count: 2}},
		Unmatched:       []string{"quantum chromodynamics"},
	}

	// When: rendered
	require.NoError(t, r.Render(info))

	// Then: every section appears
	out := buf.String()
	assert.Contains(t, out, "Queries: 4")
	assert.Contains(t, out, "(75%)")
	assert.Contains(t, out, "embedding provider timed out")
	assert.Contains(t, out, "<10ms")
	assert.Contains(t, out, "regression")
	assert.Contains(t, out, "quantum chromodynamics")
	assert.Less(t, strings.Index(out, "vector"), strings.Index(out, "keyword_fallback"))
}

func TestStatsRenderer_Empty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, NewStatsRenderer(&buf, true).Render(StatsInfo{From: "a", To: "b"}))

	assert.Contains(t, buf.String(), "No queries recorded.")
}

func fakeSearch(calls *[]bool) SearchFunc {
	return func(_ context.Context, query string, keywordOnly bool) retrieval.Result {
		*calls = append(*calls, keywordOnly)
		return retrieval.Result{
			Status:   retrieval.StatusOK,
			Query:    query,
			K:        1,
			Strategy: retrieval.StrategyVector,
			Items: []retrieval.Item{{
				Rank: 1, Course: "ML101", Topics: []string{"regression"},
				Text: "Linear regression models relationships", Score: 0.9,
			}},
			Duration:   2 * time.Millisecond,
			Generation: 1,
		}
	}
}

func TestExploreModel_SearchFlow(t *testing.T) {
	// Given: an explore model with a query typed in
	var calls []bool
	m := newExploreModel(context.Background(), fakeSearch(&calls), NoColorStyles())
	m.input.SetValue("what is regression analysis")

	// When: enter is pressed
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	// Then: a search is in flight
	require.NotNil(t, cmd)
	assert.True(t, m.searching)
	assert.Contains(t, m.View(), "searching")

	// When: the search completes
	msg := m.runSearch("what is regression analysis")()
	m.Update(msg)

	// Then: results are shown
	assert.False(t, m.searching)
	view := m.View()
	assert.Contains(t, view, "1 results via vector")
	assert.Contains(t, view, "Linear regression models relationships")
	assert.Equal(t, []bool{false}, calls)
}

func TestExploreModel_TabTogglesKeywordOnly(t *testing.T) {
	var calls []bool
	m := newExploreModel(context.Background(), fakeSearch(&calls), NoColorStyles())

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.True(t, m.keywordOnly)
	assert.Contains(t, m.View(), "[keyword only]")

	m.runSearch("what is regression analysis")()
	assert.Equal(t, []bool{true}, calls)
}

func TestExploreModel_EmptyInputIgnored(t *testing.T) {
	var calls []bool
	m := newExploreModel(context.Background(), fakeSearch(&calls), NoColorStyles())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.False(t, m.searching)
}

func TestExploreModel_FallbackStatus(t *testing.T) {
	m := newExploreModel(context.Background(), nil, NoColorStyles())

	m.Update(resultMsg(retrieval.Result{
		Status:         retrieval.StatusOK,
		Strategy:       retrieval.StrategyKeyword,
		FallbackReason: "no query embedder configured",
		Items:          []retrieval.Item{{Rank: 1, Course: "ML101", Text: "Neural networks"}},
	}))

	assert.Contains(t, m.View(), "no query embedder configured")
}

func TestExploreModel_Quit(t *testing.T) {
	m := newExploreModel(context.Background(), nil, NoColorStyles())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
