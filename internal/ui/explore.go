package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
)

// SearchFunc runs one retrieval.
type SearchFunc func(ctx context.Context, query string, keywordOnly bool) retrieval.Result

// resultMsg carries a finished search back to the model.
type resultMsg retrieval.Result

type exploreModel struct {
	ctx    context.Context
	search SearchFunc
	styles Styles

	input   textinput.Model
	results viewport.Model
	spinner spinner.Model

	keywordOnly bool
	searching   bool
	last        *retrieval.Result
	width       int
	height      int
}

func newExploreModel(ctx context.Context, search SearchFunc, styles Styles) *exploreModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about the course material"
	ti.Prompt = "> "
	ti.CharLimit = 500
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Success

	return &exploreModel{
		ctx:     ctx,
		search:  search,
		styles:  styles,
		input:   ti,
		results: viewport.New(80, 18),
		spinner: s,
		width:   80,
		height:  24,
	}
}

// Init implements tea.Model.
func (m *exploreModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.keywordOnly = !m.keywordOnly
			return m, nil
		case tea.KeyEnter:
			query := strings.TrimSpace(m.input.Value())
			if query == "" || m.searching {
				return m, nil
			}
			m.searching = true
			return m, tea.Batch(m.spinner.Tick, m.runSearch(query))
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.results, cmd = m.results.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.results.Width = max(msg.Width-2, 20)
		m.results.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case resultMsg:
		res := retrieval.Result(msg)
		m.searching = false
		m.last = &res
		m.results.SetContent(m.renderResult(res))
		m.results.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if !m.searching {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *exploreModel) runSearch(query string) tea.Cmd {
	keywordOnly := m.keywordOnly
	return func() tea.Msg {
		return resultMsg(m.search(m.ctx, query, keywordOnly))
	}
}

// View implements tea.Model.
func (m *exploreModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Header.Render("kbcontext explore"))
	b.WriteString("  ")
	mode := "semantic"
	if m.keywordOnly {
		mode = "keyword only"
	}
	b.WriteString(m.styles.Label.Render(fmt.Sprintf("[%s] tab: toggle mode  esc: quit", mode)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.results.View())
	return b.String()
}

func (m *exploreModel) statusLine() string {
	if m.searching {
		return m.spinner.View() + " searching..."
	}
	if m.last == nil {
		return m.styles.Dim.Render("enter a question and press enter")
	}

	res := m.last
	if res.Status != retrieval.StatusOK {
		return m.styles.Warning.Render(string(res.Status))
	}
	line := fmt.Sprintf("%d results via %s in %s (generation %d)",
		len(res.Items), res.Strategy, res.Duration.Round(100*time.Microsecond), res.Generation)
	if res.FallbackReason != "" {
		return m.styles.Warning.Render(line + ": " + res.FallbackReason)
	}
	return m.styles.Success.Render(line)
}

// renderResult styles the formatted context block.
func (m *exploreModel) renderResult(res retrieval.Result) string {
	lines := strings.Split(retrieval.Format(res), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "### "):
			lines[i] = m.styles.Header.Render(line)
		case strings.HasPrefix(line, "_"):
			lines[i] = m.styles.Warning.Render(line)
		case strings.HasPrefix(line, "**"):
			lines[i] = m.styles.Label.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// RunExplore runs the interactive explore view until the user quits or ctx
// ends.
func RunExplore(ctx context.Context, search SearchFunc, out io.Writer, noColor bool) error {
	model := newExploreModel(ctx, search, GetStyles(noColor))
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(out), tea.WithAltScreen()}
	_, err := tea.NewProgram(model, opts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
