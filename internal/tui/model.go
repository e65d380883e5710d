package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"imgbatch/internal/progress"
)

const (
	defaultBarWidth = 40
	maxBarWidth     = 60
	minBarWidth     = 20
)

// Model renders a running batch from a stream of progress states. The
// program quits when the stream is closed.
type Model struct {
	updates  <-chan progress.State
	title    string
	started  time.Time
	width    int
	state    progress.State
	quitting bool
}

type doneMsg struct{}

type stateMsg progress.State

func NewModel(title string, updates <-chan progress.State) Model {
	return Model{updates: updates, title: title, started: time.Now(), state: progress.Idle()}
}

// State is the last progress state received.
func (m Model) State() progress.State { return m.state }

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = progress.State(msg)
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := defaultBarWidth
	if m.width > 0 {
		barWidth = min(maxBarWidth, m.width-10)
		barWidth = max(barWidth, minBarWidth)
	}

	status := labelStyle.Render(m.state.Status)
	switch {
	case m.state.Failed:
		status = errorStyle.Render(m.state.Status)
	case m.state.Terminal:
		status = successStyle.Render(m.state.Status)
	}

	lines := []string{
		titleStyle.Render(m.title),
		barStyle.Render(renderBar(barWidth, m.state.Percent()/100)) + " " +
			labelStyle.Render(fmt.Sprintf("%3.0f%%", m.state.Percent())),
		labelStyle.Render("Files: "+m.state.Counter()) +
			dimStyle.Render(fmt.Sprintf("  elapsed: %s", time.Since(m.started).Round(time.Millisecond))),
		status,
	}
	return strings.Join(lines, "\n")
}

func listenForUpdates(updates <-chan progress.State) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return stateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
