// Package app holds the terminal UI for watching and steering runs.
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"

	"autopilot/internal/fullauto"
)

const watchPollInterval = 2 * time.Second

// RunController is the slice of the daemon client the watch view needs.
type RunController interface {
	ListRuns(ctx context.Context) ([]fullauto.RunSummary, error)
	CancelRun(ctx context.Context, runID string) error
	ResumeRun(ctx context.Context, runID string) error
	DisableRun(ctx context.Context, runID string) error
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	pausedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type runsMsg struct {
	runs []fullauto.RunSummary
}

type watchErrMsg struct {
	err error
}

type pollMsg struct{}

type actionMsg struct {
	status string
	err    error
}

type WatchModel struct {
	controller RunController

	loader  spinner.Model
	runs    []fullauto.RunSummary
	cursor  int
	width   int
	loaded  bool
	status  string
	lastErr error
}

func NewWatchModel(controller RunController) WatchModel {
	loader := spinner.New()
	loader.Spinner = spinner.Line
	return WatchModel{
		controller: controller,
		loader:     loader,
		width:      100,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.loader.Tick, m.fetchRuns())
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.loader, cmd = m.loader.Update(msg)
		return m, cmd
	case runsMsg:
		m.runs = msg.runs
		m.loaded = true
		m.lastErr = nil
		if m.cursor >= len(m.runs) {
			m.cursor = max(0, len(m.runs)-1)
		}
		return m, m.schedulePoll()
	case watchErrMsg:
		m.lastErr = msg.err
		m.loaded = true
		return m, m.schedulePoll()
	case pollMsg:
		return m, m.fetchRuns()
	case actionMsg:
		if msg.err != nil {
			m.status = "error: " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, m.fetchRuns()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.runs)-1 {
			m.cursor++
		}
	case "c":
		if run, ok := m.selectedRun(); ok {
			return m, m.runAction(run.Metadata.RunID, "cancel requested", m.controller.CancelRun)
		}
	case "r":
		if run, ok := m.selectedRun(); ok {
			return m, m.runAction(run.Metadata.RunID, "resume requested", m.controller.ResumeRun)
		}
	case "d":
		if run, ok := m.selectedRun(); ok {
			return m, m.runAction(run.Metadata.RunID, "run disabled", m.controller.DisableRun)
		}
	case "y":
		if run, ok := m.selectedRun(); ok {
			if _, err := copyTextToClipboard(run.Metadata.RunID); err != nil {
				m.status = "copy failed: " + err.Error()
			} else {
				m.status = "copied " + run.Metadata.RunID
			}
		}
	}
	return m, nil
}

func (m WatchModel) selectedRun() (fullauto.RunSummary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.runs) {
		return fullauto.RunSummary{}, false
	}
	return m.runs[m.cursor], true
}

func (m WatchModel) fetchRuns() tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := controller.ListRuns(ctx)
		if err != nil {
			return watchErrMsg{err: err}
		}
		sort.SliceStable(runs, func(i, j int) bool {
			return runs[i].Metadata.StartedAt.After(runs[j].Metadata.StartedAt)
		})
		return runsMsg{runs: runs}
	}
}

func (m WatchModel) schedulePoll() tea.Cmd {
	return tea.Tick(watchPollInterval, func(time.Time) tea.Msg {
		return pollMsg{}
	})
}

func (m WatchModel) runAction(runID, status string, action func(ctx context.Context, runID string) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := action(ctx, runID); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: status}
	}
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("pilot runs"))
	b.WriteString("\n\n")

	if !m.loaded {
		b.WriteString(m.loader.View() + " loading runs...\n")
		return b.String()
	}
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render("daemon unreachable: "+m.lastErr.Error()) + "\n")
	}
	if len(m.runs) == 0 {
		b.WriteString("no runs yet\n")
	} else {
		b.WriteString(headerStyle.Render(m.renderRow("RUN", "STATUS", "TURNS", "TOKENS", "GUARDRAIL", "GOAL")))
		b.WriteString("\n")
		for i, run := range m.runs {
			row := m.renderRow(
				run.Metadata.RunID,
				string(run.Status),
				fmt.Sprintf("%d", run.Metadata.TurnCount),
				fmt.Sprintf("%d", run.Metadata.TokenUsage),
				run.Metadata.LastGuardrailRule,
				run.Metadata.Goal,
			)
			switch {
			case i == m.cursor:
				row = selectedStyle.Render(row)
			case run.Status == fullauto.RunStatusPaused:
				row = pausedStyle.Render(row)
			case run.Status == fullauto.RunStatusRunning:
				row = runningStyle.Render(row)
			default:
				row = stoppedStyle.Render(row)
			}
			b.WriteString(row)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	bar := "j/k move · c cancel · r resume · d disable · y copy id · q quit"
	if m.status != "" {
		bar = m.status + "  ·  " + bar
	}
	b.WriteString(statusBarStyle.Render(bar))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) renderRow(runID, status, turns, tokens, guardrail, goal string) string {
	goalWidth := m.width - 62
	if goalWidth < 10 {
		goalWidth = 10
	}
	return fmt.Sprintf("%s  %s  %s  %s  %s  %s",
		padCell(runID, 16),
		padCell(status, 8),
		padCell(turns, 6),
		padCell(tokens, 9),
		padCell(guardrail, 14),
		runewidth.Truncate(goal, goalWidth, "…"),
	)
}

func padCell(text string, width int) string {
	text = runewidth.Truncate(text, width, "…")
	return text + strings.Repeat(" ", width-runewidth.StringWidth(text))
}
