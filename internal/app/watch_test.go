package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"autopilot/internal/fullauto"
)

type fakeController struct {
	mu       sync.Mutex
	runs     []fullauto.RunSummary
	actions  []string
	listErr  error
	lastSeen string
}

func (f *fakeController) ListRuns(_ context.Context) ([]fullauto.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]fullauto.RunSummary(nil), f.runs...), nil
}

func (f *fakeController) CancelRun(_ context.Context, runID string) error {
	f.record("cancel", runID)
	return nil
}

func (f *fakeController) ResumeRun(_ context.Context, runID string) error {
	f.record("resume", runID)
	return nil
}

func (f *fakeController) DisableRun(_ context.Context, runID string) error {
	f.record("disable", runID)
	return nil
}

func (f *fakeController) record(action, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	f.lastSeen = runID
}

func summaries(ids ...string) []fullauto.RunSummary {
	out := make([]fullauto.RunSummary, 0, len(ids))
	for i, id := range ids {
		out = append(out, fullauto.RunSummary{
			Status: fullauto.RunStatusRunning,
			Metadata: fullauto.RunMetadata{
				RunID:     id,
				Goal:      "goal for " + id,
				StartedAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
				Status:    fullauto.RunStatusRunning,
			},
		})
	}
	return out
}

func TestWatchModelShowsRuns(t *testing.T) {
	model := NewWatchModel(&fakeController{})
	updated, _ := model.Update(runsMsg{runs: summaries("run-a", "run-b")})
	view := updated.View()
	if !strings.Contains(view, "run-a") || !strings.Contains(view, "run-b") {
		t.Fatalf("view missing runs:\n%s", view)
	}
	if !strings.Contains(view, "goal for run-a") {
		t.Fatalf("view missing goal:\n%s", view)
	}
}

func TestWatchModelNavigation(t *testing.T) {
	model := NewWatchModel(&fakeController{})
	updated, _ := model.Update(runsMsg{runs: summaries("run-a", "run-b", "run-c")})
	m := updated.(WatchModel)
	if m.cursor != 0 {
		t.Fatalf("cursor = %d", m.cursor)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = updated.(WatchModel)
	if m.cursor != 1 {
		t.Fatalf("cursor after j = %d", m.cursor)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	m = updated.(WatchModel)
	if m.cursor != 0 {
		t.Fatalf("cursor after k = %d", m.cursor)
	}

	// Cursor never moves above the first row.
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	m = updated.(WatchModel)
	if m.cursor != 0 {
		t.Fatalf("cursor clamped = %d", m.cursor)
	}
}

func TestWatchModelActionTargetsSelection(t *testing.T) {
	controller := &fakeController{}
	model := NewWatchModel(controller)
	updated, _ := model.Update(runsMsg{runs: summaries("run-a", "run-b")})
	m := updated.(WatchModel)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = updated.(WatchModel)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if cmd == nil {
		t.Fatalf("cancel key produced no command")
	}
	if msg := cmd(); msg == nil {
		t.Fatalf("cancel command produced no message")
	}
	if controller.lastSeen != "run-b" {
		t.Fatalf("action targeted %q", controller.lastSeen)
	}
	if len(controller.actions) != 1 || controller.actions[0] != "cancel" {
		t.Fatalf("actions = %v", controller.actions)
	}
}

func TestWatchModelCursorClampAfterShrink(t *testing.T) {
	model := NewWatchModel(&fakeController{})
	updated, _ := model.Update(runsMsg{runs: summaries("run-a", "run-b", "run-c")})
	m := updated.(WatchModel)
	m.cursor = 2
	updated, _ = m.Update(runsMsg{runs: summaries("run-a")})
	m = updated.(WatchModel)
	if m.cursor != 0 {
		t.Fatalf("cursor = %d after shrink", m.cursor)
	}
}

func TestWatchModelErrorShown(t *testing.T) {
	model := NewWatchModel(&fakeController{})
	updated, _ := model.Update(watchErrMsg{err: context.DeadlineExceeded})
	view := updated.View()
	if !strings.Contains(view, "daemon unreachable") {
		t.Fatalf("view missing error:\n%s", view)
	}
}
