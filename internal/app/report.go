package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	xansi "github.com/charmbracelet/x/ansi"

	"autopilot/internal/fullauto"
)

var (
	rendererMu       sync.Mutex
	renderersByWidth = map[int]*glamour.TermRenderer{}
)

// BuildRunReport assembles a markdown summary of one run from its
// metadata and replayed decision log.
func BuildRunReport(summary fullauto.RunSummary, entries []fullauto.DecisionLogEntry) string {
	var b strings.Builder
	meta := summary.Metadata

	fmt.Fprintf(&b, "# Run %s\n\n", meta.RunID)
	if meta.Goal != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n\n", meta.Goal)
	}
	fmt.Fprintf(&b, "- Status: `%s`\n", summary.Status)
	fmt.Fprintf(&b, "- Started: %s\n", meta.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if meta.StoppedAt != nil {
		fmt.Fprintf(&b, "- Stopped: %s\n", meta.StoppedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if meta.TerminationReason != "" {
		fmt.Fprintf(&b, "- Termination: `%s`\n", meta.TerminationReason)
	}
	fmt.Fprintf(&b, "- Turns: %d\n", meta.TurnCount)
	fmt.Fprintf(&b, "- Tokens: %d\n", meta.TokenUsage)
	fmt.Fprintf(&b, "- Budget: max %d turns, min confidence %.2f\n",
		meta.ConfigSnapshot.MaxTurns, meta.ConfigSnapshot.MinConfidence)

	if len(entries) > 0 {
		b.WriteString("\n## Decisions\n\n")
		b.WriteString("| Turn | Action | Final | Confidence | Guardrail | Reason |\n")
		b.WriteString("|------|--------|-------|------------|-----------|--------|\n")
		for _, entry := range entries {
			guardrail := "-"
			if entry.Enforced.GuardrailTriggered {
				guardrail = string(entry.Enforced.GuardrailRule)
			}
			reason := strings.ReplaceAll(entry.Decision.Reason, "|", "/")
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %.2f | %s | %s |\n",
				entry.Turn,
				entry.Decision.Action,
				entry.Enforced.FinalAction,
				entry.Decision.Confidence,
				guardrail,
				reason,
			)
		}
	}

	malformed := 0
	for _, entry := range entries {
		if !entry.Diagnostics.Clean() {
			malformed++
		}
	}
	if malformed > 0 {
		fmt.Fprintf(&b, "\n%d of %d decisions needed fail-safe parsing.\n", malformed, len(entries))
	}
	return b.String()
}

// RenderRunReport renders report markdown for the terminal. Falls back
// to the raw markdown when no renderer is available.
func RenderRunReport(markdown string, width int) string {
	markdown = strings.TrimRight(markdown, "\n")
	if markdown == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	r := getRenderer(width)
	if r == nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	out = strings.TrimRight(out, "\n")
	out = xansi.Hardwrap(out, width, true)
	return strings.TrimRight(out, "\n")
}

func getRenderer(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if renderer, ok := renderersByWidth[width]; ok && renderer != nil {
		return renderer
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	renderersByWidth[width] = r
	return r
}
