package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary formats a finished run for the terminal.
func renderSummary(done schemas.FillDone) string {
	var b strings.Builder

	state := okStyle.Render(string(done.FinalState))
	if done.FinalState == schemas.StateAborted {
		state = errStyle.Render(fmt.Sprintf("%s (%s)", done.FinalState, done.AbortReason))
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), done.RunID)
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("State"), state)
	if done.Platform != "" {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Platform"), done.Platform)
	}

	var filled, skipped int
	for _, r := range done.StepReports {
		filled += r.Filled
		skipped += r.Skipped
		line := fmt.Sprintf("step %d: %d detected, %d filled", r.Index+1, r.Detected, r.Filled)
		if r.Partial > 0 {
			line += fmt.Sprintf(" (%d partial)", r.Partial)
		}
		if r.Skipped > 0 {
			line += warnStyle.Render(fmt.Sprintf(", %d skipped [%s]", r.Skipped, formatReasons(r.SkipReasons)))
		}
		b.WriteString(line + "\n")
		if r.PageError != "" {
			b.WriteString(errStyle.Render("  page error: "+r.PageError) + "\n")
		}
	}
	fmt.Fprintf(&b, "%s %d filled, %d skipped", titleStyle.Render("Total"), filled, skipped)
	if done.FinalState == schemas.StateDone {
		b.WriteString("\n" + dimStyle.Render("Review the form and submit it yourself."))
	}
	return summaryStyle.Render(b.String())
}

func formatReasons(reasons map[schemas.Reason]int) string {
	parts := make([]string, 0, len(reasons))
	for reason, n := range reasons {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// progressPrinter writes one line per processed field.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) Progress(ev schemas.FillProgress) {
	mark := okStyle.Render("✓")
	switch ev.Outcome {
	case schemas.OutcomeFilledPartial:
		mark = warnStyle.Render("~")
	case schemas.OutcomeSkipped:
		mark = dimStyle.Render("-")
	}
	line := fmt.Sprintf("%s [%d] %s", mark, ev.StepIndex+1, ev.FieldLabel)
	if ev.Reason != "" {
		line += dimStyle.Render(" (" + string(ev.Reason) + ")")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) Done(schemas.FillDone) {}
