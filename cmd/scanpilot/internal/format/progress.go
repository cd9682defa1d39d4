package format

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
)

const barWidth = 24

// ProgressPrinter writes one line per run event. It is safe to share between
// concurrent runs; lines are prefixed with the target when more than one
// target is in flight.
type ProgressPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	showTarget bool

	title   lipgloss.Style
	subtle  lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	bar     lipgloss.Style
}

var _ orchestrator.ProgressSink = (*ProgressPrinter)(nil)

// NewProgressPrinter returns a printer writing to w. Colors follow the
// terminal capabilities of w and are dropped entirely when color is false.
func NewProgressPrinter(w io.Writer, color, showTarget bool) *ProgressPrinter {
	r := lipgloss.NewRenderer(w)
	p := &ProgressPrinter{
		w:          w,
		showTarget: showTarget,
		title:      r.NewStyle(),
		subtle:     r.NewStyle(),
		success:    r.NewStyle(),
		warn:       r.NewStyle(),
		failure:    r.NewStyle(),
		bar:        r.NewStyle(),
	}
	if color {
		p.title = p.title.Bold(true).Foreground(lipgloss.Color("170"))
		p.subtle = p.subtle.Foreground(lipgloss.Color("240"))
		p.success = p.success.Foreground(lipgloss.Color("42"))
		p.warn = p.warn.Foreground(lipgloss.Color("214"))
		p.failure = p.failure.Foreground(lipgloss.Color("203")).Bold(true)
		p.bar = p.bar.Foreground(lipgloss.Color("75"))
	}
	return p
}

// OnEvent renders ev.
func (p *ProgressPrinter) OnEvent(ev orchestrator.ProgressEvent) {
	line := p.render(ev)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

func (p *ProgressPrinter) render(ev orchestrator.ProgressEvent) string {
	var b strings.Builder
	b.WriteString(p.subtle.Render(ev.Timestamp.Format(time.TimeOnly)))
	b.WriteByte(' ')
	if p.showTarget && ev.Target != "" {
		b.WriteString(p.title.Render(ev.Target))
		b.WriteByte(' ')
	}
	b.WriteString(p.title.Render(fmt.Sprintf("%-7s", ev.Phase)))
	b.WriteByte(' ')

	switch {
	case ev.Phase == orchestrator.PhaseConnect && ev.Status == orchestrator.StatusCompleted:
		b.WriteString(p.success.Render("connected"))
		if ev.Message != "" {
			b.WriteString(p.subtle.Render(" (server " + ev.Message + ")"))
		}
	case ev.Phase == orchestrator.PhaseSubmit && ev.Status == orchestrator.StatusCompleted:
		b.WriteString(p.success.Render("submitted"))
		if ev.JobID != "" {
			b.WriteString(p.subtle.Render(" (job " + string(ev.JobID) + ")"))
		}
	case ev.Phase == orchestrator.PhasePoll && ev.Status == orchestrator.StatusRunning:
		b.WriteString(p.bar.Render(Bar(ev.Progress, barWidth)))
		b.WriteString(fmt.Sprintf(" %3d%%", clampPercent(ev.Progress)))
		b.WriteString(p.subtle.Render(fmt.Sprintf(" poll #%d", ev.Poll)))
	case ev.Phase == orchestrator.PhaseExport && ev.Format != "":
		b.WriteString(p.styleFor(ev.Status).Render(ev.Status))
		b.WriteString(" " + ev.Format)
		if ev.Message != "" {
			b.WriteString(p.subtle.Render(" " + ev.Message))
		}
	default:
		b.WriteString(p.styleFor(ev.Status).Render(ev.Status))
		if ev.Message != "" {
			b.WriteString(" " + ev.Message)
		}
	}
	return b.String()
}

func (p *ProgressPrinter) styleFor(status string) lipgloss.Style {
	switch status {
	case orchestrator.StatusCompleted:
		return p.success
	case orchestrator.StatusFailed:
		return p.failure
	case orchestrator.StatusTimeout, orchestrator.StatusCancelled:
		return p.warn
	default:
		return p.subtle
	}
}

// Bar draws a fixed-width progress bar for a percentage.
func Bar(progress, width int) string {
	if width <= 0 {
		return ""
	}
	filled := clampPercent(progress) * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
