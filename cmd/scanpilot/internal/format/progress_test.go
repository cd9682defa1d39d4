package format

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
)

func TestBar(t *testing.T) {
	tests := []struct {
		progress int
		width    int
		want     string
	}{
		{0, 4, "[....]"},
		{50, 4, "[##..]"},
		{100, 4, "[####]"},
		{150, 4, "[####]"},
		{-5, 4, "[....]"},
		{50, 0, ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Bar(tt.progress, tt.width), "progress=%d width=%d", tt.progress, tt.width)
	}
}

func TestProgressPrinter_Lines(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, false, false)
	ts := time.Date(2025, 1, 2, 10, 11, 12, 0, time.UTC)

	p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhaseConnect, Status: orchestrator.StatusCompleted, Message: "2.14.0", Timestamp: ts})
	p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhaseSubmit, Status: orchestrator.StatusCompleted, JobID: "7", Timestamp: ts})
	p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhasePoll, Status: orchestrator.StatusRunning, Progress: 40, Poll: 2, Timestamp: ts})
	p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhaseExport, Status: orchestrator.StatusFailed, Format: "markdown", Message: "no template", Timestamp: ts})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "10:11:12")
	require.Contains(t, lines[0], "connected (server 2.14.0)")
	require.Contains(t, lines[1], "submitted (job 7)")
	require.Contains(t, lines[2], Bar(40, barWidth))
	require.Contains(t, lines[2], " 40%")
	require.Contains(t, lines[2], "poll #2")
	require.Contains(t, lines[3], "failed markdown no template")
}

func TestProgressPrinter_ShowTarget(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, false, true)

	p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhasePoll, Status: orchestrator.StatusCompleted, Target: "https://a.example", Timestamp: time.Now()})
	require.Contains(t, buf.String(), "https://a.example")
	require.Contains(t, buf.String(), "completed")
}

func TestProgressPrinter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, false, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.OnEvent(orchestrator.ProgressEvent{Phase: orchestrator.PhasePoll, Status: orchestrator.StatusRunning, Progress: i * 10, Poll: i, Timestamp: time.Now()})
		}(i)
	}
	wg.Wait()

	require.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 8)
}
